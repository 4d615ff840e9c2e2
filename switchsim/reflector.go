package switchsim

import (
	"context"
	"errors"
	"net"

	"github.com/pintlab/recirc/logging"
	"github.com/pintlab/recirc/wire"
)

// Reflector is a UDP stand-in for the wire path through the switch:
// every datagram it receives gets one emulated pass and the result is
// sent back to the datagram's source. Datagrams carry the link-less
// wire image (IPv4 header plus trailer).
type Reflector struct {
	layout wire.Layout
	conn   *net.UDPConn
}

// NewReflector binds a UDP socket on addr. Tests may pass a ":0"
// address and read the bound port back with Addr.
func NewReflector(addr string, layout wire.Layout) (*Reflector, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	return &Reflector{layout: layout, conn: conn}, nil
}

// Addr returns the bound socket address.
func (r *Reflector) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Serve reflects datagrams until ctx is canceled. Read and write
// failures are logged and the loop continues, matching the device's
// indifference to individual lost frames.
func (r *Reflector) Serve(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, 2048)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Logger.WithError(err).Warn("reflector: read failed")
			continue
		}
		out, ok := Pass(buf[:n], r.layout)
		if !ok {
			logging.Logger.WithField("bytes", n).Debug("reflector: dropping frame")
			continue
		}
		if _, err := r.conn.WriteToUDP(out, src); err != nil {
			logging.Logger.WithError(err).Warn("reflector: write failed")
		}
	}
}

// Close releases the socket. Serve returns after Close.
func (r *Reflector) Close() error {
	return r.conn.Close()
}
