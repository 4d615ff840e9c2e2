package rawnet

import (
	"fmt"
	"net"
	"time"

	"github.com/pintlab/recirc/wire"
)

// readDeadline bounds a blocked UDP receive so the drain loop can
// observe cancellation.
const readDeadline = time.Second

// udpTransport speaks to the software switch over a connected UDP
// socket. The simulator only sees the IPv4 image, so Send strips the
// link header and Receive synthesizes one; the rest of the host is
// none the wiser.
type udpTransport struct {
	conn      *net.UDPConn
	hostMAC   net.HardwareAddr
	switchMAC net.HardwareAddr
}

// NewUDP dials the simulator at addr. Received frames carry a
// synthetic link header addressed switchMAC -> hostMAC.
func NewUDP(addr string, hostMAC, switchMAC net.HardwareAddr) (Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rawnet: bad simulator address %q: %v", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("rawnet: could not dial the simulator: %v", err)
	}
	return &udpTransport{conn: conn, hostMAC: hostMAC, switchMAC: switchMAC}, nil
}

func (t *udpTransport) Send(frame []byte) error {
	if len(frame) < wire.EthernetSize {
		return fmt.Errorf("rawnet: frame too short to carry a link header (%d bytes)", len(frame))
	}
	_, err := t.conn.Write(frame[wire.EthernetSize:])
	return err
}

func (t *udpTransport) Receive() ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return nil, err
	}
	buf := make([]byte, 2048)
	n, err := t.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, wire.EthernetSize+n)
	copy(frame, t.hostMAC)
	copy(frame[6:], t.switchMAC)
	frame[12] = byte(wire.EtherTypeIPv4 >> 8)
	frame[13] = byte(wire.EtherTypeIPv4 & 0xff)
	copy(frame[wire.EthernetSize:], buf[:n])
	return frame, nil
}

func (t *udpTransport) Close() error {
	return t.conn.Close()
}
