//go:build linux && cgo
// +build linux,cgo

package rawnet

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"
)

// afpacketTransport sends and receives raw link-layer frames through
// a TPACKET_V3 ring bound to one interface.
type afpacketTransport struct {
	tp    *afpacket.TPacket
	iface string
}

// NewAFPacket opens an AF_PACKET transport on the named interface.
// The ring is sized generously so reply bursts from the device do not
// overrun it.
func NewAFPacket(ifaceName string) (Transport, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("rawnet: no such interface %q: %v", ifaceName, err)
	}
	frameSize, blockSize, numBlocks := ringGeometry(os.Getpagesize())
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface.Name),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(time.Second),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("rawnet: could not open a TPacket ring on %q: %v", iface.Name, err)
	}
	return &afpacketTransport{tp: tp, iface: iface.Name}, nil
}

// ringGeometry picks a frame size aligned to the page size and enough
// blocks for a 16 MB ring.
func ringGeometry(pageSize int) (frameSize, blockSize, numBlocks int) {
	frameSize = pageSize
	blockSize = frameSize * 128
	numBlocks = (16 * 1024 * 1024) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks
}

func (t *afpacketTransport) Send(frame []byte) error {
	return t.tp.WritePacketData(frame)
}

func (t *afpacketTransport) Receive() ([]byte, error) {
	data, _, err := t.tp.ReadPacketData()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *afpacketTransport) Close() error {
	t.tp.Close()
	return nil
}

func isPlatformTimeout(err error) bool {
	return err == afpacket.ErrTimeout
}
