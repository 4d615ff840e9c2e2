// Package rawnet provides the frame transports the session driver
// sends and receives on: an AF_PACKET socket bound to a physical
// interface for runs against real hardware, and a UDP stand-in for
// runs against the software switch.
package rawnet

import (
	"errors"
	"net"
)

// Transport carries opaque frames to and from the device. Frames
// cross it as full Ethernet images on every implementation; the UDP
// transport synthesizes the link layer so callers never see a
// difference.
type Transport interface {
	Send(frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// IsTimeout reports whether a Receive error is a poll timeout rather
// than a socket failure. Timeouts are how a blocked receive
// periodically yields so that cancellation can be observed; they are
// not transport errors.
func IsTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return isPlatformTimeout(err)
}
