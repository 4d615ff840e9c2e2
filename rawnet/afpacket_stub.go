//go:build !linux || !cgo
// +build !linux !cgo

package rawnet

import "errors"

// NewAFPacket is the non-Linux stub. AF_PACKET sockets only exist on
// Linux; use the UDP transport against the simulator elsewhere.
func NewAFPacket(ifaceName string) (Transport, error) {
	return nil, errors.New("rawnet: the AF_PACKET transport requires Linux")
}

func isPlatformTimeout(err error) bool {
	return false
}
