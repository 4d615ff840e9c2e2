// Package switchsim emulates the programmable switch: one
// recirculation pass per inbound frame. It is used whenever no
// physical device is attached, and its mutation rule must match the
// device bit for bit so that logged trajectories stay comparable.
package switchsim

import (
	"encoding/binary"

	"github.com/pintlab/recirc/wire"
)

// Pass applies one switch pass to the IPv4-plus-trailer image in pkt
// and returns the mutated copy. It returns false, and no frame, when
// the inbound ttl is already 0 or the image is shorter than the
// layout requires: the device never replies on either path.
//
// The pass decrements the ttl, recomputes the header checksum, and
// updates the telemetry trailer using the hop count of the frame as
// received (255 - inbound ttl). The update is a two-state toggle: an
// even xor_degree "appends" (pint ^= hop_count, degree increments)
// and an odd one "replaces" (pint = hop_count, degree resets to 1).
// Under the masked layout the switch_mask selects behavior on real
// hardware and passes through the emulator untouched.
func Pass(pkt []byte, layout wire.Layout) ([]byte, bool) {
	if len(pkt) < wire.IPv4Size+layout.TrailerSize() {
		return nil, false
	}
	ttl := pkt[8]
	if ttl == 0 {
		return nil, false
	}
	hopCount := uint16(wire.InitialTTL - int(ttl))

	out := append([]byte(nil), pkt...)
	out[8] = ttl - 1
	out[10] = 0
	out[11] = 0
	binary.BigEndian.PutUint16(out[10:12], wire.Checksum16(out[:wire.IPv4Size]))

	off := wire.IPv4Size
	if layout == wire.MaskedLayout {
		off += 2
	}
	pint := binary.BigEndian.Uint16(out[off : off+2])
	degree := out[off+2]
	if degree%2 == 0 {
		pint ^= hopCount
		degree++
	} else {
		pint = hopCount
		degree = 1
	}
	binary.BigEndian.PutUint16(out[off:off+2], pint)
	out[off+2] = degree
	return out, true
}
