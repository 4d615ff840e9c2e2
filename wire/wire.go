// Package wire implements the on-the-wire format of recirculation
// experiment frames: an Ethernet header, an IPv4 header whose
// identification and ttl fields are repurposed by the experiment, and
// a small telemetry trailer appended directly after the IPv4 header.
//
// The layout is byte-exact and shared with the data plane, so all
// encoding and decoding happens at fixed offsets into a byte slice.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const (
	// EtherTypeIPv4 is the only link-layer type tag this engine handles.
	EtherTypeIPv4 = 0x0800
	// ProtocolRecirc is the IPv4 protocol sentinel marking experiment
	// traffic.
	ProtocolRecirc = 146
	// InitialTTL is the ttl of every hop-0 frame. The hop index of a
	// frame is always 255 minus its ttl.
	InitialTTL = 255

	// EthernetSize is the length of the link-layer header.
	EthernetSize = 14
	// IPv4Size is the length of the network-layer header. No options
	// are ever present.
	IPv4Size = 20

	versionIHL = 0x45   // IPv4, 5-word header
	flagsDF    = 0x4000 // don't-fragment, offset 0
)

// Layout selects which telemetry trailer a frame carries.
type Layout int

const (
	// BaseLayout is pint (2B big-endian) followed by xor_degree (1B).
	BaseLayout Layout = iota
	// MaskedLayout prepends a switch_mask (2B big-endian) to the base
	// trailer.
	MaskedLayout
)

// TrailerSize returns the encoded size of the layout's trailer.
func (l Layout) TrailerSize() int {
	if l == MaskedLayout {
		return 5
	}
	return 3
}

func (l Layout) String() string {
	if l == MaskedLayout {
		return "masked"
	}
	return "base"
}

// Trailer is the decoded telemetry payload. SwitchMask is only
// meaningful under MaskedLayout and is zero otherwise.
type Trailer struct {
	SwitchMask uint16
	Pint       uint16
	XorDegree  uint8
}

// Decode errors. Frames failing these checks are foreign traffic and
// must be skipped without touching any flow state.
var (
	ErrTooShort             = errors.New("frame too short")
	ErrUnsupportedEtherType = errors.New("unsupported ethertype")
	ErrUnsupportedProtocol  = errors.New("unsupported IPv4 protocol")
)

// Frame is a decoded experiment frame. It keeps its own copy of the
// wire image so that the small in-place mutations the protocol needs
// (link restamping, mask rewriting) patch the bytes that will be
// retransmitted.
type Frame struct {
	raw     []byte
	hasLink bool
	layout  Layout

	LinkDst net.HardwareAddr
	LinkSrc net.HardwareAddr
	FlowID  uint16
	TTL     uint8
	SrcIP   net.IP
	DstIP   net.IP
	Trailer Trailer
}

// HopID is the hop index of the frame as received: 255 - ttl.
func (f *Frame) HopID() int { return InitialTTL - int(f.TTL) }

// Layout returns the trailer layout the frame was decoded with.
func (f *Frame) Layout() Layout { return f.layout }

// HasLink reports whether the frame carries an Ethernet header.
func (f *Frame) HasLink() bool { return f.hasLink }

// Bytes returns the frame's wire image, including any mutations
// applied since decoding.
func (f *Frame) Bytes() []byte { return f.raw }

// NetworkBytes returns the IPv4-header-plus-trailer portion of the
// wire image.
func (f *Frame) NetworkBytes() []byte { return f.raw[f.networkOffset():] }

func (f *Frame) networkOffset() int {
	if f.hasLink {
		return EthernetSize
	}
	return 0
}

// RestampLink rewrites the Ethernet source and destination addresses
// in place before re-injection. It is a no-op on link-less frames.
func (f *Frame) RestampLink(src, dst net.HardwareAddr) {
	if !f.hasLink {
		return
	}
	copy(f.raw[0:6], dst)
	copy(f.raw[6:12], src)
	f.LinkDst = cloneHW(dst)
	f.LinkSrc = cloneHW(src)
}

// SetSwitchMask rewrites the switch_mask bytes of a masked-layout
// frame. The trailer is not covered by the IPv4 header checksum, so
// nothing needs recomputing. It is a no-op under BaseLayout.
func (f *Frame) SetSwitchMask(mask uint16) {
	if f.layout != MaskedLayout {
		return
	}
	off := f.networkOffset() + IPv4Size
	binary.BigEndian.PutUint16(f.raw[off:off+2], mask)
	f.Trailer.SwitchMask = mask
}

// Decode parses a full Ethernet frame.
//
// Decode deliberately does not verify the IPv4 checksum of received
// frames: the experiment host never has, and trajectories recorded
// from real devices must stay comparable, so the leniency is part of
// the contract rather than an oversight.
func Decode(b []byte, layout Layout) (*Frame, error) {
	if len(b) < EthernetSize+IPv4Size+layout.TrailerSize() {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(b))
	}
	if et := binary.BigEndian.Uint16(b[12:14]); et != EtherTypeIPv4 {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedEtherType, et)
	}
	raw := append([]byte(nil), b...)
	f, err := decodeNetwork(raw, EthernetSize, layout)
	if err != nil {
		return nil, err
	}
	f.hasLink = true
	f.LinkDst = cloneHW(raw[0:6])
	f.LinkSrc = cloneHW(raw[6:12])
	return f, nil
}

// DecodeIPv4 parses a link-less frame, the wire image carried by the
// UDP stand-in transport.
func DecodeIPv4(b []byte, layout Layout) (*Frame, error) {
	raw := append([]byte(nil), b...)
	return decodeNetwork(raw, 0, layout)
}

func decodeNetwork(raw []byte, off int, layout Layout) (*Frame, error) {
	if len(raw) < off+IPv4Size+layout.TrailerSize() {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(raw))
	}
	ip := raw[off : off+IPv4Size]
	if ip[9] != ProtocolRecirc {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedProtocol, ip[9])
	}
	f := &Frame{raw: raw, layout: layout}
	f.FlowID = binary.BigEndian.Uint16(ip[4:6])
	f.TTL = ip[8]
	f.SrcIP = net.IPv4(ip[12], ip[13], ip[14], ip[15]).To4()
	f.DstIP = net.IPv4(ip[16], ip[17], ip[18], ip[19]).To4()
	tr := raw[off+IPv4Size:]
	switch layout {
	case MaskedLayout:
		f.Trailer.SwitchMask = binary.BigEndian.Uint16(tr[0:2])
		f.Trailer.Pint = binary.BigEndian.Uint16(tr[2:4])
		f.Trailer.XorDegree = tr[4]
	default:
		f.Trailer.Pint = binary.BigEndian.Uint16(tr[0:2])
		f.Trailer.XorDegree = tr[2]
	}
	return f, nil
}

// Encode builds a well-formed Ethernet frame and computes the IPv4
// header checksum. srcIP and dstIP must be IPv4 addresses and the
// hardware addresses 6 bytes long; anything else is caller misuse.
func Encode(linkSrc, linkDst net.HardwareAddr, flowID uint16, ttl uint8, srcIP, dstIP net.IP, tr Trailer, layout Layout) []byte {
	b := make([]byte, EthernetSize+IPv4Size+layout.TrailerSize())
	copy(b[0:6], linkDst)
	copy(b[6:12], linkSrc)
	binary.BigEndian.PutUint16(b[12:14], EtherTypeIPv4)
	encodeNetwork(b[EthernetSize:], flowID, ttl, srcIP, dstIP, tr, layout)
	return b
}

// EncodeIPv4 builds the link-less image used by the UDP stand-in.
func EncodeIPv4(flowID uint16, ttl uint8, srcIP, dstIP net.IP, tr Trailer, layout Layout) []byte {
	b := make([]byte, IPv4Size+layout.TrailerSize())
	encodeNetwork(b, flowID, ttl, srcIP, dstIP, tr, layout)
	return b
}

func encodeNetwork(b []byte, flowID uint16, ttl uint8, srcIP, dstIP net.IP, tr Trailer, layout Layout) {
	b[0] = versionIHL
	b[1] = 0 // tos
	binary.BigEndian.PutUint16(b[2:4], uint16(IPv4Size+layout.TrailerSize()))
	binary.BigEndian.PutUint16(b[4:6], flowID)
	binary.BigEndian.PutUint16(b[6:8], flagsDF)
	b[8] = ttl
	b[9] = ProtocolRecirc
	b[10] = 0
	b[11] = 0
	copy(b[12:16], srcIP.To4())
	copy(b[16:20], dstIP.To4())
	binary.BigEndian.PutUint16(b[10:12], Checksum16(b[:IPv4Size]))

	off := IPv4Size
	if layout == MaskedLayout {
		binary.BigEndian.PutUint16(b[off:off+2], tr.SwitchMask)
		off += 2
	}
	binary.BigEndian.PutUint16(b[off:off+2], tr.Pint)
	b[off+2] = tr.XorDegree
}

// Checksum16 computes the standard internet checksum over b: 16-bit
// big-endian words summed with end-around carry folding, then
// one's-complemented. An odd trailing byte is treated as the high
// byte of a zero-padded word. The data plane computes the same sum,
// so this must match byte for byte.
func Checksum16(b []byte) uint16 {
	var acc uint32
	for i := 0; i+1 < len(b); i += 2 {
		acc += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		acc += uint32(b[len(b)-1]) << 8
	}
	for acc > 0xffff {
		acc = (acc & 0xffff) + (acc >> 16)
	}
	return ^uint16(acc)
}

func cloneHW(b []byte) net.HardwareAddr {
	return net.HardwareAddr(append([]byte(nil), b...))
}
