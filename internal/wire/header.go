// Package wire decodes and encodes the 6-byte in-band routing header that
// every client datagram carries. The header occupies the first 6 bytes of
// every frame exchanged with the emulator; the remaining bytes are opaque
// application payload.
package wire

import (
	"errors"
	"fmt"
	"net/netip"
)

const (
	// HeaderLength is the size in bytes of the in-band routing header.
	HeaderLength = 6

	// ipOffset is where the destination IPv4 octets begin (network order).
	ipOffset = 0
	ipSize   = 4

	// portLoOffset/portHiOffset hold the little-endian 16-bit port.
	portLoOffset = 4
	portHiOffset = 5

	// MessageLength is the fixed capacity of every buffer the pool hands
	// out and every frame read off the wire (MESSAGE_LENGTH in the spec).
	MessageLength = 2500

	// MaxPayloadLength is the largest opaque payload a single datagram can
	// carry once the header is accounted for.
	MaxPayloadLength = MessageLength - HeaderLength
)

// ErrHeaderTooShort is returned by Decode when the frame is shorter than
// HeaderLength bytes. Per spec §4.1 such a frame is invalid and must be
// dropped with this exact reason.
var ErrHeaderTooShort = errors.New("header too short")

// Decode reads the final-destination IPv4 address and port from the first
// six bytes of buf. buf must be at least HeaderLength bytes; Decode never
// reads beyond that.
func Decode(buf []byte) (addr netip.Addr, port uint16, err error) {
	if len(buf) < HeaderLength {
		return netip.Addr{}, 0, ErrHeaderTooShort
	}
	var octets [ipSize]byte
	copy(octets[:], buf[ipOffset:ipOffset+ipSize])
	addr = netip.AddrFrom4(octets)
	port = uint16(buf[portLoOffset]) | uint16(buf[portHiOffset])<<8
	return addr, port, nil
}

// EncodeSource overwrites the first six bytes of buf with src's IPv4
// address and port, in the same little-endian-port layout Decode expects.
// This is how the ingress demultiplexer rewrites a frame's header to carry
// the previous hop's identity before handing it to a router's inbox (spec
// §6: receiving clients see bytes 0..5 rewritten to the previous hop).
func EncodeSource(buf []byte, src netip.Addr, port uint16) {
	if len(buf) < HeaderLength {
		panic(fmt.Sprintf("wire: EncodeSource needs at least %d bytes, got %d", HeaderLength, len(buf)))
	}
	octets := src.As4()
	copy(buf[ipOffset:ipOffset+ipSize], octets[:])
	buf[portLoOffset] = byte(port)
	buf[portHiOffset] = byte(port >> 8)
}

// AddrPort reconstructs a netip.AddrPort from decoded header fields, a
// convenience for callers that want a single comparable value.
func AddrPort(addr netip.Addr, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(addr, port)
}
