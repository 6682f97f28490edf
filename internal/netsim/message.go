// Package netsim implements the emulator dataplane: the router registry,
// each router's link table and bounded forwarding queue, its forwarding
// task, and the periodic distance-vector route-update subprotocol.
package netsim

import "net/netip"

// Message is a single unit of forwarding work: a final destination, an
// owned buffer of exactly wire.MessageLength bytes, and the valid prefix
// length within that buffer (always >= wire.HeaderLength). A Message is
// created when ingress accepts a client frame and destroyed — its buffer
// released back to the pool — when it is either handed to the OS send
// path or dropped.
type Message struct {
	Target netip.AddrPort
	Buffer []byte
	Length int
}

// Payload returns the portion of Buffer following the 6-byte header.
func (m *Message) Payload() []byte {
	return m.Buffer[6:m.Length]
}

// PayloadLength is the number of application bytes beyond the header,
// the quantity the spec's loss-byte accounting (§7) counts.
func (m *Message) PayloadLength() int {
	return m.Length - 6
}
