// Package wire implements the frame header codec: length-prefixed framing
// plus a self-describing (CBOR) header form and a stateful delta-compressed
// form, distinguished by the high bit of the first header byte.
//
// Grounded on jsp_core/src/compression/header_compression.rs from the
// original Rust implementation (exact flag bits and delta semantics) and
// on stream/stream.go's CBOR framing convention for the self-describing
// form.
package wire

import "fmt"

// MsgType identifies the kind of frame carried by a header.
type MsgType uint8

const (
	MsgData MsgType = iota
	MsgACK
	MsgSTUN
	MsgTURN
	MsgPathChallenge
	MsgPathResponse
	MsgClose
	MsgHeartbeat
	MsgHandshake
	MsgTicket
)

func (t MsgType) String() string {
	switch t {
	case MsgData:
		return "Data"
	case MsgACK:
		return "ACK"
	case MsgSTUN:
		return "STUN"
	case MsgTURN:
		return "TURN"
	case MsgPathChallenge:
		return "PathChallenge"
	case MsgPathResponse:
		return "PathResponse"
	case MsgClose:
		return "Close"
	case MsgHeartbeat:
		return "Heartbeat"
	case MsgHandshake:
		return "Handshake"
	case MsgTicket:
		return "Ticket"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// DeliveryModeTag is the wire tag for a stream's delivery discipline.
type DeliveryModeTag uint8

const (
	DeliveryReliable DeliveryModeTag = iota
	DeliveryPartiallyReliable
	DeliveryBestEffort
)

// DeliveryMode is the logical delivery-mode value carried in a header;
// TTLMillis is only meaningful when Tag == DeliveryPartiallyReliable.
type DeliveryMode struct {
	Tag       DeliveryModeTag
	TTLMillis uint32
}

// Reliable, PartiallyReliable and BestEffort are convenience constructors.
func Reliable() DeliveryMode { return DeliveryMode{Tag: DeliveryReliable} }
func PartiallyReliable(ttlMillis uint32) DeliveryMode {
	return DeliveryMode{Tag: DeliveryPartiallyReliable, TTLMillis: ttlMillis}
}
func BestEffort() DeliveryMode { return DeliveryMode{Tag: DeliveryBestEffort} }

// Header is the logical frame header. The codec fixes the encoding; this
// struct is the decoded, in-memory form shared by both codec variants.
type Header struct {
	StreamID       uint32
	MsgType        MsgType
	Flags          uint8
	Sequence       uint64
	Timestamp      uint64
	Nonce          uint64
	DeliveryMode   DeliveryMode
	PiggybackedAck *uint64
	PayloadLen     *uint32
	ConnectionID   *uint64
}

// Equal reports whether two headers carry the same logical field values.
// Used by tests to assert the decode(encode(h)) == h round-trip property.
func (h *Header) Equal(o *Header) bool {
	if h == nil || o == nil {
		return h == o
	}
	if h.StreamID != o.StreamID || h.MsgType != o.MsgType || h.Flags != o.Flags ||
		h.Sequence != o.Sequence || h.Timestamp != o.Timestamp || h.Nonce != o.Nonce ||
		h.DeliveryMode != o.DeliveryMode {
		return false
	}
	if !eqU64Ptr(h.PiggybackedAck, o.PiggybackedAck) {
		return false
	}
	if !eqU32Ptr(h.PayloadLen, o.PayloadLen) {
		return false
	}
	if !eqU64Ptr(h.ConnectionID, o.ConnectionID) {
		return false
	}
	return true
}

func eqU64Ptr(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqU32Ptr(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
