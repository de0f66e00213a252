package wire

import "github.com/fxamacker/cbor/v2"

// selfDescribingHeader is the CBOR wire shape of Header. CBOR map/array
// major types always start with a byte >= 0x80 (the high bit set), which
// is exactly the test the decoder uses (see IsSelfDescribing) to
// distinguish this form from a delta-compressed header, whose flags byte
// never sets the high bit (see Encoder in delta.go).
type selfDescribingHeader struct {
	StreamID       uint32
	MsgType        uint8
	Flags          uint8
	Sequence       uint64
	Timestamp      uint64
	Nonce          uint64
	DeliveryTag    uint8
	TTLMillis      uint32
	PiggybackedAck *uint64
	PayloadLen     *uint32
	ConnectionID   *uint64
}

// EncodeSelfDescribing renders h as a self-describing CBOR header. Used
// for the handshake, path-validation frames, and the first frame after a
// migration or stream reset (§4.1).
func EncodeSelfDescribing(h *Header) ([]byte, error) {
	w := selfDescribingHeader{
		StreamID:       h.StreamID,
		MsgType:        uint8(h.MsgType),
		Flags:          h.Flags,
		Sequence:       h.Sequence,
		Timestamp:      h.Timestamp,
		Nonce:          h.Nonce,
		DeliveryTag:    uint8(h.DeliveryMode.Tag),
		TTLMillis:      h.DeliveryMode.TTLMillis,
		PiggybackedAck: h.PiggybackedAck,
		PayloadLen:     h.PayloadLen,
		ConnectionID:   h.ConnectionID,
	}
	return cbor.Marshal(w)
}

// DecodeSelfDescribing parses a self-describing CBOR header.
func DecodeSelfDescribing(b []byte) (*Header, error) {
	var w selfDescribingHeader
	if err := cbor.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	return &Header{
		StreamID:       w.StreamID,
		MsgType:        MsgType(w.MsgType),
		Flags:          w.Flags,
		Sequence:       w.Sequence,
		Timestamp:      w.Timestamp,
		Nonce:          w.Nonce,
		DeliveryMode:   DeliveryMode{Tag: DeliveryModeTag(w.DeliveryTag), TTLMillis: w.TTLMillis},
		PiggybackedAck: w.PiggybackedAck,
		PayloadLen:     w.PayloadLen,
		ConnectionID:   w.ConnectionID,
	}, nil
}

// IsSelfDescribing reports whether a header byte slice is the
// self-describing (CBOR) form rather than the delta-compressed form: CBOR
// map/array major types always begin with a byte >= 0x80.
func IsSelfDescribing(b []byte) bool {
	return len(b) > 0 && b[0]&0x80 != 0
}
