package wire

import "errors"

// Delta-compressed header flag bits. Bit 0x80 is deliberately never set by
// this codec: it is the reserved bit that IsSelfDescribing inspects to
// tell a delta-compressed header apart from a self-describing (CBOR) one.
// Callers migrating this wire format must preserve that bit's meaning.
const (
	flagStreamIDChanged  uint8 = 0x01
	flagMsgTypePresent   uint8 = 0x02
	flagSequenceDelta    uint8 = 0x04
	flagTimestampDelta   uint8 = 0x08
	flagNonceDelta       uint8 = 0x10
	flagHasPiggybackAck  uint8 = 0x20
	flagHasPayloadLen    uint8 = 0x40
)

var errEmptyCompressed = errors.New("wire: empty delta header")

// Encoder holds the last header sent on one direction of a connection and
// produces delta-compressed headers against it.
type Encoder struct {
	last *Header
}

// NewEncoder returns an Encoder with no prior header; its first Encode
// call will emit full (non-delta) sequence/timestamp/nonce values and,
// if present, the connection id.
func NewEncoder() *Encoder { return &Encoder{} }

// Reset clears the encoder's state, forcing the next Encode to behave as
// if it were the first header on the connection. Used whenever the sender
// suppresses compression (migration) and needs the next compressed header
// to resynchronize cleanly.
func (e *Encoder) Reset() { e.last = nil }

// adopt records h as the encoder's baseline without emitting anything;
// used after a self-describing header is sent so a subsequent delta
// header can compress against it.
func (e *Encoder) adopt(h *Header) {
	hc := *h
	e.last = &hc
}

// Encode produces a delta-compressed header against the encoder's stored
// last header and updates that state to h.
func (e *Encoder) Encode(h *Header) []byte {
	var out []byte
	var flags uint8

	streamIDChanged := e.last == nil || e.last.StreamID != h.StreamID
	msgTypeChanged := e.last == nil || e.last.MsgType != h.MsgType

	if streamIDChanged {
		flags |= flagStreamIDChanged
	}
	if msgTypeChanged {
		flags |= flagMsgTypePresent
	}
	if e.last != nil {
		flags |= flagSequenceDelta | flagTimestampDelta | flagNonceDelta
	}
	if h.PiggybackedAck != nil {
		flags |= flagHasPiggybackAck
	}
	if h.PayloadLen != nil {
		flags |= flagHasPayloadLen
	}

	out = append(out, flags)

	if streamIDChanged {
		out = append(out, encodeVarint(uint64(h.StreamID))...)
	}
	if msgTypeChanged {
		out = append(out, uint8(h.MsgType))
	}

	if e.last != nil {
		out = append(out, encodeVarint(h.Sequence-e.last.Sequence)...)
		out = append(out, encodeVarint(h.Timestamp-e.last.Timestamp)...)
		out = append(out, encodeVarint(h.Nonce-e.last.Nonce)...)
	} else {
		out = append(out, encodeVarint(h.Sequence)...)
		out = append(out, encodeVarint(h.Timestamp)...)
		out = append(out, encodeVarint(h.Nonce)...)
	}

	out = append(out, h.Flags)
	out = append(out, uint8(h.DeliveryMode.Tag))
	if h.DeliveryMode.Tag == DeliveryPartiallyReliable {
		out = append(out, encodeVarint(uint64(h.DeliveryMode.TTLMillis))...)
	}

	if h.PiggybackedAck != nil {
		out = append(out, encodeVarint(*h.PiggybackedAck)...)
	}
	if h.PayloadLen != nil {
		out = append(out, encodeVarint(uint64(*h.PayloadLen))...)
	}

	// Connection id is only ever carried on the very first delta header
	// since the last Reset; every subsequent delta header on the same
	// connection is assumed to carry the same id.
	if e.last == nil && h.ConnectionID != nil {
		out = append(out, encodeVarint(*h.ConnectionID)...)
	}

	hc := *h
	e.last = &hc
	return out
}

// Decoder holds the last header received on one direction of a connection
// and reconstructs full headers from delta-compressed ones.
type Decoder struct {
	last *Header
}

// NewDecoder returns a Decoder with no prior header.
func NewDecoder() *Decoder { return &Decoder{} }

// Reset mirrors Encoder.Reset; call it whenever the stream resets or a
// migration is in progress and the peer is about to resynchronize with a
// self-describing header.
func (d *Decoder) Reset() { d.last = nil }

// adopt records h as the decoder's baseline without consuming any bytes;
// used after a self-describing header is received so a subsequent delta
// header can be decoded against it.
func (d *Decoder) adopt(h *Header) {
	hc := *h
	d.last = &hc
}

// Decode parses a delta-compressed header and updates the decoder's
// stored last header.
func (d *Decoder) Decode(b []byte) (*Header, error) {
	if len(b) == 0 {
		return nil, errEmptyCompressed
	}
	flags := b[0]
	pos := 1

	h := &Header{}

	if flags&flagStreamIDChanged != 0 {
		v, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		h.StreamID = uint32(v)
	} else if d.last != nil {
		h.StreamID = d.last.StreamID
	}

	if flags&flagMsgTypePresent != 0 {
		if pos >= len(b) {
			return nil, errVarintTruncated
		}
		h.MsgType = MsgType(b[pos])
		pos++
	} else if d.last != nil {
		h.MsgType = d.last.MsgType
	}

	if d.last != nil {
		seqDelta, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		h.Sequence = d.last.Sequence + seqDelta

		tsDelta, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		h.Timestamp = d.last.Timestamp + tsDelta

		nonceDelta, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		h.Nonce = d.last.Nonce + nonceDelta
	} else {
		seq, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		h.Sequence = seq

		ts, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		h.Timestamp = ts

		nonce, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		h.Nonce = nonce
	}

	if pos >= len(b) {
		return nil, errVarintTruncated
	}
	h.Flags = b[pos]
	pos++

	if pos >= len(b) {
		return nil, errVarintTruncated
	}
	switch b[pos] {
	case uint8(DeliveryReliable):
		pos++
		h.DeliveryMode = Reliable()
	case uint8(DeliveryPartiallyReliable):
		pos++
		ttl, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		h.DeliveryMode = PartiallyReliable(uint32(ttl))
	case uint8(DeliveryBestEffort):
		pos++
		h.DeliveryMode = BestEffort()
	default:
		return nil, errors.New("wire: unknown delivery mode tag")
	}

	if flags&flagHasPiggybackAck != 0 {
		v, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		h.PiggybackedAck = &v
	}

	if flags&flagHasPayloadLen != 0 {
		v, n, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		vv := uint32(v)
		h.PayloadLen = &vv
	}

	if d.last == nil && pos < len(b) {
		cid, _, err := decodeVarint(b[pos:])
		if err != nil {
			return nil, err
		}
		h.ConnectionID = &cid
	} else if d.last != nil {
		h.ConnectionID = d.last.ConnectionID
	}

	hc := *h
	d.last = &hc
	return h, nil
}
