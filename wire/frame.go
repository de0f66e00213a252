package wire

import (
	"encoding/binary"
	"errors"
)

var (
	errShortDatagram   = errors.New("wire: datagram shorter than header_len prefix")
	errHeaderTruncated = errors.New("wire: header_len exceeds remaining datagram")
	errPayloadMissing  = errors.New("wire: payload_len exceeds remaining datagram")
)

// Frame is one `[header_len: u16 BE][header][payload]` unit. A datagram on
// the wire is a concatenation of one or more Frames (coalescing, §4.8).
type Frame struct {
	Header  *Header
	Payload []byte
}

// EncodeFrame appends one frame to buf: a big-endian u16 header length,
// the header bytes (already encoded by the caller via the self-describing
// or delta codec), then the payload. If more frames will follow in the
// same datagram, h.PayloadLen must be set so the receiver can find the
// frame boundary; the final frame in a datagram may omit it.
func EncodeFrame(buf []byte, headerBytes, payload []byte) ([]byte, error) {
	if len(headerBytes) > 0xffff {
		return nil, errors.New("wire: header too large to frame")
	}
	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(headerBytes)))
	buf = append(buf, lenPrefix[:]...)
	buf = append(buf, headerBytes...)
	buf = append(buf, payload...)
	return buf, nil
}

// Codec pairs a stateful Encoder/Decoder and decides, per packet, whether
// to use the self-describing or delta-compressed header form.
type Codec struct {
	Enc *Encoder
	Dec *Decoder
}

// NewCodec returns a Codec with fresh encoder/decoder state.
func NewCodec() *Codec {
	return &Codec{Enc: NewEncoder(), Dec: NewDecoder()}
}

// EncodeHeader renders h using the delta codec when compress is true, or
// the self-describing codec otherwise (handshake frames, path-validation
// frames, and the first frame after a migration or stream reset always
// pass compress=false, per §4.1 and §4.9). Either form updates the
// encoder's "last header" baseline, so a delta frame sent right after a
// self-describing one still compresses against it.
func (c *Codec) EncodeHeader(h *Header, compress bool) ([]byte, error) {
	if !compress {
		b, err := EncodeSelfDescribing(h)
		if err != nil {
			return nil, err
		}
		c.Enc.adopt(h)
		return b, nil
	}
	return c.Enc.Encode(h), nil
}

// Reset clears both the encoder's and decoder's stored baseline. Call
// this when starting a fresh connection-id epoch (migration) so that the
// next header, self-describing or not, is treated as the first on the
// direction.
func (c *Codec) Reset() {
	c.Enc.Reset()
	c.Dec.Reset()
}

// DecodeDatagram splits a received datagram into its constituent frames,
// decoding each header with whichever form the high bit of its first byte
// indicates (§4.1's invariant) and using PayloadLen to find frame
// boundaries when more than one frame shares the datagram.
func (c *Codec) DecodeDatagram(datagram []byte) ([]Frame, error) {
	var frames []Frame
	for len(datagram) > 0 {
		if len(datagram) < 2 {
			return nil, errShortDatagram
		}
		hlen := int(binary.BigEndian.Uint16(datagram[:2]))
		datagram = datagram[2:]
		if hlen > len(datagram) {
			return nil, errHeaderTruncated
		}
		headerBytes := datagram[:hlen]
		datagram = datagram[hlen:]

		var h *Header
		var err error
		if IsSelfDescribing(headerBytes) {
			h, err = DecodeSelfDescribing(headerBytes)
			if err == nil {
				c.Dec.adopt(h)
			}
		} else {
			h, err = c.Dec.Decode(headerBytes)
		}
		if err != nil {
			return nil, err
		}

		var payload []byte
		if h.PayloadLen != nil {
			n := int(*h.PayloadLen)
			if n > len(datagram) {
				return nil, errPayloadMissing
			}
			payload = datagram[:n]
			datagram = datagram[n:]
		} else {
			if len(datagram) == 0 {
				payload = nil
			} else {
				payload = datagram
				datagram = nil
			}
		}
		frames = append(frames, Frame{Header: h, Payload: payload})
	}
	return frames, nil
}
