package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ackPtr(v uint64) *uint64 { return &v }
func lenPtr(v uint32) *uint32 { return &v }

func TestSelfDescribingRoundTrip(t *testing.T) {
	h := &Header{
		StreamID:     3,
		MsgType:      MsgData,
		Flags:        0,
		Sequence:     42,
		Timestamp:    1000,
		Nonce:        7,
		DeliveryMode: Reliable(),
	}
	enc, err := EncodeSelfDescribing(h)
	require.NoError(t, err)
	require.True(t, IsSelfDescribing(enc))

	dec, err := DecodeSelfDescribing(enc)
	require.NoError(t, err)
	require.True(t, h.Equal(dec))
}

func TestDeltaRoundTripAndShrinks(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	first := &Header{StreamID: 1, MsgType: MsgData, Sequence: 100, Timestamp: 5000, Nonce: 9, DeliveryMode: Reliable()}
	firstBytes := enc.Encode(first)
	require.False(t, IsSelfDescribing(firstBytes))
	got, err := dec.Decode(firstBytes)
	require.NoError(t, err)
	require.True(t, first.Equal(got))

	second := &Header{StreamID: 1, MsgType: MsgData, Sequence: 101, Timestamp: 5010, Nonce: 10, DeliveryMode: Reliable()}
	secondBytes := enc.Encode(second)
	got2, err := dec.Decode(secondBytes)
	require.NoError(t, err)
	require.True(t, second.Equal(got2))

	// Only low-order fields changed: the delta form must be strictly
	// shorter than a fresh self-describing encoding of the same header.
	selfBytes, err := EncodeSelfDescribing(second)
	require.NoError(t, err)
	require.Less(t, len(secondBytes), len(selfBytes))
}

func TestDeltaWithOptionalFields(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	cid := uint64(0xdeadbeef)
	first := &Header{StreamID: 5, MsgType: MsgData, Sequence: 1, Timestamp: 1, Nonce: 1,
		DeliveryMode: PartiallyReliable(250), ConnectionID: &cid}
	b := enc.Encode(first)
	got, err := dec.Decode(b)
	require.NoError(t, err)
	require.True(t, first.Equal(got))

	ack := ackPtr(99)
	plen := lenPtr(128)
	second := &Header{StreamID: 5, MsgType: MsgACK, Sequence: 2, Timestamp: 2, Nonce: 2,
		DeliveryMode: PartiallyReliable(250), PiggybackedAck: ack, PayloadLen: plen}
	b2 := enc.Encode(second)
	got2, err := dec.Decode(b2)
	require.NoError(t, err)
	// ConnectionID is inherited from the first header once established.
	second.ConnectionID = &cid
	require.True(t, second.Equal(got2))
}

func TestCodecDatagramWithCoalescedFrames(t *testing.T) {
	c := NewCodec()

	h1 := &Header{StreamID: 1, MsgType: MsgData, Sequence: 1, Timestamp: 1, Nonce: 1, DeliveryMode: Reliable(), PayloadLen: lenPtr(5)}
	h2 := &Header{StreamID: 2, MsgType: MsgData, Sequence: 2, Timestamp: 2, Nonce: 2, DeliveryMode: Reliable()}

	hb1, err := c.EncodeHeader(h1, false)
	require.NoError(t, err)
	var datagram []byte
	datagram, err = EncodeFrame(datagram, hb1, []byte("hello"))
	require.NoError(t, err)

	hb2, err := c.EncodeHeader(h2, true)
	require.NoError(t, err)
	datagram, err = EncodeFrame(datagram, hb2, []byte("world"))
	require.NoError(t, err)

	rc := NewCodec()
	frames, err := rc.DecodeDatagram(datagram)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Equal(t, []byte("hello"), frames[0].Payload)
	require.Equal(t, []byte("world"), frames[1].Payload)
	require.Equal(t, uint32(1), frames[0].Header.StreamID)
	require.Equal(t, uint32(2), frames[1].Header.StreamID)
}
