package reliability

import (
	"testing"
	"time"

	"github.com/jetstream-proto/jetstream/stream"
	"github.com/stretchr/testify/require"
)

func reliableMode() stream.DeliveryMode { return stream.DeliveryMode{Tag: stream.Reliable} }

func TestAssignSequenceIsMonotonic(t *testing.T) {
	r := New()
	rec1 := r.AssignSequence(1, []byte("a"), reliableMode())
	rec2 := r.AssignSequence(1, []byte("b"), reliableMode())
	require.Less(t, rec1.Sequence, rec2.Sequence)
}

func TestInOrderDeliveryWithGap(t *testing.T) {
	r := New()
	r.Receive(&ReceivedRecord{Sequence: 1, Payload: []byte("one")})
	r.Receive(&ReceivedRecord{Sequence: 2, Payload: []byte("two")})

	out := r.PopInOrder()
	require.Len(t, out, 2)
	require.EqualValues(t, 1, out[0].Sequence)
	require.EqualValues(t, 2, out[1].Sequence)

	// sequence 4 arrives before 3: not yet deliverable
	r.Receive(&ReceivedRecord{Sequence: 4, Payload: []byte("four")})
	require.Empty(t, r.PopInOrder())

	r.Receive(&ReceivedRecord{Sequence: 3, Payload: []byte("three")})
	out2 := r.PopInOrder()
	require.Len(t, out2, 2)
	require.EqualValues(t, 3, out2[0].Sequence)
	require.EqualValues(t, 4, out2[1].Sequence)
}

func TestDuplicateReceiveDoesNotCorruptState(t *testing.T) {
	r := New()
	require.False(t, r.Receive(&ReceivedRecord{Sequence: 1, Payload: []byte("one")}))
	require.True(t, r.Receive(&ReceivedRecord{Sequence: 1, Payload: []byte("one")}))
	require.EqualValues(t, 1, r.DuplicateCount())

	r.PopInOrder()
	// already delivered; a replay of the same sequence is still a duplicate
	require.True(t, r.Receive(&ReceivedRecord{Sequence: 1, Payload: []byte("one")}))
}

func TestSACKRangesAboveCumulativeAck(t *testing.T) {
	r := New()
	r.Receive(&ReceivedRecord{Sequence: 1})
	r.Receive(&ReceivedRecord{Sequence: 3})
	r.Receive(&ReceivedRecord{Sequence: 4})
	r.Receive(&ReceivedRecord{Sequence: 6})

	ack, ok := r.CumulativeAck()
	require.True(t, ok)
	require.EqualValues(t, 1, ack)

	ranges := r.SACKRanges()
	require.Equal(t, [][2]uint64{{3, 4}, {6, 6}}, ranges)
}

func TestApplyAckRemovesCumulativeAndSACKRanges(t *testing.T) {
	r := New()
	r.AssignSequence(1, []byte("a"), reliableMode())
	r.AssignSequence(1, []byte("b"), reliableMode())
	r.AssignSequence(1, []byte("c"), reliableMode())

	result := r.ApplyAck(1, [][2]uint64{{2, 2}})
	require.Contains(t, result.RemovedSequences, uint64(0))
	require.Contains(t, result.RemovedSequences, uint64(1))
	require.Contains(t, result.RemovedSequences, uint64(2))
}

func TestRetransmitPolicyPerMode(t *testing.T) {
	r := New()
	r.BatchSize = 1000

	reliableRec := r.AssignSequence(1, []byte("r"), stream.DeliveryMode{Tag: stream.Reliable})
	ptRec := r.AssignSequence(1, []byte("p"), stream.DeliveryMode{Tag: stream.PartiallyReliable, TTLMillis: 1})
	beRec := &SentRecord{Sequence: 999, SendTime: time.Now().Add(-time.Second), Mode: stream.DeliveryMode{Tag: stream.BestEffort}}
	r.TrackBestEffort(beRec)

	time.Sleep(300 * time.Millisecond)
	expired := r.SweepExpired()

	var sawReliableRetransmit, sawPTDropped, sawBEDropped bool
	for _, e := range expired {
		switch e.Record.Sequence {
		case reliableRec.Sequence:
			sawReliableRetransmit = e.Retransmit
		case ptRec.Sequence:
			sawPTDropped = !e.Retransmit
		case beRec.Sequence:
			sawBEDropped = !e.Retransmit
		}
	}
	require.True(t, sawReliableRetransmit)
	require.True(t, sawPTDropped)
	require.True(t, sawBEDropped)
}

func TestRTOFloorIsTwoHundredMillis(t *testing.T) {
	r := New()
	require.Equal(t, DefaultMinRTO, r.RTO())
}
