package qos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerDequeuesSystemBeforeBulk(t *testing.T) {
	s := NewScheduler()
	s.Enqueue(Packet{Priority: Bulk, StreamID: 1})
	s.Enqueue(Packet{Priority: System, StreamID: 2})

	pkt, ok := s.Dequeue()
	require.True(t, ok)
	require.Equal(t, System, pkt.Priority)
}

func TestSchedulerWeightsGiveHigherPriorityMoreCreditsPerRound(t *testing.T) {
	s := NewScheduler()
	for i := 0; i < 20; i++ {
		s.Enqueue(Packet{Priority: Bulk, StreamID: 1})
		s.Enqueue(Packet{Priority: System, StreamID: 2})
	}

	var systemCount, bulkCount int
	// one WDRR round drains weight[System]=8 + weight[Bulk]=1 = 9 packets
	for i := 0; i < 9; i++ {
		pkt, ok := s.Dequeue()
		require.True(t, ok)
		if pkt.Priority == System {
			systemCount++
		} else {
			bulkCount++
		}
	}
	require.Equal(t, 8, systemCount)
	require.Equal(t, 1, bulkCount)
}

func TestSchedulerDequeueEmptyReturnsFalse(t *testing.T) {
	s := NewScheduler()
	_, ok := s.Dequeue()
	require.False(t, ok)
}

func TestCoalescerPacksThreeFramesIntoOneDatagram(t *testing.T) {
	c := NewCoalescer(1500, 5)

	frame := make([]byte, 400)
	require.Nil(t, c.Add(frame))
	require.Nil(t, c.Add(frame))
	require.Nil(t, c.Add(frame))

	flushed := c.Flush()
	require.Len(t, flushed, 1200)
}

func TestCoalescerFlushesOnMTUOverflow(t *testing.T) {
	c := NewCoalescer(1000, 1000)
	require.Nil(t, c.Add(make([]byte, 600)))
	flushed := c.Add(make([]byte, 600))
	require.Len(t, flushed, 600)
	require.True(t, c.Pending())
}

func TestCoalescerDisabledFlushesEveryAdd(t *testing.T) {
	c := NewCoalescer(1500, 0)
	out := c.Add(make([]byte, 10))
	require.Len(t, out, 10)
	require.False(t, c.Pending())
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker()
	b.FailureThreshold = 3
	for i := 0; i < 2; i++ {
		b.RecordFailure()
		require.Equal(t, BreakerClosed, b.State())
	}
	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())
	require.False(t, b.Allow())
}

func TestCircuitBreakerHalfOpenToClosedAfterSuccesses(t *testing.T) {
	b := NewCircuitBreaker()
	b.FailureThreshold = 1
	b.ResetTimeout = time.Millisecond
	b.SuccessThreshold = 2

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, BreakerHalfOpen, b.State())

	b.RecordSuccess()
	require.Equal(t, BreakerHalfOpen, b.State())
	b.RecordSuccess()
	require.Equal(t, BreakerClosed, b.State())
}

func TestCircuitBreakerHalfOpenFailureReturnsToOpen(t *testing.T) {
	b := NewCircuitBreaker()
	b.FailureThreshold = 1
	b.ResetTimeout = time.Millisecond

	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, BreakerHalfOpen, b.State())

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())
}
