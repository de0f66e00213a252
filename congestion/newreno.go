package congestion

import (
	"sync"
	"time"
)

const (
	newRenoStateSlowStart State = iota
	newRenoStateCongestionAvoidance
)

// NewReno implements the classic slow-start / congestion-avoidance /
// multiplicative-decrease algorithm (§4.7).
type NewReno struct {
	mu sync.Mutex

	mss      uint64
	cwnd     uint64
	ssthresh uint64
	state    State
}

// NewNewReno returns a NewReno controller with §4.7's defaults: initial
// cwnd = 10*MSS, ssthresh unbounded (so slow start only ends on the
// first loss, which sets a real ssthresh).
func NewNewReno() *NewReno {
	return &NewReno{
		mss:      DefaultMSS,
		cwnd:     10 * DefaultMSS,
		ssthresh: ^uint64(0),
		state:    newRenoStateSlowStart,
	}
}

// OnSent is a no-op for NewReno: cwnd only changes on ack/loss events.
func (n *NewReno) OnSent(bytes uint64) {}

// OnAcked grows cwnd per §4.7: in slow start, by the full acked byte
// count; in congestion avoidance, by acked_bytes²/cwnd (floored at 1).
func (n *NewReno) OnAcked(bytes uint64, rtt time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == newRenoStateSlowStart {
		n.cwnd += bytes
		if n.cwnd >= n.ssthresh {
			n.state = newRenoStateCongestionAvoidance
		}
		return
	}

	growth := (bytes * bytes) / n.cwnd
	if growth < 1 {
		growth = 1
	}
	n.cwnd += growth
}

// OnLost sets ssthresh to half of cwnd (floored at 2*MSS) and resets cwnd to 2*MSS,
// returning to slow start, per §4.7.
func (n *NewReno) OnLost(bytes uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	newSsthresh := n.cwnd / 2
	if newSsthresh < 2*n.mss {
		newSsthresh = 2 * n.mss
	}
	n.ssthresh = newSsthresh
	n.cwnd = 2 * n.mss
	n.state = newRenoStateSlowStart
}

// Cwnd returns the current congestion window in bytes.
func (n *NewReno) Cwnd() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cwnd
}

// CanSend reports whether inflight bytes leave room under cwnd.
func (n *NewReno) CanSend(inflight uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return inflight < n.cwnd
}

func (n *NewReno) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}
