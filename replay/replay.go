// Package replay implements the sliding-window nonce+timestamp replay
// guard (§4.3), applied to every ClientHello and every 0-RTT resumption.
// Grounded on the bounded-eviction idiom the teacher uses for its replay
// caches (core/sphinx packet-tag replay filters bound by capacity and
// evict rather than grow unboundedly); this guard applies the same shape
// to (nonce, timestamp) pairs instead of Sphinx tags.
package replay

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrTimestampOutOfRange is returned when |now-ts| exceeds the
	// configured max clock skew.
	ErrTimestampOutOfRange = errors.New("replay: timestamp outside allowed clock skew")
	// ErrDuplicateNonce is returned when the nonce has already been seen,
	// or is numerically older than the current window minimum.
	ErrDuplicateNonce = errors.New("replay: duplicate or stale nonce")
)

// DefaultMaxClockSkewMillis is §4.3's default max clock skew (300 s).
const DefaultMaxClockSkewMillis = 300_000

// DefaultCapacity is §4.3's default window capacity (10 000 nonces).
const DefaultCapacity = 10_000

// Guard is a sliding window of recently seen nonces, bounded by Capacity
// and gated by MaxClockSkewMillis. The zero value is not usable; use New.
type Guard struct {
	maxSkewMillis uint64
	capacity      int

	mu       sync.Mutex
	seen     map[uint64]struct{}
	minNonce uint64
	haveMin  bool
}

// New returns a Guard with the given clock-skew tolerance and capacity.
// A zero/negative value for either falls back to the §4.3 default.
func New(maxSkewMillis uint64, capacity int) *Guard {
	if maxSkewMillis == 0 {
		maxSkewMillis = DefaultMaxClockSkewMillis
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{
		maxSkewMillis: maxSkewMillis,
		capacity:      capacity,
		seen:          make(map[uint64]struct{}, capacity),
	}
}

// CheckAndRegister validates (nonce, ts) against now and, if it passes,
// records the nonce so a repeat is rejected. ts and now are both
// millisecond epoch timestamps.
func (g *Guard) CheckAndRegister(nonce uint64, ts, now uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var skew uint64
	if now >= ts {
		skew = now - ts
	} else {
		skew = ts - now
	}
	if skew > g.maxSkewMillis {
		return ErrTimestampOutOfRange
	}

	if _, dup := g.seen[nonce]; dup {
		return ErrDuplicateNonce
	}
	if g.haveMin && nonce < g.minNonce {
		return ErrDuplicateNonce
	}

	g.seen[nonce] = struct{}{}
	if !g.haveMin {
		g.minNonce = nonce
		g.haveMin = true
	}

	if len(g.seen) > g.capacity {
		g.evictOldestHalf()
	}
	return nil
}

// evictOldestHalf drops the numerically smallest half of the window,
// per §4.3, and advances minNonce to the new floor. Must be called with
// g.mu held.
func (g *Guard) evictOldestHalf() {
	nonces := make([]uint64, 0, len(g.seen))
	for n := range g.seen {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })

	cut := len(nonces) / 2
	for _, n := range nonces[:cut] {
		delete(g.seen, n)
	}
	if cut < len(nonces) {
		g.minNonce = nonces[cut]
	}
}

// Len reports the current number of tracked nonces, for metrics/tests.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
