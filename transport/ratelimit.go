package transport

import (
	"sync"
	"time"
)

// TokenBucket is a classic token-bucket rate limiter backing the
// per-connection rate_limit_messages / rate_limit_bytes config knobs
// (§6; supplemented from original_source's ip_blacklist/ddos_protection
// intent, scoped down to the per-connection contract spec.md keeps).
type TokenBucket struct {
	mu sync.Mutex

	ratePerSec float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket returns a bucket that refills at ratePerSec up to
// capacity, starting full.
func NewTokenBucket(ratePerSec, capacity float64) *TokenBucket {
	return &TokenBucket{
		ratePerSec: ratePerSec,
		capacity:   capacity,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// Allow reports whether n tokens (messages or bytes) may be consumed
// right now, deducting them if so.
func (b *TokenBucket) Allow(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.ratePerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// RateLimiter pairs a message-count bucket and a byte-count bucket per
// §6's rate_limit_messages / rate_limit_bytes options.
type RateLimiter struct {
	messages *TokenBucket
	bytes    *TokenBucket
}

// NewRateLimiter returns a RateLimiter with one second's worth of burst
// capacity in each dimension, matching the per-second config units.
func NewRateLimiter(messagesPerSec int, bytesPerSec int64) *RateLimiter {
	return &RateLimiter{
		messages: NewTokenBucket(float64(messagesPerSec), float64(messagesPerSec)),
		bytes:    NewTokenBucket(float64(bytesPerSec), float64(bytesPerSec)),
	}
}

// Allow reports whether sending one message of n bytes is within both
// the message-rate and byte-rate budgets.
func (r *RateLimiter) Allow(n int) bool {
	// Both buckets must be checked, but only deduct from byte bucket if
	// the message bucket itself isn't already exhausted, so callers that
	// fail on messages-per-second don't silently leak byte budget.
	if !r.messages.Allow(1) {
		return false
	}
	return r.bytes.Allow(float64(n))
}
