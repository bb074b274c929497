// Package ratelimit implements a lock-free, per-chat token-bucket rate
// limiter with background refill, priority queuing, and memory-bounded
// bucket lifecycle (spec §4.1-4.2).
package ratelimit

import "sync/atomic"

// Stats is a snapshot of a bucket's monotonic counters.
type Stats struct {
	Total       uint64
	Allowed     uint64
	RateLimited uint64
}

// Bucket is a bounded, refillable token counter safe for concurrent use.
// TryConsume is wait-free (a single CAS retry loop); Refill is a CAS loop
// that saturates at capacity, and statistics use plain atomic adds. The background refill goroutine that calls Refill
// is owned by the containing Limiter, not by the bucket itself.
type Bucket struct {
	capacity      uint32
	refillPerTick uint32

	available atomic.Uint32

	total       atomic.Uint64
	allowed     atomic.Uint64
	rateLimited atomic.Uint64

	lastAccessUnixNano atomic.Int64
}

// NewBucket returns a bucket starting at full capacity (no warm-up latency).
func NewBucket(capacity, refillPerTick uint32, nowUnixNano int64) *Bucket {
	b := &Bucket{capacity: capacity, refillPerTick: refillPerTick}
	b.available.Store(capacity)
	b.lastAccessUnixNano.Store(nowUnixNano)
	return b
}

// TryConsume atomically decrements available by 1 if it is positive.
// Returns whether a token was obtained.
func (b *Bucket) TryConsume() bool {
	b.total.Add(1)
	for {
		cur := b.available.Load()
		if cur == 0 {
			b.rateLimited.Add(1)
			return false
		}
		if b.available.CompareAndSwap(cur, cur-1) {
			b.allowed.Add(1)
			return true
		}
	}
}

// TryConsumeN atomically decrements available by n if it has at least n
// tokens. It does not update the bucket's statistics; the Limiter's
// priority pool draws single tokens through TryConsume, not through this.
func (b *Bucket) TryConsumeN(n uint32) bool {
	for {
		cur := b.available.Load()
		if cur < n {
			return false
		}
		if b.available.CompareAndSwap(cur, cur-n) {
			return true
		}
	}
}

// AvailableTokens loads the current count (relaxed ordering acceptable).
func (b *Bucket) AvailableTokens() uint32 {
	return b.available.Load()
}

// Refill adds refillPerTick to available, saturating at capacity. Called
// once per tick_period by the limiter's shared ticker goroutine, never on
// the hot path.
func (b *Bucket) Refill() {
	for {
		cur := b.available.Load()
		next := cur + b.refillPerTick
		if next > b.capacity || next < cur { // overflow guard
			next = b.capacity
		}
		if cur == next {
			return
		}
		if b.available.CompareAndSwap(cur, next) {
			return
		}
	}
}

// GetStats returns a snapshot of the bucket's monotonic counters.
func (b *Bucket) GetStats() Stats {
	return Stats{
		Total:       b.total.Load(),
		Allowed:     b.allowed.Load(),
		RateLimited: b.rateLimited.Load(),
	}
}

// Touch records the current time as the bucket's last-access instant, for idle eviction.
func (b *Bucket) Touch(nowUnixNano int64) {
	b.lastAccessUnixNano.Store(nowUnixNano)
}

// LastAccessUnixNano returns the last instant the bucket was touched.
func (b *Bucket) LastAccessUnixNano() int64 {
	return b.lastAccessUnixNano.Load()
}
