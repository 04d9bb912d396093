package ratelimit

import (
	"sync"
	"time"
)

const (
	minCapacity     = 1.0
	minRefillPerSec = 0.001
)

// Bucket is a continuous token bucket: capacity is the burst size, tokens are
// replenished lazily at refillPerSec and never retroactively consumed.
type Bucket struct {
	capacity     float64
	refillPerSec float64

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

func NewBucket(capacity, refillPerSec float64, now time.Time) *Bucket {
	if capacity < minCapacity {
		capacity = minCapacity
	}

	if refillPerSec < minRefillPerSec {
		refillPerSec = minRefillPerSec
	}

	return &Bucket{
		capacity:     capacity,
		refillPerSec: refillPerSec,
		tokens:       capacity,
		lastRefill:   now,
	}
}

// TryAcquire refills the bucket for the elapsed time and takes one token.
// Never blocks.
func (b *Bucket) TryAcquire(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)

	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}

	return false
}

// Snapshot refills for the elapsed time but consumes nothing.
func (b *Bucket) Snapshot(now time.Time) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now)

	s := Snapshot{
		Limit:     b.capacity,
		Remaining: b.tokens,
	}

	if b.tokens < 1 {
		s.RetryAfterSeconds = (1 - b.tokens) / b.refillPerSec
	}

	return s
}

func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}

	b.tokens += elapsed.Seconds() * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	b.lastRefill = now
}

type Snapshot struct {
	Limit             float64
	Remaining         float64
	RetryAfterSeconds float64
}
