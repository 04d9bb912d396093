package ratelimit

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultTTL        = 30 * time.Minute
	defaultMaxEntries = 5_000
	defaultSweepEvery = 15 * time.Second
)

// Limit is a per-route bucket configuration.
type Limit struct {
	Capacity     float64
	RefillPerSec float64
}

// Decision is the outcome of one limiter call.
type Decision struct {
	Allowed           bool
	Limit             float64
	Remaining         float64
	RetryAfterSeconds float64
}

type entry struct {
	bucket   *Bucket
	lastSeen time.Time
}

type RegistryConfig struct {
	TTL        time.Duration // idle time before a bucket is swept
	MaxEntries int           // hard cap on tracked buckets
	SweepEvery time.Duration // minimum interval between sweeps
	Now        func() time.Time
}

// Registry owns one bucket per logical key ("action:userId"), created lazily
// and swept opportunistically on the calling goroutine.
type Registry struct {
	ttl        time.Duration
	maxEntries int
	sweepEvery time.Duration
	now        func() time.Time

	mu        sync.Mutex
	buckets   map[string]*entry
	lastSweep time.Time
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}

	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = defaultSweepEvery
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Registry{
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		sweepEvery: cfg.SweepEvery,
		now:        cfg.Now,
		buckets:    make(map[string]*entry),
		lastSweep:  cfg.Now(),
	}
}

// Acquire takes one token from the key's bucket, synthesizing the bucket on
// first use with the given parameters. Never fails.
func (r *Registry) Acquire(key string, limit Limit) Decision {
	now := r.now()

	r.mu.Lock()
	e := r.get(key, limit, now)
	r.sweep(now)
	r.mu.Unlock()

	allowed := e.bucket.TryAcquire(now)
	snap := e.bucket.Snapshot(now)

	return Decision{
		Allowed:           allowed,
		Limit:             snap.Limit,
		Remaining:         snap.Remaining,
		RetryAfterSeconds: snap.RetryAfterSeconds,
	}
}

// Peek reports the bucket state without consuming a token, so rejection paths
// can still surface rate-limit headers before an attempt is charged.
func (r *Registry) Peek(key string, limit Limit) Decision {
	now := r.now()

	r.mu.Lock()
	e := r.get(key, limit, now)
	r.sweep(now)
	r.mu.Unlock()

	snap := e.bucket.Snapshot(now)

	return Decision{
		Allowed:           snap.Remaining >= 1,
		Limit:             snap.Limit,
		Remaining:         snap.Remaining,
		RetryAfterSeconds: snap.RetryAfterSeconds,
	}
}

// Size reports the number of tracked buckets.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

func (r *Registry) get(key string, limit Limit, now time.Time) *entry {
	e, ok := r.buckets[key]
	if !ok {
		e = &entry{bucket: NewBucket(limit.Capacity, limit.RefillPerSec, now)}
		r.buckets[key] = e
	}

	e.lastSeen = now

	return e
}

// sweep runs at most once per sweepEvery: drops idle buckets, then drops the
// oldest regardless of TTL while the map exceeds maxEntries.
func (r *Registry) sweep(now time.Time) {
	if len(r.buckets) == 0 || now.Sub(r.lastSweep) < r.sweepEvery {
		return
	}

	r.lastSweep = now

	for k, e := range r.buckets {
		if now.Sub(e.lastSeen) > r.ttl {
			delete(r.buckets, k)
		}
	}

	overflow := len(r.buckets) - r.maxEntries
	if overflow <= 0 {
		return
	}

	type aged struct {
		key      string
		lastSeen time.Time
	}

	oldest := make([]aged, 0, len(r.buckets))
	for k, e := range r.buckets {
		oldest = append(oldest, aged{key: k, lastSeen: e.lastSeen})
	}

	sort.Slice(oldest, func(i, j int) bool {
		return oldest[i].lastSeen.Before(oldest[j].lastSeen)
	})

	for i := 0; i < overflow; i++ {
		delete(r.buckets, oldest[i].key)
	}
}
