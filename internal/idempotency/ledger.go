package idempotency

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrConflict means the same client-chosen key was reused for a materially
// different request.
var ErrConflict = errors.New("idempotency key conflict")

const (
	defaultTTL        = 15 * time.Minute
	defaultMaxEntries = 10_000
)

// Result is what a computed operation stores for replay.
type Result struct {
	Body []byte
}

type record struct {
	requestHash string
	body        []byte
	createdAt   time.Time
}

type recordKey struct {
	scope string
	key   string
}

// slot serializes all requests for one (scope, key): exactly one caller ever
// runs compute for a fresh key, the rest replay or conflict in
// lock-acquisition order.
type slot struct {
	mu sync.Mutex
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

// Ledger maps (scope, idempotency key) to the canonical hash of the request
// that produced a response plus the stored response body. Records are
// read-only once written: a key is never overwritten with a different hash.
type Ledger struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	slots   map[recordKey]*slot
	records map[recordKey]*record
}

func NewLedger(cfg Config) *Ledger {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Ledger{
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
		slots:      make(map[recordKey]*slot),
		records:    make(map[recordKey]*record),
	}
}

// Resolve runs compute exactly once per fresh (scope, key) and replays the
// stored result afterwards. The second return value reports the replay path.
//
// Semantics:
//   - no record: compute() runs under the key's lock; a successful result is
//     stored and returned fresh. Errors are not stored, so a failed attempt
//     does not burn the key.
//   - record with the same requestHash: the stored result, cached=true,
//     compute() is not invoked.
//   - record with a different requestHash: ErrConflict.
func (l *Ledger) Resolve(scope, key, requestHash string, compute func() (Result, error)) (Result, bool, error) {
	k := recordKey{scope: scope, key: key}
	now := l.now()

	s := l.acquireSlot(k, now)
	defer s.mu.Unlock()

	l.mu.Lock()
	rec := l.records[k]
	if rec != nil && now.Sub(rec.createdAt) >= l.ttl {
		delete(l.records, k)
		rec = nil
	}
	l.mu.Unlock()

	if rec != nil {
		if rec.requestHash == requestHash {
			return Result{Body: rec.body}, true, nil
		}

		return Result{}, false, ErrConflict
	}

	res, err := compute()
	if err != nil {
		return Result{}, false, err
	}

	l.mu.Lock()
	l.records[k] = &record{
		requestHash: requestHash,
		body:        res.Body,
		createdAt:   now,
	}
	l.mu.Unlock()

	return res, false, nil
}

// Size reports the number of stored records.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// acquireSlot returns the key's slot with its lock held. A slot can be pruned
// between lookup and lock, so revalidate after locking and retry.
func (l *Ledger) acquireSlot(k recordKey, now time.Time) *slot {
	for {
		l.mu.Lock()
		l.pruneLocked(now)

		s, ok := l.slots[k]
		if !ok {
			s = &slot{}
			l.slots[k] = s
		}
		l.mu.Unlock()

		s.mu.Lock()

		l.mu.Lock()
		current := l.slots[k]
		l.mu.Unlock()

		if current == s {
			return s
		}

		s.mu.Unlock()
	}
}

// pruneLocked drops expired records, then evicts the oldest while over the
// entry cap. Slots without a record belong to in-flight computes and stay.
func (l *Ledger) pruneLocked(now time.Time) {
	for k, rec := range l.records {
		if now.Sub(rec.createdAt) >= l.ttl {
			delete(l.records, k)
			delete(l.slots, k)
		}
	}

	overflow := len(l.records) - l.maxEntries
	if overflow <= 0 {
		return
	}

	type aged struct {
		key       recordKey
		createdAt time.Time
	}

	stored := make([]aged, 0, len(l.records))
	for k, rec := range l.records {
		stored = append(stored, aged{key: k, createdAt: rec.createdAt})
	}

	sort.Slice(stored, func(i, j int) bool {
		return stored[i].createdAt.Before(stored[j].createdAt)
	})

	for i := 0; i < overflow; i++ {
		delete(l.records, stored[i].key)
		delete(l.slots, stored[i].key)
	}
}
