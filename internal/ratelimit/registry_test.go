package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(clock *fakeClock) *Registry {
	return NewRegistry(RegistryConfig{Now: clock.now})
}

func TestRegistry_BurstThenDeny(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := newTestRegistry(clock)
	limit := Limit{Capacity: 5, RefillPerSec: 1}

	for i := 0; i < 5; i++ {
		d := r.Acquire("hold:1", limit)
		require.True(t, d.Allowed, "request %d should pass within the burst", i)
	}

	d := r.Acquire("hold:1", limit)
	require.False(t, d.Allowed)
	require.InDelta(t, 1.0, d.RetryAfterSeconds, 0.01)
}

func TestRegistry_RefillRestoresTokens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := newTestRegistry(clock)
	limit := Limit{Capacity: 5, RefillPerSec: 1}

	for i := 0; i < 5; i++ {
		require.True(t, r.Acquire("confirm:1", limit).Allowed)
	}

	require.False(t, r.Acquire("confirm:1", limit).Allowed)

	clock.advance(1100 * time.Millisecond)
	require.True(t, r.Acquire("confirm:1", limit).Allowed)
	require.False(t, r.Acquire("confirm:1", limit).Allowed)
}

func TestRegistry_FractionalRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := newTestRegistry(clock)
	limit := Limit{Capacity: 5, RefillPerSec: 0.5}

	for i := 0; i < 5; i++ {
		require.True(t, r.Acquire("k", limit).Allowed)
	}

	d := r.Acquire("k", limit)
	require.False(t, d.Allowed)
	require.InDelta(t, 2.0, d.RetryAfterSeconds, 0.01)

	clock.advance(1 * time.Second)
	require.False(t, r.Acquire("k", limit).Allowed, "half a token is not enough")

	clock.advance(2 * time.Second)
	require.True(t, r.Acquire("k", limit).Allowed)
}

func TestRegistry_PeekDoesNotConsume(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := newTestRegistry(clock)
	limit := Limit{Capacity: 2, RefillPerSec: 1}

	for i := 0; i < 10; i++ {
		d := r.Peek("plus_one:7", limit)
		require.True(t, d.Allowed)
		require.InDelta(t, 2.0, d.Remaining, 0.001)
	}

	require.True(t, r.Acquire("plus_one:7", limit).Allowed)
	require.True(t, r.Acquire("plus_one:7", limit).Allowed)
	require.False(t, r.Acquire("plus_one:7", limit).Allowed)
	require.False(t, r.Peek("plus_one:7", limit).Allowed)
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := newTestRegistry(clock)
	limit := Limit{Capacity: 1, RefillPerSec: 0.001}

	require.True(t, r.Acquire("hold:1", limit).Allowed)
	require.False(t, r.Acquire("hold:1", limit).Allowed)
	require.True(t, r.Acquire("hold:2", limit).Allowed)
}

func TestRegistry_SweepEvictsIdleBuckets(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(RegistryConfig{
		TTL:        30 * time.Minute,
		SweepEvery: 15 * time.Second,
		Now:        clock.now,
	})
	limit := Limit{Capacity: 5, RefillPerSec: 1}

	r.Acquire("stale", limit)
	require.Equal(t, 1, r.Size())

	clock.advance(31 * time.Minute)
	r.Acquire("fresh", limit)
	require.Equal(t, 1, r.Size(), "idle bucket should be gone after the sweep")
}

func TestRegistry_SweepThrottled(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(RegistryConfig{
		TTL:        time.Minute,
		SweepEvery: 15 * time.Second,
		Now:        clock.now,
	})
	limit := Limit{Capacity: 5, RefillPerSec: 1}

	r.Acquire("a", limit)

	// Inside the sweep interval nothing is evicted even past TTL.
	clock.advance(10 * time.Second)
	r.Acquire("b", limit)
	require.Equal(t, 2, r.Size())
}

func TestRegistry_MaxEntriesEvictsOldest(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(RegistryConfig{
		TTL:        time.Hour,
		MaxEntries: 10,
		SweepEvery: time.Second,
		Now:        clock.now,
	})
	limit := Limit{Capacity: 5, RefillPerSec: 1}

	for i := 0; i < 30; i++ {
		clock.advance(2 * time.Second)
		r.Acquire(fmt.Sprintf("user:%d", i), limit)
	}

	require.LessOrEqual(t, r.Size(), 11, "registry must stay near its entry cap")
}
