package idempotency

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashCanonical_StableAcrossCalls(t *testing.T) {
	type payload struct {
		TableID    int64 `json:"table_id"`
		GuestCount int   `json:"guest_count"`
	}

	a, err := HashCanonical(payload{TableID: 10, GuestCount: 4})
	require.NoError(t, err)

	b, err := HashCanonical(payload{TableID: 10, GuestCount: 4})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := HashCanonical(payload{TableID: 10, GuestCount: 5})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestHashCanonical_MapKeyOrderIrrelevant(t *testing.T) {
	a, err := HashCanonical(map[string]any{"x": 1, "y": 2})
	require.NoError(t, err)

	b, err := HashCanonical(map[string]any{"y": 2, "x": 1})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestLedger_FreshThenReplay(t *testing.T) {
	l := NewLedger(Config{})

	calls := 0
	compute := func() (Result, error) {
		calls++
		return Result{Body: []byte(`{"id":1}`)}, nil
	}

	res, cached, err := l.Resolve("1:hold", "key-1", "h1", compute)
	require.NoError(t, err)
	require.False(t, cached)
	require.JSONEq(t, `{"id":1}`, string(res.Body))

	res, cached, err = l.Resolve("1:hold", "key-1", "h1", compute)
	require.NoError(t, err)
	require.True(t, cached)
	require.JSONEq(t, `{"id":1}`, string(res.Body))
	require.Equal(t, 1, calls)
}

func TestLedger_ConflictOnDifferentHash(t *testing.T) {
	l := NewLedger(Config{})

	_, _, err := l.Resolve("1:hold", "key-1", "h1", func() (Result, error) {
		return Result{Body: []byte(`{}`)}, nil
	})
	require.NoError(t, err)

	_, _, err = l.Resolve("1:hold", "key-1", "h2", func() (Result, error) {
		t.Fatal("compute must not run on a conflicting key")
		return Result{}, nil
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestLedger_ScopesIsolateKeys(t *testing.T) {
	l := NewLedger(Config{})

	calls := 0
	compute := func() (Result, error) {
		calls++
		return Result{Body: []byte(`{}`)}, nil
	}

	_, _, err := l.Resolve("1:hold", "key-1", "h1", compute)
	require.NoError(t, err)

	_, cached, err := l.Resolve("2:hold", "key-1", "h1", compute)
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, 2, calls)
}

func TestLedger_FailedComputeDoesNotBurnKey(t *testing.T) {
	l := NewLedger(Config{})

	boom := errors.New("boom")

	_, _, err := l.Resolve("1:hold", "key-1", "h1", func() (Result, error) {
		return Result{}, boom
	})
	require.ErrorIs(t, err, boom)

	res, cached, err := l.Resolve("1:hold", "key-1", "h1", func() (Result, error) {
		return Result{Body: []byte(`{"ok":true}`)}, nil
	})
	require.NoError(t, err)
	require.False(t, cached)
	require.JSONEq(t, `{"ok":true}`, string(res.Body))
}

func TestLedger_ExactlyOneComputeUnderContention(t *testing.T) {
	l := NewLedger(Config{})

	var computes atomic.Int32
	var cachedHits atomic.Int32
	var failures atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, cached, err := l.Resolve("9:hold", "shared", "h1", func() (Result, error) {
				computes.Add(1)
				return Result{Body: []byte(`{"winner":true}`)}, nil
			})
			if err != nil || string(res.Body) != `{"winner":true}` {
				failures.Add(1)
				return
			}

			if cached {
				cachedHits.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, failures.Load())
	require.Equal(t, int32(1), computes.Load())
	require.Equal(t, int32(63), cachedHits.Load())
}

func TestLedger_TTLExpiryAllowsRecompute(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLedger(Config{TTL: 15 * time.Minute, Now: func() time.Time { return now }})

	calls := 0
	compute := func() (Result, error) {
		calls++
		return Result{Body: []byte(`{}`)}, nil
	}

	_, _, err := l.Resolve("1:hold", "key-1", "h1", compute)
	require.NoError(t, err)

	now = now.Add(14 * time.Minute)
	_, cached, err := l.Resolve("1:hold", "key-1", "h1", compute)
	require.NoError(t, err)
	require.True(t, cached)

	now = now.Add(2 * time.Minute)
	_, cached, err = l.Resolve("1:hold", "key-1", "h1", compute)
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, 2, calls)

	// A different hash after expiry is a new request, not a conflict.
	now = now.Add(16 * time.Minute)
	_, _, err = l.Resolve("1:hold", "key-1", "h2", compute)
	require.NoError(t, err)
}

func TestLedger_CapEvictsOldestRecords(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLedger(Config{TTL: time.Hour, MaxEntries: 10, Now: func() time.Time { return now }})

	for i := 0; i < 30; i++ {
		now = now.Add(time.Second)

		_, _, err := l.Resolve("1:hold", fmt.Sprintf("key-%d", i), "h1", func() (Result, error) {
			return Result{Body: []byte(`{}`)}, nil
		})
		require.NoError(t, err)
	}

	require.LessOrEqual(t, l.Size(), 11, "ledger must stay near its entry cap")
}
