package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koteev-m/clubs-bot-sub002/internal/domain"
	"github.com/koteev-m/clubs-bot-sub002/internal/idempotency"
	"github.com/koteev-m/clubs-bot-sub002/internal/ledger"
	"github.com/koteev-m/clubs-bot-sub002/internal/repository/memory"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []domain.Booking
}

func (n *recordingNotifier) BookingChanged(_ context.Context, b domain.Booking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, b)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changes)
}

type fixture struct {
	svc      *Service
	tables   *ledger.Tables
	quotas   *ledger.PromoterQuotas
	notifier *recordingNotifier
	now      *time.Time
	start    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Unix(1_700_000_000, 0).UTC()
	clock := func() time.Time { return now }

	start := now.Add(2 * time.Hour)

	events := memory.NewEvents()
	events.Put(domain.Event{ID: 100, ClubID: 1, Title: "Friday night", Starts: start, Ends: start.Add(6 * time.Hour)})

	tables := ledger.NewTables(clock)
	tables.SetTable(1, 10, 8)
	tables.SetTable(1, 11, 4)

	quotas := ledger.NewPromoterQuotas(clock)
	idem := idempotency.NewLedger(idempotency.Config{Now: clock})
	notifier := &recordingNotifier{}

	svc := New(events, tables, quotas, idem, notifier, nil, Config{Now: clock})

	return &fixture{
		svc:      svc,
		tables:   tables,
		quotas:   quotas,
		notifier: notifier,
		now:      &now,
		start:    start,
	}
}

func TestService_HoldConfirmPlusOneFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)
	require.False(t, res.Cached)

	b := res.Booking
	require.Equal(t, domain.BookingHold, b.Status)
	require.Equal(t, 2, b.GuestCount)
	require.Equal(t, 8, b.CapacityAtHold)
	require.Equal(t, f.start.Add(-15*time.Minute), b.ArrivalStart)
	require.Equal(t, f.start.Add(45*time.Minute), b.ArrivalEnd)
	require.Equal(t, f.start.Add(30*time.Minute), b.LatePlusOneAllowedUntil)
	require.Equal(t, f.now.Add(10*time.Minute), b.HoldExpiresAt)

	res, err = f.svc.Confirm(ctx, 42, 1, b.ID, "k-confirm", "h2")
	require.NoError(t, err)
	require.False(t, res.Cached)
	require.Equal(t, domain.BookingBooked, res.Booking.Status)

	// Replayed confirm: same body, no extra transition.
	replayed, err := f.svc.Confirm(ctx, 42, 1, b.ID, "k-confirm", "h2")
	require.NoError(t, err)
	require.True(t, replayed.Cached)
	require.Equal(t, res.Body, replayed.Body)

	res, err = f.svc.PlusOne(ctx, 42, b.ID, "k-plus", "h3")
	require.NoError(t, err)
	require.Equal(t, 3, res.Booking.GuestCount)
	require.True(t, res.Booking.PlusOneUsed)

	_, err = f.svc.PlusOne(ctx, 42, b.ID, "k-plus-2", "h4")
	require.ErrorIs(t, err, ErrPlusOneAlreadyUsed)

	require.Equal(t, 3, f.notifier.count(), "replays and rejections must not notify")
}

func TestService_HoldReplayHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)

	replayed, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)
	require.True(t, replayed.Cached)
	require.Equal(t, res.Booking.ID, replayed.Booking.ID)
	require.Equal(t, res.Body, replayed.Body)

	// The table is still held by the original booking, not double-held.
	st := f.svc.TableStatus(1, 10, 100)
	require.Equal(t, domain.TableHeld, st.Status)
	require.Equal(t, res.Booking.ID, st.BookingID)
	require.Equal(t, 1, f.notifier.count())
}

func TestService_IdempotencyConflictLeavesBookingIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)

	_, err = f.svc.Hold(ctx, 42, 1, 10, 100, 4, "k-hold", "h-other", 0)
	require.ErrorIs(t, err, ErrIdempotencyConflict)

	b, ok := f.svc.Booking(res.Booking.ID)
	require.True(t, ok)
	require.Equal(t, 2, b.GuestCount)
	require.Equal(t, domain.BookingHold, b.Status)
}

func TestService_SecondHoldOnSameSlotRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-a", "h1", 0)
	require.NoError(t, err)

	_, err = f.svc.Hold(ctx, 43, 1, 10, 100, 2, "k-b", "h2", 0)
	require.ErrorIs(t, err, ErrTableNotAvailable)
}

func TestService_ConcurrentHoldsDistinctKeysOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wins atomic.Int32
	var conflicts atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		userID := int64(i + 1)

		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := f.svc.Hold(ctx, userID, 1, 10, 100, 2, fmt.Sprintf("k-%d", userID), "h1", 0)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrTableNotAvailable):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(31), conflicts.Load())
}

func TestService_HoldValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Hold(ctx, 42, 1, 10, 100, 0, "k", "h", 0)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Hold(ctx, 42, 1, 10, 999, 2, "k", "h", 0)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Hold(ctx, 42, 1, 11, 100, 5, "k", "h", 0)
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestService_ConfirmGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, 42, 1, 999, "k-1", "h")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Confirm(ctx, 43, 1, res.Booking.ID, "k-2", "h")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Confirm(ctx, 42, 2, res.Booking.ID, "k-3", "h")
	require.ErrorIs(t, err, ErrClubScopeMismatch)
}

func TestService_ConfirmAfterExpiryCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)

	*f.now = f.now.Add(11 * time.Minute)

	_, err = f.svc.Confirm(ctx, 42, 1, res.Booking.ID, "k-confirm", "h2")
	require.ErrorIs(t, err, ErrHoldExpired)

	b, ok := f.svc.Booking(res.Booking.ID)
	require.True(t, ok)
	require.Equal(t, domain.BookingCanceled, b.Status)

	// Slot is free again for someone else.
	_, err = f.svc.Hold(ctx, 43, 1, 10, 100, 2, "k-other", "h3", 0)
	require.NoError(t, err)
}

func TestService_PlusOneGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)

	// Plus-one on a HOLD is an invalid state.
	_, err = f.svc.PlusOne(ctx, 42, res.Booking.ID, "k-p1", "h2")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.Confirm(ctx, 42, 1, res.Booking.ID, "k-confirm", "h3")
	require.NoError(t, err)

	_, err = f.svc.PlusOne(ctx, 43, res.Booking.ID, "k-p2", "h4")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestService_PlusOneAfterLateWindowRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, 42, 1, res.Booking.ID, "k-confirm", "h2")
	require.NoError(t, err)

	// Past event start + 30m.
	*f.now = f.start.Add(31 * time.Minute)

	_, err = f.svc.PlusOne(ctx, 42, res.Booking.ID, "k-plus", "h3")
	require.ErrorIs(t, err, ErrLatePlusOneExpired)
}

func TestService_PlusOneCappedByCapacityAtHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 11, 100, 4, "k-hold", "h1", 0)
	require.NoError(t, err)
	require.Equal(t, 4, res.Booking.CapacityAtHold)

	_, err = f.svc.Confirm(ctx, 42, 1, res.Booking.ID, "k-confirm", "h2")
	require.NoError(t, err)

	_, err = f.svc.PlusOne(ctx, 42, res.Booking.ID, "k-plus", "h3")
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestService_PromoterQuotaChargedAndRolledBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.quotas.Upsert(domain.PromoterQuota{
		ClubID: 1, PromoterID: 7, TableID: 10,
		Quota: 1, ExpiresAt: f.now.Add(time.Hour),
	})

	_, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-a", "h1", 7)
	require.NoError(t, err)
	require.Equal(t, 1, f.quotas.Held(1, 7, 10))

	// Losing the table race must give the reserved quota slot back.
	f.quotas.Upsert(domain.PromoterQuota{
		ClubID: 1, PromoterID: 8, TableID: 10,
		Quota: 1, ExpiresAt: f.now.Add(time.Hour),
	})

	_, err = f.svc.Hold(ctx, 43, 1, 10, 100, 2, "k-b", "h2", 8)
	require.ErrorIs(t, err, ErrTableNotAvailable)
	require.Zero(t, f.quotas.Held(1, 8, 10))
}

func TestService_PromoterQuotaExhaustedRejectsHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.quotas.Upsert(domain.PromoterQuota{
		ClubID: 1, PromoterID: 7, TableID: 11,
		Quota: 0, ExpiresAt: f.now.Add(time.Hour),
	})

	_, err := f.svc.Hold(ctx, 42, 1, 11, 100, 2, "k", "h", 7)
	require.ErrorIs(t, err, ErrPromoterQuotaExhausted)

	// The table itself stays free.
	require.Equal(t, domain.TableFree, f.svc.TableStatus(1, 11, 100).Status)
}

func TestService_ExpireHoldsReapsAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)

	*f.now = f.now.Add(11 * time.Minute)

	require.Equal(t, 1, f.svc.ExpireHolds(ctx))

	b, ok := f.svc.Booking(res.Booking.ID)
	require.True(t, ok)
	require.Equal(t, domain.BookingCanceled, b.Status)
	require.Equal(t, domain.TableFree, f.svc.TableStatus(1, 10, 100).Status)

	require.Zero(t, f.svc.ExpireHolds(ctx), "second sweep finds nothing")
}

func TestService_UserBookingsAndRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Hold(ctx, 42, 1, 10, 100, 2, "k-hold", "h1", 0)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, 42, 1, res.Booking.ID, "k-confirm", "h2")
	require.NoError(t, err)

	require.Len(t, f.svc.UserBookings(42), 1)
	require.Empty(t, f.svc.UserBookings(43))

	// Confirmed bookings survive until retention past the arrival window.
	*f.now = f.now.Add(49 * time.Hour)
	require.Len(t, f.svc.UserBookings(42), 1)

	*f.now = f.start.Add(45*time.Minute + 49*time.Hour)
	require.Empty(t, f.svc.UserBookings(42))
}
