package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koteev-m/clubs-bot-sub002/internal/domain"
	"github.com/koteev-m/clubs-bot-sub002/internal/idempotency"
	"github.com/koteev-m/clubs-bot-sub002/internal/ledger"
)

// EventCatalog resolves an event's schedule; arrival windows derive from it.
type EventCatalog interface {
	Find(clubID, eventID int64) (domain.Event, bool)
}

// Notifier receives bookings after a state transition commits. Called outside
// the critical sections, never on idempotent replays.
type Notifier interface {
	BookingChanged(ctx context.Context, b domain.Booking)
}

type Config struct {
	HoldTTL             time.Duration
	ArrivalWindowBefore time.Duration
	ArrivalWindowAfter  time.Duration
	LatePlusOneOffset   time.Duration
	BookingRetention    time.Duration
	Now                 func() time.Time
}

// Service is the hold -> confirm -> plus-one state machine. It consults the
// idempotency ledger first (fast-path replay), then the availability and
// promoter-quota ledgers, mutates booking state and writes the result back to
// the idempotency ledger before returning.
type Service struct {
	events   EventCatalog
	tables   *ledger.Tables
	quotas   *ledger.PromoterQuotas
	idem     *idempotency.Ledger
	notifier Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	seq      atomic.Int64
	mu       sync.Mutex
	bookings map[int64]*domain.Booking
}

// Result carries the booking after an operation. Body is the stored wire
// representation; Cached marks the idempotency replay path, on which no new
// side effects occurred.
type Result struct {
	Booking domain.Booking
	Body    []byte
	Cached  bool
}

func New(
	events EventCatalog,
	tables *ledger.Tables,
	quotas *ledger.PromoterQuotas,
	idem *idempotency.Ledger,
	notifier Notifier,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 10 * time.Minute
	}

	if cfg.ArrivalWindowBefore <= 0 {
		cfg.ArrivalWindowBefore = 15 * time.Minute
	}

	if cfg.ArrivalWindowAfter <= 0 {
		cfg.ArrivalWindowAfter = 45 * time.Minute
	}

	if cfg.LatePlusOneOffset <= 0 {
		cfg.LatePlusOneOffset = 30 * time.Minute
	}

	if cfg.BookingRetention <= 0 {
		cfg.BookingRetention = 48 * time.Hour
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		events:   events,
		tables:   tables,
		quotas:   quotas,
		idem:     idem,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      cfg.Now,
		bookings: make(map[int64]*domain.Booking),
	}
}

// Hold places a time-bounded exclusive claim on a table for an event. The
// whole validate-and-mutate sequence runs under the idempotency ledger, so a
// retried request has exactly one effect.
func (s *Service) Hold(
	ctx context.Context,
	userID, clubID, tableID, eventID int64,
	guestCount int,
	idemKey, requestHash string,
	promoterID int64,
) (Result, error) {
	const op = "booking.Service.Hold"

	if userID <= 0 || clubID <= 0 || tableID <= 0 || eventID <= 0 || guestCount <= 0 {
		return Result{}, fmt.Errorf("%s:%w", op, ErrValidation)
	}

	now := s.now()
	s.cleanup(now)

	scope := fmt.Sprintf("%d:POST:/api/clubs/%d/bookings/hold", userID, clubID)

	var fresh domain.Booking

	res, cached, err := s.idem.Resolve(scope, idemKey, requestHash, func() (idempotency.Result, error) {
		b, err := s.placeHold(userID, clubID, tableID, eventID, guestCount, promoterID, now)
		if err != nil {
			return idempotency.Result{}, err
		}

		body, err := json.Marshal(b.View())
		if err != nil {
			return idempotency.Result{}, fmt.Errorf("%s:%w", op, err)
		}

		fresh = b

		return idempotency.Result{Body: body}, nil
	})
	if err != nil {
		return Result{}, wrapOp(op, err)
	}

	if cached {
		return replay(op, res.Body, userID)
	}

	if s.notifier != nil {
		s.notifier.BookingChanged(ctx, fresh)
	}

	s.audit("hold", fresh)

	return Result{Booking: fresh, Body: res.Body}, nil
}

// Confirm promotes a live hold owned by userID to a guaranteed booking.
func (s *Service) Confirm(
	ctx context.Context,
	userID, clubID, bookingID int64,
	idemKey, requestHash string,
) (Result, error) {
	const op = "booking.Service.Confirm"

	if userID <= 0 || clubID <= 0 || bookingID <= 0 {
		return Result{}, fmt.Errorf("%s:%w", op, ErrValidation)
	}

	now := s.now()
	s.cleanup(now)

	scope := fmt.Sprintf("%d:POST:/api/clubs/%d/bookings/confirm/%d", userID, clubID, bookingID)

	var fresh domain.Booking

	res, cached, err := s.idem.Resolve(scope, idemKey, requestHash, func() (idempotency.Result, error) {
		b, err := s.promote(userID, clubID, bookingID, now)
		if err != nil {
			return idempotency.Result{}, err
		}

		body, err := json.Marshal(b.View())
		if err != nil {
			return idempotency.Result{}, fmt.Errorf("%s:%w", op, err)
		}

		fresh = b

		return idempotency.Result{Body: body}, nil
	})
	if err != nil {
		return Result{}, wrapOp(op, err)
	}

	if cached {
		return replay(op, res.Body, userID)
	}

	if s.notifier != nil {
		s.notifier.BookingChanged(ctx, fresh)
	}

	s.audit("confirm", fresh)

	return Result{Booking: fresh, Body: res.Body}, nil
}

// PlusOne increments the guest count of a confirmed booking exactly once,
// before the late plus-one deadline and within the capacity recorded at hold.
func (s *Service) PlusOne(
	ctx context.Context,
	userID, bookingID int64,
	idemKey, requestHash string,
) (Result, error) {
	const op = "booking.Service.PlusOne"

	if userID <= 0 || bookingID <= 0 {
		return Result{}, fmt.Errorf("%s:%w", op, ErrValidation)
	}

	now := s.now()
	s.cleanup(now)

	scope := fmt.Sprintf("%d:POST:/api/bookings/%d/plus-one", userID, bookingID)

	var fresh domain.Booking

	res, cached, err := s.idem.Resolve(scope, idemKey, requestHash, func() (idempotency.Result, error) {
		b, err := s.addGuest(userID, bookingID, now)
		if err != nil {
			return idempotency.Result{}, err
		}

		body, err := json.Marshal(b.View())
		if err != nil {
			return idempotency.Result{}, fmt.Errorf("%s:%w", op, err)
		}

		fresh = b

		return idempotency.Result{Body: body}, nil
	})
	if err != nil {
		return Result{}, wrapOp(op, err)
	}

	if cached {
		return replay(op, res.Body, userID)
	}

	if s.notifier != nil {
		s.notifier.BookingChanged(ctx, fresh)
	}

	s.audit("plus_one", fresh)

	return Result{Booking: fresh, Body: res.Body}, nil
}

// Booking returns a copy of the booking, when it exists.
func (s *Service) Booking(bookingID int64) (domain.Booking, bool) {
	s.cleanup(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.Booking{}, false
	}

	return *b, true
}

// UserBookings lists the user's bookings.
func (s *Service) UserBookings(userID int64) []domain.Booking {
	s.cleanup(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Booking

	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}

	return out
}

// TableStatus reports the slot occupancy for one (club, table, event).
func (s *Service) TableStatus(clubID, tableID, eventID int64) domain.SlotState {
	return s.tables.Status(clubID, tableID, eventID)
}

// ExpireHolds releases every expired hold and cancels its booking. This is
// the reaper entry point: expiry is otherwise a lazy check on confirm and
// plus-one, never a background timer inside the core.
func (s *Service) ExpireHolds(ctx context.Context) int {
	now := s.now()
	released := s.tables.ReleaseExpired()

	for _, id := range released {
		if b, ok := s.cancelHold(id, now); ok {
			if s.notifier != nil {
				s.notifier.BookingChanged(ctx, b)
			}

			s.logger.Debug("booking.expired", "booking_id", id)
		}
	}

	return len(released)
}

func (s *Service) placeHold(userID, clubID, tableID, eventID int64, guestCount int, promoterID int64, now time.Time) (domain.Booking, error) {
	const op = "booking.Service.placeHold"

	ev, ok := s.events.Find(clubID, eventID)
	if !ok {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrNotFound)
	}

	reserved := false

	if promoterID > 0 {
		r, err := s.quotas.Reserve(clubID, promoterID, tableID, 1)
		if err != nil {
			return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrPromoterQuotaExhausted)
		}

		reserved = r
	}

	bookingID := s.seq.Add(1)
	expiresAt := now.Add(s.cfg.HoldTTL)

	capacityAtHold, err := s.tables.TryHold(clubID, tableID, eventID, guestCount, bookingID, expiresAt)
	if err != nil {
		// Quota and slot must not diverge: give the reserved slot back when
		// the table hold loses.
		if reserved {
			s.quotas.Release(clubID, promoterID, tableID, 1)
		}

		switch {
		case errors.Is(err, ledger.ErrTableNotFound):
			return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrNotFound)
		case errors.Is(err, ledger.ErrCapacityExceeded):
			return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrCapacityExceeded)
		case errors.Is(err, ledger.ErrTableNotAvailable):
			return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrTableNotAvailable)
		}

		return domain.Booking{}, fmt.Errorf("%s:%w", op, err)
	}

	b := domain.Booking{
		ID:                      bookingID,
		UserID:                  userID,
		ClubID:                  clubID,
		TableID:                 tableID,
		EventID:                 eventID,
		Status:                  domain.BookingHold,
		GuestCount:              guestCount,
		ArrivalStart:            ev.Starts.Add(-s.cfg.ArrivalWindowBefore),
		ArrivalEnd:              ev.Starts.Add(s.cfg.ArrivalWindowAfter),
		LatePlusOneAllowedUntil: ev.Starts.Add(s.cfg.LatePlusOneOffset),
		PlusOneUsed:             false,
		CapacityAtHold:          capacityAtHold,
		CreatedAt:               now,
		UpdatedAt:               now,
		HoldExpiresAt:           expiresAt,
	}

	s.mu.Lock()
	s.bookings[bookingID] = &b
	s.mu.Unlock()

	return b, nil
}

func (s *Service) promote(userID, clubID, bookingID int64, now time.Time) (domain.Booking, error) {
	const op = "booking.Service.promote"

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrNotFound)
	}

	if b.UserID != userID {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrForbidden)
	}

	if b.ClubID != clubID {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrClubScopeMismatch)
	}

	if b.Status != domain.BookingHold {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrInvalidState)
	}

	if !b.HoldExpiresAt.IsZero() && b.HoldExpiresAt.Before(now) {
		b.Status = domain.BookingCanceled
		b.UpdatedAt = now
		s.tables.Release(bookingID)

		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrHoldExpired)
	}

	if err := s.tables.Promote(bookingID); err != nil {
		// The slot was lost under us (expired and re-held, or released by
		// the reaper); never silently confirm a stale hold.
		b.Status = domain.BookingCanceled
		b.UpdatedAt = now

		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrHoldExpired)
	}

	b.Status = domain.BookingBooked
	b.UpdatedAt = now

	return *b, nil
}

func (s *Service) addGuest(userID, bookingID int64, now time.Time) (domain.Booking, error) {
	const op = "booking.Service.addGuest"

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrNotFound)
	}

	if b.UserID != userID {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrForbidden)
	}

	if b.Status != domain.BookingBooked {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrInvalidState)
	}

	if b.PlusOneUsed {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrPlusOneAlreadyUsed)
	}

	if !b.LatePlusOneAllowedUntil.IsZero() && now.After(b.LatePlusOneAllowedUntil) {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrLatePlusOneExpired)
	}

	if b.GuestCount+1 > b.CapacityAtHold {
		return domain.Booking{}, fmt.Errorf("%s:%w", op, ErrCapacityExceeded)
	}

	b.GuestCount++
	b.PlusOneUsed = true
	b.UpdatedAt = now

	return *b, nil
}

func (s *Service) cancelHold(bookingID int64, now time.Time) (domain.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok || b.Status != domain.BookingHold {
		return domain.Booking{}, false
	}

	b.Status = domain.BookingCanceled
	b.UpdatedAt = now

	return *b, true
}

// cleanup is the lazy sweep every operation triggers: expired holds are
// released and terminal bookings past retention are dropped.
func (s *Service) cleanup(now time.Time) {
	for _, id := range s.tables.ReleaseExpired() {
		s.cancelHold(id, now)
	}

	cutoff := now.Add(-s.cfg.BookingRetention)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range s.bookings {
		base := b.UpdatedAt
		if b.ArrivalEnd.After(base) {
			base = b.ArrivalEnd
		}

		if b.Status != domain.BookingHold && base.Before(cutoff) {
			delete(s.bookings, id)
		}
	}
}

func (s *Service) audit(source string, b domain.Booking) {
	s.logger.Info("booking.audit",
		"source", source,
		"booking_id", b.ID,
		"user_id", b.UserID,
		"club_id", b.ClubID,
		"table_id", b.TableID,
		"event_id", b.EventID,
		"status", string(b.Status),
		"guest_count", b.GuestCount,
	)
}

func replay(op string, body []byte, userID int64) (Result, error) {
	var v domain.BookingView
	if err := json.Unmarshal(body, &v); err != nil {
		return Result{}, fmt.Errorf("%s:%w", op, err)
	}

	return Result{
		Booking: domain.BookingFromView(v, userID),
		Body:    body,
		Cached:  true,
	}, nil
}

func wrapOp(op string, err error) error {
	if errors.Is(err, idempotency.ErrConflict) {
		return fmt.Errorf("%s:%w", op, ErrIdempotencyConflict)
	}

	return fmt.Errorf("%s:%w", op, err)
}
