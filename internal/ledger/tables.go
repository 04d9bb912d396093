package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/koteev-m/clubs-bot-sub002/internal/domain"
)

type tableKey struct {
	clubID  int64
	tableID int64
}

type slotKey struct {
	clubID  int64
	tableID int64
	eventID int64
}

type slotState struct {
	status    domain.TableOccupancy
	bookingID int64
	expiresAt time.Time // zero for BOOKED
	updatedAt time.Time
}

// Tables is the perishable occupancy ledger: one slot per (club, table,
// event), FREE until held, HELD until promoted, released or expired. All
// mutations happen under one mutex so no double-hold is observable even
// momentarily.
type Tables struct {
	now func() time.Time

	mu       sync.Mutex
	capacity map[tableKey]int
	slots    map[slotKey]*slotState
	owners   map[int64]slotKey // bookingID -> slot currently owned
}

func NewTables(now func() time.Time) *Tables {
	if now == nil {
		now = time.Now
	}

	return &Tables{
		now:      now,
		capacity: make(map[tableKey]int),
		slots:    make(map[slotKey]*slotState),
		owners:   make(map[int64]slotKey),
	}
}

// SetTable registers or updates a table's configured capacity.
func (t *Tables) SetTable(clubID, tableID int64, capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.capacity[tableKey{clubID: clubID, tableID: tableID}] = capacity
}

// TryHold transitions a FREE slot to HELD with bookingID as owner and returns
// the table capacity recorded at this instant. An expired hold counts as FREE.
func (t *Tables) TryHold(clubID, tableID, eventID int64, guestCount int, bookingID int64, expiresAt time.Time) (int, error) {
	const op = "ledger.Tables.TryHold"

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	capacity, ok := t.capacity[tableKey{clubID: clubID, tableID: tableID}]
	if !ok {
		return 0, fmt.Errorf("%s:%w", op, ErrTableNotFound)
	}

	if guestCount > capacity {
		return 0, fmt.Errorf("%s:%w", op, ErrCapacityExceeded)
	}

	k := slotKey{clubID: clubID, tableID: tableID, eventID: eventID}

	if s := t.slots[k]; s != nil && s.status != domain.TableFree && !t.expiredLocked(s, now) {
		return 0, fmt.Errorf("%s:%w", op, ErrTableNotAvailable)
	}

	t.slots[k] = &slotState{
		status:    domain.TableHeld,
		bookingID: bookingID,
		expiresAt: expiresAt,
		updatedAt: now,
	}
	t.owners[bookingID] = k

	return capacity, nil
}

// Promote transitions the booking's HELD slot to BOOKED. Fails when the slot
// is not held by this booking anymore (released, expired or re-held).
func (t *Tables) Promote(bookingID int64) error {
	const op = "ledger.Tables.Promote"

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	k, ok := t.owners[bookingID]
	if !ok {
		return fmt.Errorf("%s:%w", op, ErrSlotConflict)
	}

	s := t.slots[k]
	if s == nil || s.bookingID != bookingID || s.status != domain.TableHeld || t.expiredLocked(s, now) {
		return fmt.Errorf("%s:%w", op, ErrSlotConflict)
	}

	s.status = domain.TableBooked
	s.expiresAt = time.Time{}
	s.updatedAt = now

	return nil
}

// Release frees the booking's slot. Idempotent and safe under concurrent
// calls; used by hold expiry and cancellation.
func (t *Tables) Release(bookingID int64) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	k, ok := t.owners[bookingID]
	if !ok {
		return
	}

	delete(t.owners, bookingID)

	if s := t.slots[k]; s != nil && s.bookingID == bookingID {
		t.slots[k] = &slotState{status: domain.TableFree, updatedAt: now}
	}
}

// Status reports the slot's occupancy, lazily evicting an expired hold.
func (t *Tables) Status(clubID, tableID, eventID int64) domain.SlotState {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	k := slotKey{clubID: clubID, tableID: tableID, eventID: eventID}

	s := t.slots[k]
	if s == nil {
		return domain.SlotState{Status: domain.TableFree}
	}

	if t.expiredLocked(s, now) {
		delete(t.owners, s.bookingID)
		t.slots[k] = &slotState{status: domain.TableFree, updatedAt: now}
		return domain.SlotState{Status: domain.TableFree, UpdatedAt: now}
	}

	return domain.SlotState{
		Status:    s.status,
		BookingID: s.bookingID,
		ExpiresAt: s.expiresAt,
		UpdatedAt: s.updatedAt,
	}
}

// ReleaseExpired frees every slot whose hold deadline has passed and returns
// the released booking IDs. Driven by an external reaper, not a timer here.
func (t *Tables) ReleaseExpired() []int64 {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var released []int64

	for k, s := range t.slots {
		if t.expiredLocked(s, now) {
			released = append(released, s.bookingID)
			delete(t.owners, s.bookingID)
			t.slots[k] = &slotState{status: domain.TableFree, updatedAt: now}
		}
	}

	return released
}

func (t *Tables) expiredLocked(s *slotState, now time.Time) bool {
	return s.status == domain.TableHeld && !s.expiresAt.IsZero() && s.expiresAt.Before(now)
}
