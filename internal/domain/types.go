package domain

import "time"

type BookingStatus string

const (
	BookingHold     BookingStatus = "HOLD"
	BookingBooked   BookingStatus = "BOOKED"
	BookingCanceled BookingStatus = "CANCELED"
)

type TableOccupancy string

const (
	TableFree   TableOccupancy = "FREE"
	TableHeld   TableOccupancy = "HELD"
	TableBooked TableOccupancy = "BOOKED"
)

type Event struct {
	ID     int64
	ClubID int64
	Title  string
	Starts time.Time
	Ends   time.Time
}

type Table struct {
	ID       int64
	ClubID   int64
	Label    string
	Capacity int
}

type Booking struct {
	ID                      int64
	UserID                  int64
	ClubID                  int64
	TableID                 int64
	EventID                 int64
	Status                  BookingStatus
	GuestCount              int
	ArrivalStart            time.Time
	ArrivalEnd              time.Time
	LatePlusOneAllowedUntil time.Time
	PlusOneUsed             bool
	CapacityAtHold          int
	CreatedAt               time.Time
	UpdatedAt               time.Time
	HoldExpiresAt           time.Time
}

// SlotState is the observable occupancy of one (club, table, event) slot.
type SlotState struct {
	Status    TableOccupancy
	BookingID int64
	ExpiresAt time.Time
	UpdatedAt time.Time
}

type PromoterQuota struct {
	ClubID     int64
	PromoterID int64
	TableID    int64
	Quota      int
	Held       int
	ExpiresAt  time.Time
}

// BookingView is the wire representation of a booking. Instants are RFC3339
// strings so a stored idempotent response replays byte-for-byte.
type BookingView struct {
	ID                      int64     `json:"id"`
	ClubID                  int64     `json:"club_id"`
	TableID                 int64     `json:"table_id"`
	EventID                 int64     `json:"event_id"`
	Status                  string    `json:"status"`
	GuestCount              int       `json:"guest_count"`
	ArrivalWindow           [2]string `json:"arrival_window"`
	LatePlusOneAllowedUntil string    `json:"late_plus_one_allowed_until,omitempty"`
	PlusOneUsed             bool      `json:"plus_one_used"`
	CapacityAtHold          int       `json:"capacity_at_hold"`
	CreatedAt               string    `json:"created_at"`
	UpdatedAt               string    `json:"updated_at"`
}

func (b Booking) View() BookingView {
	v := BookingView{
		ID:         b.ID,
		ClubID:     b.ClubID,
		TableID:    b.TableID,
		EventID:    b.EventID,
		Status:     string(b.Status),
		GuestCount: b.GuestCount,
		ArrivalWindow: [2]string{
			b.ArrivalStart.UTC().Format(time.RFC3339Nano),
			b.ArrivalEnd.UTC().Format(time.RFC3339Nano),
		},
		PlusOneUsed:    b.PlusOneUsed,
		CapacityAtHold: b.CapacityAtHold,
		CreatedAt:      b.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	if !b.LatePlusOneAllowedUntil.IsZero() {
		v.LatePlusOneAllowedUntil = b.LatePlusOneAllowedUntil.UTC().Format(time.RFC3339Nano)
	}

	return v
}

// BookingFromView rebuilds a Booking from its wire representation. The view
// does not carry the owner or the hold deadline; callers supply the owner and
// accept a zero HoldExpiresAt, which is enough for replayed responses.
func BookingFromView(v BookingView, userID int64) Booking {
	start, _ := time.Parse(time.RFC3339Nano, v.ArrivalWindow[0])
	end, _ := time.Parse(time.RFC3339Nano, v.ArrivalWindow[1])
	created, _ := time.Parse(time.RFC3339Nano, v.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, v.UpdatedAt)

	b := Booking{
		ID:             v.ID,
		UserID:         userID,
		ClubID:         v.ClubID,
		TableID:        v.TableID,
		EventID:        v.EventID,
		Status:         BookingStatus(v.Status),
		GuestCount:     v.GuestCount,
		ArrivalStart:   start,
		ArrivalEnd:     end,
		PlusOneUsed:    v.PlusOneUsed,
		CapacityAtHold: v.CapacityAtHold,
		CreatedAt:      created,
		UpdatedAt:      updated,
	}

	if v.LatePlusOneAllowedUntil != "" {
		b.LatePlusOneAllowedUntil, _ = time.Parse(time.RFC3339Nano, v.LatePlusOneAllowedUntil)
	}

	return b
}
