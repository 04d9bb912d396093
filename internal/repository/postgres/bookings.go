package postgresrepo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koteev-m/clubs-bot-sub002/internal/domain"
)

// BookingRepo archives booking snapshots after each committed state
// transition. Writes happen after the in-memory mutation, never inside it,
// so a slow database cannot stall the ledgers.
type BookingRepo struct {
	pool *pgxpool.Pool
}

func (r *BookingRepo) Upsert(ctx context.Context, b domain.Booking) error {
	const op = "postgresrepo.BookingRepo.Upsert"

	_, err := r.pool.Exec(ctx,
		`INSERT INTO bookings (
			id, user_id, club_id, table_id, event_id, status, guest_count,
			arrival_start, arrival_end, late_plus_one_until, plus_one_used,
			capacity_at_hold, hold_expires_at, created_at, updated_at
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			guest_count = EXCLUDED.guest_count,
			plus_one_used = EXCLUDED.plus_one_used,
			updated_at = EXCLUDED.updated_at`,
		b.ID, b.UserID, b.ClubID, b.TableID, b.EventID, string(b.Status), b.GuestCount,
		b.ArrivalStart, b.ArrivalEnd, nullableTime(b.LatePlusOneAllowedUntil), b.PlusOneUsed,
		b.CapacityAtHold, nullableTime(b.HoldExpiresAt), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *BookingRepo) Get(ctx context.Context, id int64) (*domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.Get"

	var (
		b           domain.Booking
		status      string
		lateUntil   *time.Time
		holdExpires *time.Time
	)

	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, club_id, table_id, event_id, status, guest_count,
			arrival_start, arrival_end, late_plus_one_until, plus_one_used,
			capacity_at_hold, hold_expires_at, created_at, updated_at
		 FROM bookings WHERE id = $1`,
		id,
	).Scan(
		&b.ID, &b.UserID, &b.ClubID, &b.TableID, &b.EventID, &status, &b.GuestCount,
		&b.ArrivalStart, &b.ArrivalEnd, &lateUntil, &b.PlusOneUsed,
		&b.CapacityAtHold, &holdExpires, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	b.Status = domain.BookingStatus(status)

	if lateUntil != nil {
		b.LatePlusOneAllowedUntil = *lateUntil
	}

	if holdExpires != nil {
		b.HoldExpiresAt = *holdExpires
	}

	return &b, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}
