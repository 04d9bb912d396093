package postgresrepo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koteev-m/clubs-bot-sub002/internal/domain"
)

// CatalogRepo loads the event/table/quota catalogs the in-memory ledgers are
// seeded from at startup.
type CatalogRepo struct {
	pool *pgxpool.Pool
}

func (r *CatalogRepo) ListEvents(ctx context.Context) ([]domain.Event, error) {
	const op = "postgresrepo.CatalogRepo.ListEvents"

	rows, err := r.pool.Query(ctx,
		`SELECT id, club_id, title, starts_at, ends_at FROM events`,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var events []domain.Event

	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.ClubID, &e.Title, &e.Starts, &e.Ends); err != nil {
			return nil, wrapDBErr(op, err)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return events, nil
}

func (r *CatalogRepo) ListTables(ctx context.Context) ([]domain.Table, error) {
	const op = "postgresrepo.CatalogRepo.ListTables"

	rows, err := r.pool.Query(ctx,
		`SELECT id, club_id, label, capacity FROM club_tables`,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var tables []domain.Table

	for rows.Next() {
		var t domain.Table
		if err := rows.Scan(&t.ID, &t.ClubID, &t.Label, &t.Capacity); err != nil {
			return nil, wrapDBErr(op, err)
		}

		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return tables, nil
}

func (r *CatalogRepo) ListPromoterQuotas(ctx context.Context) ([]domain.PromoterQuota, error) {
	const op = "postgresrepo.CatalogRepo.ListPromoterQuotas"

	rows, err := r.pool.Query(ctx,
		`SELECT club_id, promoter_id, table_id, quota, expires_at FROM promoter_quotas`,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var quotas []domain.PromoterQuota

	for rows.Next() {
		var q domain.PromoterQuota
		if err := rows.Scan(&q.ClubID, &q.PromoterID, &q.TableID, &q.Quota, &q.ExpiresAt); err != nil {
			return nil, wrapDBErr(op, err)
		}

		quotas = append(quotas, q)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return quotas, nil
}
