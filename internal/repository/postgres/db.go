package postgresrepo

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store aggregates the persistence repositories. The booking core mutates
// in-memory ledgers; this layer archives snapshots and seeds catalogs, always
// outside the core's critical sections.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Bookings() *BookingRepo { return &BookingRepo{pool: s.pool} }
func (s *Store) Catalog() *CatalogRepo  { return &CatalogRepo{pool: s.pool} }
