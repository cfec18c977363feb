package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/concierge/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store is the pgx-backed database.Store. Reads are scoped to the tenant
// on the context; conditional updates carry the state machine's guards.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps pool. The caller owns the pool and closes it.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks connectivity for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
