package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transactor implements ports.DBTransactor on the pgx pool. The ledger
// service opens one short transaction per reserve/finalize call and
// holds the wallet row lock only inside it.
type Transactor struct {
	pool Pool
}

// NewTransactor wraps the pool for transaction management.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin opens a transaction on the underlying pool.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.pool.Begin(ctx)
}
