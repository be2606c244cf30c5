package postgres

import (
	"context"
	"errors"
	"fmt"

	"metered-messaging/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// EnsureWallet inserts a zero-balance wallet if none exists and returns
// the current row. Insert-if-not-exists keeps concurrent first-touch
// race-safe; an existing balance is never overwritten.
func (r *WalletRepo) EnsureWallet(ctx context.Context, tenantID, currency string) (*domain.Wallet, bool, error) {
	insert := `INSERT INTO wallets (tenant_id, balance, currency, updated_at)
		VALUES ($1, 0, $2, now())
		ON CONFLICT (tenant_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, insert, tenantID, currency)
	if err != nil {
		return nil, false, fmt.Errorf("ensure wallet: %w", err)
	}
	created := tag.RowsAffected() == 1

	w, err := r.Get(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	if w == nil {
		return nil, false, fmt.Errorf("wallet vanished after ensure: %s", tenantID)
	}
	return w, created, nil
}

// Get fetches a wallet by tenant id (non-locking read).
// Returns nil, nil if absent.
func (r *WalletRepo) Get(ctx context.Context, tenantID string) (*domain.Wallet, error) {
	query := `SELECT tenant_id, balance, currency, updated_at
		FROM wallets WHERE tenant_id = $1`

	w := &domain.Wallet{}
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&w.TenantID, &w.Balance, &w.Currency, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// GetForUpdate fetches a wallet with a pessimistic row lock. MUST be
// called within a transaction; the lock serializes concurrent
// reservations for one tenant.
func (r *WalletRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID string) (*domain.Wallet, error) {
	query := `SELECT tenant_id, balance, currency, updated_at
		FROM wallets WHERE tenant_id = $1 FOR UPDATE`

	w := &domain.Wallet{}
	err := tx.QueryRow(ctx, query, tenantID).Scan(
		&w.TenantID, &w.Balance, &w.Currency, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet for update: %w", err)
	}
	return w, nil
}

// ApplyDelta adjusts the balance at the storage layer. The delta form
// means no caller ever writes back a stale in-memory balance.
func (r *WalletRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, tenantID string, delta int64) error {
	query := `UPDATE wallets SET balance = balance + $1, updated_at = now() WHERE tenant_id = $2`

	tag, err := tx.Exec(ctx, query, delta, tenantID)
	if err != nil {
		return fmt.Errorf("apply wallet delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet not found: %s", tenantID)
	}
	return nil
}
