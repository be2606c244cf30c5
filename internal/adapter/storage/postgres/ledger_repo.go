package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"metered-messaging/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository. Entries are appended once
// and only ever change status through guarded single-statement updates.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const ledgerColumns = `id, tenant_id, event_id, direction, units, status, reason_code, metadata, created_at, updated_at`

// Insert appends a ledger entry. The unique constraint on
// (tenant_id, event_id) absorbs redelivered events: a conflicting insert
// affects zero rows and Insert reports false.
func (r *LedgerRepo) Insert(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) (bool, error) {
	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return false, err
	}

	query := `INSERT INTO credit_ledger (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, event_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		e.ID, e.TenantID, e.EventID, e.Direction, e.Units,
		e.Status, e.ReasonCode, meta, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get fetches an entry by its idempotency key. Returns nil, nil if absent.
func (r *LedgerRepo) Get(ctx context.Context, tenantID, eventID string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM credit_ledger
		WHERE tenant_id = $1 AND event_id = $2`

	return scanLedgerEntry(r.pool.QueryRow(ctx, query, tenantID, eventID))
}

// SumReservedOut totals outstanding outbound holds for a tenant. Called
// under the wallet row lock so the figure cannot move mid-admission.
func (r *LedgerRepo) SumReservedOut(ctx context.Context, tx pgx.Tx, tenantID string) (int64, error) {
	query := `SELECT COALESCE(SUM(units), 0) FROM credit_ledger
		WHERE tenant_id = $1 AND direction = 'out' AND status = 'reserved'`

	var sum int64
	if err := tx.QueryRow(ctx, query, tenantID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum reserved out: %w", err)
	}
	return sum, nil
}

// Transition performs the guarded status change. The WHERE status clause
// is the compare-and-swap: of two racing callers, exactly one sees a row
// returned and the loser gets nil.
func (r *LedgerRepo) Transition(ctx context.Context, tx pgx.Tx, tenantID, eventID string, from, to domain.EntryStatus) (*domain.LedgerEntry, error) {
	query := `UPDATE credit_ledger SET status = $1, updated_at = now()
		WHERE tenant_id = $2 AND event_id = $3 AND status = $4
		RETURNING ` + ledgerColumns

	entry, err := scanLedgerEntry(tx.QueryRow(ctx, query, to, tenantID, eventID, from))
	if err != nil {
		return nil, fmt.Errorf("transition %s->%s: %w", from, to, err)
	}
	return entry, nil
}

func scanLedgerEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	var meta []byte
	err := row.Scan(
		&e.ID, &e.TenantID, &e.EventID, &e.Direction, &e.Units,
		&e.Status, &e.ReasonCode, &meta, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode ledger metadata: %w", err)
		}
	}
	return e, nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}
