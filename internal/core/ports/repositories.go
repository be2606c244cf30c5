package ports

import (
	"context"
	"time"

	"metered-messaging/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx run inside transaction blocks so reservation
// admission can hold the wallet row lock. Balance changes are always
// expressed as deltas at the storage layer, never read-modify-write.
type WalletRepository interface {
	// EnsureWallet inserts a zero-balance wallet if none exists.
	// Returns the current wallet and whether this call created it.
	EnsureWallet(ctx context.Context, tenantID, currency string) (*domain.Wallet, bool, error)
	Get(ctx context.Context, tenantID string) (*domain.Wallet, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID string) (*domain.Wallet, error)
	ApplyDelta(ctx context.Context, tx pgx.Tx, tenantID string, delta int64) error
}

// LedgerRepository defines persistence for credit ledger entries.
// (tenant_id, event_id) is unique; status transitions are guarded
// single-statement updates so racing callers cannot double-apply.
type LedgerRepository interface {
	// Insert appends a new entry. Returns false if (tenant_id, event_id)
	// already exists.
	Insert(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) (bool, error)
	Get(ctx context.Context, tenantID, eventID string) (*domain.LedgerEntry, error)
	// SumReservedOut returns the total outbound units currently held in
	// reserved status for a tenant.
	SumReservedOut(ctx context.Context, tx pgx.Tx, tenantID string) (int64, error)
	// Transition moves an entry from one status to another in a single
	// guarded UPDATE. Returns the updated entry, or nil if no row was in
	// the expected status.
	Transition(ctx context.Context, tx pgx.Tx, tenantID, eventID string, from, to domain.EntryStatus) (*domain.LedgerEntry, error)
}

// CampaignRepository defines persistence for campaigns.
type CampaignRepository interface {
	Get(ctx context.Context, id int64) (*domain.Campaign, error)
	// TransitionStatus performs a guarded status change. Returns whether
	// a row actually moved.
	TransitionStatus(ctx context.Context, id int64, from, to domain.CampaignStatus) (bool, error)
	SetStatus(ctx context.Context, id int64, status domain.CampaignStatus) error
	// ListRunnable returns campaigns in Running or Scheduled status.
	ListRunnable(ctx context.Context) ([]domain.Campaign, error)
}

// RecipientRepository defines persistence for campaign recipients.
type RecipientRepository interface {
	// ListPending returns up to limit Pending recipients in ascending id
	// order, excluding those deferred to a future send_at.
	ListPending(ctx context.Context, campaignID int64, limit int, now time.Time) ([]domain.CampaignRecipient, error)
	// CountPending counts all Pending recipients, deferred ones included.
	CountPending(ctx context.Context, campaignID int64) (int64, error)
	MarkError(ctx context.Context, id int64, errorCode string) error
	Defer(ctx context.Context, id int64, sendAt time.Time) error
	MarkSent(ctx context.Context, id int64, sentAt time.Time, meta map[string]any) error
}

// LeadRepository defines read access to leads.
type LeadRepository interface {
	Get(ctx context.Context, id int64) (*domain.Lead, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
