package domain

import (
	"time"
)

// Wallet holds a tenant's current credit balance. One wallet per tenant,
// created lazily on first reference and never deleted. The balance is
// mutated only through ledger transitions.
type Wallet struct {
	TenantID  string    `json:"tenant_id"`
	Balance   int64     `json:"balance"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}
