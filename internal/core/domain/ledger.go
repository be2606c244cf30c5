package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Direction classifies a credit movement relative to the wallet.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// EntryStatus is the ledger entry state machine.
// Legal transitions: reserved → finalized, reserved → void,
// finalized → refunded. Refunded and void are terminal.
type EntryStatus string

const (
	StatusReserved  EntryStatus = "reserved"
	StatusFinalized EntryStatus = "finalized"
	StatusRefunded  EntryStatus = "refunded"
	StatusVoid      EntryStatus = "void"
)

// LedgerEntry is one recorded credit movement, uniquely keyed by
// (tenant_id, event_id). Only finalized entries contribute to the balance.
type LedgerEntry struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   string         `json:"tenant_id"`
	EventID    string         `json:"event_id"`
	Direction  Direction      `json:"direction"`
	Units      int64          `json:"units"`
	Status     EntryStatus    `json:"status"`
	ReasonCode string         `json:"reason_code"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// SignedUnits is the wallet delta this entry applies when finalized:
// +units for inbound, -units for outbound.
func (e *LedgerEntry) SignedUnits() int64 {
	if e.Direction == DirectionIn {
		return e.Units
	}
	return -e.Units
}

// ReservationOutcome is the typed result of a reserve call.
type ReservationOutcome string

const (
	OutcomeReserved        ReservationOutcome = "reserved"
	OutcomeAlreadyReserved ReservationOutcome = "already_reserved"
	OutcomeDenied          ReservationOutcome = "denied"
)

// ReservationResult pairs the outcome with the ledger entry it refers to.
// Entry is nil when the reservation was denied.
type ReservationResult struct {
	Outcome ReservationOutcome
	Entry   *LedgerEntry
}

// Granted reports whether the caller holds a usable reservation,
// whether it was created by this call or by an earlier delivery.
func (r ReservationResult) Granted() bool {
	return r.Outcome == OutcomeReserved || r.Outcome == OutcomeAlreadyReserved
}

// InboundEventID and OutboundEventID derive the two ledger idempotency
// keys from one stream event id, so a redelivered event maps onto the
// same pair of entries.
func InboundEventID(eventID string) string  { return eventID + "-in" }
func OutboundEventID(eventID string) string { return eventID + "-out" }

// RecipientEventID is the ledger idempotency key for one campaign recipient.
func RecipientEventID(recipientID int64) string {
	return "rec_" + strconv.FormatInt(recipientID, 10)
}
