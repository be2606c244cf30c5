package ports

import (
	"context"
	"time"

	"metered-messaging/internal/core/domain"
)

// CreditLedger is the single source of truth for balance changes. All
// operations are idempotent per (tenant_id, event_id) and safe to call
// concurrently for the same tenant.
type CreditLedger interface {
	EnsureWallet(ctx context.Context, tenantID string) (*domain.Wallet, error)
	// Credit tops up the wallet outside the reserve/finalize flow. The
	// entry is written finalized with a fresh event id.
	Credit(ctx context.Context, tenantID string, amount int64, reasonCode string, metadata map[string]any) (*domain.Wallet, error)
	// Reserve holds units against spendable capacity (balance minus
	// outstanding outbound reservations). Inbound reservations are
	// bookkeeping only and always succeed.
	Reserve(ctx context.Context, req ReserveRequest) (domain.ReservationResult, error)
	// Finalize applies a reservation's delta to the wallet. Nil entry
	// means the event is unknown. Re-finalizing or finalizing a terminal
	// entry returns it unchanged.
	Finalize(ctx context.Context, tenantID, eventID string) (*domain.LedgerEntry, error)
	// VoidReserved cancels a reservation with no wallet effect.
	VoidReserved(ctx context.Context, tenantID, eventID string) (bool, error)
	// RefundFinalized reverses a finalized entry's wallet delta.
	RefundFinalized(ctx context.Context, tenantID, eventID string) (bool, error)
}

// ReserveRequest holds validated input for a reservation.
type ReserveRequest struct {
	TenantID   string
	EventID    string
	Direction  domain.Direction
	Units      int64
	ReasonCode string
	Metadata   map[string]any
}

// ReplyGenerator produces an outbound reply for an inbound message.
// Implemented by an external LLM provider; failures are expected and the
// caller treats them as "no reply".
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, tenantID, query string, docs []string) (string, error)
}

// ModerationResult is the outcome of a moderation check.
type ModerationResult struct {
	Allowed bool
	Reason  string
}

// Moderator screens proposed outbound text.
type Moderator interface {
	Moderate(ctx context.Context, tenantID, text string) (ModerationResult, error)
}

// OutboundMessage is what the send transport delivers. TemplateID set
// means a template send; otherwise Text is sent verbatim.
type OutboundMessage struct {
	To         string
	Text       string
	TemplateID string
	Params     map[string]string
}

// SendResult reports a transport attempt. OK false with Error set is a
// provider-level failure, not a Go error.
type SendResult struct {
	OK          bool
	ProviderRef string
	Error       string
}

// SendTransport delivers outbound messages via one provider. The channel
// is not assumed idempotent; duplicate sends are prevented upstream by
// never re-sending a finalized reservation.
type SendTransport interface {
	Send(ctx context.Context, tenantID string, msg OutboundMessage) (SendResult, error)
	Name() string
}

// StreamMessage is one delivered stream entry.
type StreamMessage struct {
	ID      string
	EventID string
	Payload []byte
}

// EventStream is the durable at-least-once inbound stream with
// consumer-group semantics.
type EventStream interface {
	CreateGroup(ctx context.Context) error
	Read(ctx context.Context, count int64, block time.Duration) ([]StreamMessage, error)
	Ack(ctx context.Context, messageID string) error
	Add(ctx context.Context, eventID string, payload []byte) (string, error)
	// Len reports the current stream depth, for observability.
	Len(ctx context.Context) (int64, error)
}

// ConversationStore tracks open conversations in an externally
// addressable, TTL-bounded store so concurrent consumer instances
// observe consistent state.
type ConversationStore interface {
	// Touch returns the open conversation id for (tenant, phone),
	// creating one if absent, and refreshes its expiry.
	Touch(ctx context.Context, tenantID, phone string) (string, error)
}
