package service

import (
	"context"
	"time"

	"metered-messaging/config"
	"metered-messaging/internal/core/domain"
	"metered-messaging/internal/core/ports"
	"metered-messaging/pkg/apperror"
	"metered-messaging/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LedgerService implements ports.CreditLedger on PostgreSQL. Balance
// mutations are idempotent per (tenant_id, event_id); reservation
// admission serializes per tenant by locking the wallet row.
type LedgerService struct {
	db      ports.DBTransactor
	wallets ports.WalletRepository
	ledger  ports.LedgerRepository
	log     zerolog.Logger

	currency  string
	freeTrial int64
}

// NewLedgerService creates the credit ledger service.
func NewLedgerService(
	db ports.DBTransactor,
	wallets ports.WalletRepository,
	ledger ports.LedgerRepository,
	cfg config.CreditsConfig,
	log zerolog.Logger,
) *LedgerService {
	return &LedgerService{
		db:        db,
		wallets:   wallets,
		ledger:    ledger,
		log:       log.With().Str("component", "ledger").Logger(),
		currency:  cfg.Currency,
		freeTrial: cfg.FreeTrialCredits,
	}
}

// EnsureWallet returns the tenant's wallet, creating a zero-balance one
// on first sight. A newly created wallet receives the configured free
// trial grant as a regular finalized credit entry.
func (s *LedgerService) EnsureWallet(ctx context.Context, tenantID string) (*domain.Wallet, error) {
	wallet, created, err := s.wallets.EnsureWallet(ctx, tenantID, s.currency)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if created && s.freeTrial > 0 {
		s.log.Info().Str("tenant_id", tenantID).Int64("units", s.freeTrial).Msg("granting free trial credits")
		wallet, err = s.Credit(ctx, tenantID, s.freeTrial, "free_trial", nil)
		if err != nil {
			return nil, err
		}
	}
	return wallet, nil
}

// Credit tops up the wallet outside the reserve/finalize flow. The
// ledger entry is written directly in finalized status under a fresh
// event id, and the delta lands in the same transaction.
func (s *LedgerService) Credit(ctx context.Context, tenantID string, amount int64, reasonCode string, metadata map[string]any) (*domain.Wallet, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if _, _, err := s.wallets.EnsureWallet(ctx, tenantID, s.currency); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		ID:         uuid.New(),
		TenantID:   tenantID,
		EventID:    "topup_" + uuid.NewString(),
		Direction:  domain.DirectionIn,
		Units:      amount,
		Status:     domain.StatusFinalized,
		ReasonCode: reasonCode,
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.ledger.Insert(ctx, tx, entry); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if err := s.wallets.ApplyDelta(ctx, tx, tenantID, amount); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	metrics.IncTopup(tenantID, reasonCode, amount)
	s.log.Info().Str("tenant_id", tenantID).Int64("amount", amount).Str("reason", reasonCode).Msg("wallet credited")

	wallet, err := s.wallets.Get(ctx, tenantID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return wallet, nil
}

// Reserve holds units against spendable capacity. The wallet row is
// locked FOR UPDATE so two concurrent reserves for one tenant cannot
// both pass the capacity check; inbound reservations skip the check
// entirely. A redelivered event id returns the existing entry.
func (s *LedgerService) Reserve(ctx context.Context, req ports.ReserveRequest) (domain.ReservationResult, error) {
	if req.Units < 0 {
		return domain.ReservationResult{}, apperror.ErrInvalidUnits()
	}

	// Fast path for redeliveries, before taking any lock.
	existing, err := s.ledger.Get(ctx, req.TenantID, req.EventID)
	if err != nil {
		return domain.ReservationResult{}, apperror.ErrDatabaseError(err)
	}
	if existing != nil {
		return domain.ReservationResult{Outcome: domain.OutcomeAlreadyReserved, Entry: existing}, nil
	}

	if _, _, err := s.wallets.EnsureWallet(ctx, req.TenantID, s.currency); err != nil {
		return domain.ReservationResult{}, apperror.ErrDatabaseError(err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.ReservationResult{}, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if req.Direction == domain.DirectionOut && req.Units > 0 {
		wallet, err := s.wallets.GetForUpdate(ctx, tx, req.TenantID)
		if err != nil {
			return domain.ReservationResult{}, apperror.ErrDatabaseError(err)
		}
		reservedOut, err := s.ledger.SumReservedOut(ctx, tx, req.TenantID)
		if err != nil {
			return domain.ReservationResult{}, apperror.ErrDatabaseError(err)
		}
		if wallet.Balance-reservedOut < req.Units {
			metrics.ReservationsDenied.WithLabelValues(req.TenantID, req.ReasonCode).Inc()
			s.log.Warn().
				Str("tenant_id", req.TenantID).
				Str("event_id", req.EventID).
				Int64("balance", wallet.Balance).
				Int64("reserved_out", reservedOut).
				Int64("units", req.Units).
				Msg("reservation denied: insufficient spendable credits")
			return domain.ReservationResult{Outcome: domain.OutcomeDenied}, nil
		}
	}

	now := time.Now().UTC()
	entry := &domain.LedgerEntry{
		ID:         uuid.New(),
		TenantID:   req.TenantID,
		EventID:    req.EventID,
		Direction:  req.Direction,
		Units:      req.Units,
		Status:     domain.StatusReserved,
		ReasonCode: req.ReasonCode,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	inserted, err := s.ledger.Insert(ctx, tx, entry)
	if err != nil {
		return domain.ReservationResult{}, apperror.ErrDatabaseError(err)
	}
	if !inserted {
		// Lost an insert race with a concurrent delivery of the same event.
		if err := tx.Rollback(ctx); err != nil {
			s.log.Debug().Err(err).Msg("rollback after insert race")
		}
		existing, err := s.ledger.Get(ctx, req.TenantID, req.EventID)
		if err != nil {
			return domain.ReservationResult{}, apperror.ErrDatabaseError(err)
		}
		return domain.ReservationResult{Outcome: domain.OutcomeAlreadyReserved, Entry: existing}, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ReservationResult{}, apperror.ErrDatabaseError(err)
	}

	return domain.ReservationResult{Outcome: domain.OutcomeReserved, Entry: entry}, nil
}

// Finalize applies a reservation's delta to the wallet. The reserved →
// finalized transition and the balance delta commit atomically, so a
// crash between them is impossible and a racing duplicate finalize sees
// no row in reserved status and applies nothing.
func (s *LedgerService) Finalize(ctx context.Context, tenantID, eventID string) (*domain.LedgerEntry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entry, err := s.ledger.Transition(ctx, tx, tenantID, eventID, domain.StatusReserved, domain.StatusFinalized)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if entry == nil {
		// Not in reserved status: either unknown or already past it.
		current, err := s.ledger.Get(ctx, tenantID, eventID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		return current, nil
	}

	if delta := entry.SignedUnits(); delta != 0 {
		if err := s.wallets.ApplyDelta(ctx, tx, tenantID, delta); err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	if entry.Direction == domain.DirectionOut {
		metrics.IncCredits(tenantID, entry.ReasonCode, entry.Units)
	}
	return entry, nil
}

// VoidReserved cancels a reservation with no wallet effect. Returns
// false when no entry was in reserved status.
func (s *LedgerService) VoidReserved(ctx context.Context, tenantID, eventID string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entry, err := s.ledger.Transition(ctx, tx, tenantID, eventID, domain.StatusReserved, domain.StatusVoid)
	if err != nil {
		return false, apperror.ErrDatabaseError(err)
	}
	if entry == nil {
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, apperror.ErrDatabaseError(err)
	}
	return true, nil
}

// RefundFinalized reverses a finalized entry's wallet delta. Returns
// false when no entry was in finalized status; refunded is terminal so
// a second refund of the same event is a no-op.
func (s *LedgerService) RefundFinalized(ctx context.Context, tenantID, eventID string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, apperror.ErrDatabaseError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entry, err := s.ledger.Transition(ctx, tx, tenantID, eventID, domain.StatusFinalized, domain.StatusRefunded)
	if err != nil {
		return false, apperror.ErrDatabaseError(err)
	}
	if entry == nil {
		return false, nil
	}
	if delta := entry.SignedUnits(); delta != 0 {
		if err := s.wallets.ApplyDelta(ctx, tx, tenantID, -delta); err != nil {
			return false, apperror.ErrDatabaseError(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, apperror.ErrDatabaseError(err)
	}

	s.log.Info().Str("tenant_id", tenantID).Str("event_id", eventID).Int64("units", entry.Units).Msg("entry refunded")
	return true, nil
}

var _ ports.CreditLedger = (*LedgerService)(nil)
