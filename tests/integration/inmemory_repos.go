package integration

import (
	"context"
	"sync"
	"time"

	"metered-messaging/internal/core/domain"
	"metered-messaging/internal/core/ports"

	"github.com/google/uuid"
)

// --- In-Memory Credit Ledger ---

// inMemoryLedger implements ports.CreditLedger with a single mutex
// standing in for the database's wallet row lock. It mirrors the
// production semantics exactly: idempotent per (tenant, event), guarded
// status transitions, spendable-capacity admission.
type inMemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  map[string]*domain.LedgerEntry
}

func newInMemoryLedger() *inMemoryLedger {
	return &inMemoryLedger{
		balances: make(map[string]int64),
		entries:  make(map[string]*domain.LedgerEntry),
	}
}

func ledgerKey(tenantID, eventID string) string { return tenantID + "|" + eventID }

func (l *inMemoryLedger) EnsureWallet(ctx context.Context, tenantID string) (*domain.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[tenantID]; !ok {
		l.balances[tenantID] = 0
	}
	return &domain.Wallet{TenantID: tenantID, Balance: l.balances[tenantID], Currency: "INR"}, nil
}

func (l *inMemoryLedger) Credit(ctx context.Context, tenantID string, amount int64, reasonCode string, metadata map[string]any) (*domain.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	eventID := "topup_" + uuid.NewString()
	l.entries[ledgerKey(tenantID, eventID)] = &domain.LedgerEntry{
		ID: uuid.New(), TenantID: tenantID, EventID: eventID,
		Direction: domain.DirectionIn, Units: amount,
		Status: domain.StatusFinalized, ReasonCode: reasonCode,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	l.balances[tenantID] += amount
	return &domain.Wallet{TenantID: tenantID, Balance: l.balances[tenantID], Currency: "INR"}, nil
}

func (l *inMemoryLedger) Reserve(ctx context.Context, req ports.ReserveRequest) (domain.ReservationResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[ledgerKey(req.TenantID, req.EventID)]; ok {
		return domain.ReservationResult{Outcome: domain.OutcomeAlreadyReserved, Entry: existing}, nil
	}

	if req.Direction == domain.DirectionOut && req.Units > 0 {
		var reservedOut int64
		for _, e := range l.entries {
			if e.TenantID == req.TenantID && e.Direction == domain.DirectionOut && e.Status == domain.StatusReserved {
				reservedOut += e.Units
			}
		}
		if l.balances[req.TenantID]-reservedOut < req.Units {
			return domain.ReservationResult{Outcome: domain.OutcomeDenied}, nil
		}
	}

	entry := &domain.LedgerEntry{
		ID: uuid.New(), TenantID: req.TenantID, EventID: req.EventID,
		Direction: req.Direction, Units: req.Units,
		Status: domain.StatusReserved, ReasonCode: req.ReasonCode,
		Metadata: req.Metadata, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	l.entries[ledgerKey(req.TenantID, req.EventID)] = entry
	return domain.ReservationResult{Outcome: domain.OutcomeReserved, Entry: entry}, nil
}

func (l *inMemoryLedger) Finalize(ctx context.Context, tenantID, eventID string) (*domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[ledgerKey(tenantID, eventID)]
	if !ok {
		return nil, nil
	}
	if entry.Status != domain.StatusReserved {
		return entry, nil
	}
	entry.Status = domain.StatusFinalized
	entry.UpdatedAt = time.Now()
	l.balances[tenantID] += entry.SignedUnits()
	return entry, nil
}

func (l *inMemoryLedger) VoidReserved(ctx context.Context, tenantID, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[ledgerKey(tenantID, eventID)]
	if !ok || entry.Status != domain.StatusReserved {
		return false, nil
	}
	entry.Status = domain.StatusVoid
	entry.UpdatedAt = time.Now()
	return true, nil
}

func (l *inMemoryLedger) RefundFinalized(ctx context.Context, tenantID, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[ledgerKey(tenantID, eventID)]
	if !ok || entry.Status != domain.StatusFinalized {
		return false, nil
	}
	entry.Status = domain.StatusRefunded
	entry.UpdatedAt = time.Now()
	l.balances[tenantID] -= entry.SignedUnits()
	return true, nil
}

// balance reads the current balance without going through the interface.
func (l *inMemoryLedger) balance(tenantID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[tenantID]
}

// finalizedSum recomputes the balance from first principles: the signed
// sum of finalized entries minus refunded reversals already applied.
func (l *inMemoryLedger) finalizedSum(tenantID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum int64
	for _, e := range l.entries {
		if e.TenantID == tenantID && e.Status == domain.StatusFinalized {
			sum += e.SignedUnits()
		}
	}
	return sum
}

// --- In-Memory Campaign Repos ---

type inMemoryCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int64]*domain.Campaign
}

func newInMemoryCampaignRepo() *inMemoryCampaignRepo {
	return &inMemoryCampaignRepo{campaigns: make(map[int64]*domain.Campaign)}
}

func (r *inMemoryCampaignRepo) Get(ctx context.Context, id int64) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *inMemoryCampaignRepo) TransitionStatus(ctx context.Context, id int64, from, to domain.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	return true, nil
}

func (r *inMemoryCampaignRepo) SetStatus(ctx context.Context, id int64, status domain.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.Status = status
	}
	return nil
}

func (r *inMemoryCampaignRepo) ListRunnable(ctx context.Context) ([]domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if c.Runnable() {
			out = append(out, *c)
		}
	}
	return out, nil
}

type inMemoryRecipientRepo struct {
	mu         sync.Mutex
	recipients []*domain.CampaignRecipient
}

func (r *inMemoryRecipientRepo) ListPending(ctx context.Context, campaignID int64, limit int, now time.Time) ([]domain.CampaignRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CampaignRecipient
	for _, rec := range r.recipients {
		if rec.CampaignID != campaignID || rec.SendStatus != domain.SendPending {
			continue
		}
		if rec.SendAt != nil && rec.SendAt.After(now) {
			continue
		}
		out = append(out, *rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *inMemoryRecipientRepo) CountPending(ctx context.Context, campaignID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.recipients {
		if rec.CampaignID == campaignID && rec.SendStatus == domain.SendPending {
			n++
		}
	}
	return n, nil
}

func (r *inMemoryRecipientRepo) find(id int64) *domain.CampaignRecipient {
	for _, rec := range r.recipients {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (r *inMemoryRecipientRepo) MarkError(ctx context.Context, id int64, errorCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.find(id); rec != nil {
		rec.SendStatus = domain.SendError
		rec.ErrorCode = &errorCode
	}
	return nil
}

func (r *inMemoryRecipientRepo) Defer(ctx context.Context, id int64, sendAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.find(id); rec != nil {
		rec.SendAt = &sendAt
	}
	return nil
}

func (r *inMemoryRecipientRepo) MarkSent(ctx context.Context, id int64, sentAt time.Time, meta map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec := r.find(id); rec != nil {
		rec.SendStatus = domain.SendSent
		rec.Meta = meta
	}
	return nil
}

func (r *inMemoryRecipientRepo) countByStatus(campaignID int64, status domain.SendStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.recipients {
		if rec.CampaignID == campaignID && rec.SendStatus == status {
			n++
		}
	}
	return n
}

type inMemoryLeadRepo struct {
	mu    sync.Mutex
	leads map[int64]*domain.Lead
}

func (r *inMemoryLeadRepo) Get(ctx context.Context, id int64) (*domain.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

// --- Fake transport ---

type fakeTransport struct {
	mu     sync.Mutex
	sent   []ports.OutboundMessage
	fail   bool
	calls  int
	onSend func() // runs after each successful send, outside the lock
}

func (f *fakeTransport) Send(ctx context.Context, tenantID string, msg ports.OutboundMessage) (ports.SendResult, error) {
	f.mu.Lock()
	f.calls++
	if f.fail {
		f.mu.Unlock()
		return ports.SendResult{OK: false, Error: "provider status 500"}, nil
	}
	f.sent = append(f.sent, msg)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ports.SendResult{OK: true, ProviderRef: "ref"}, nil
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
