package service

import (
	"context"
	"testing"

	"metered-messaging/config"
	"metered-messaging/internal/core/domain"
	"metered-messaging/internal/core/ports"
	"metered-messaging/internal/core/ports/mocks"
	"metered-messaging/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc        *LedgerService
	walletRepo *mocks.MockWalletRepository
	ledgerRepo *mocks.MockLedgerRepository
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		ledgerRepo: mocks.NewMockLedgerRepository(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewLedgerService(
		d.transactor, d.walletRepo, d.ledgerRepo,
		config.CreditsConfig{Currency: "INR", MessageCost: 1},
		zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// ==================== Reserve Tests ====================

func TestLedgerService_Reserve_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.ledgerRepo.EXPECT().Get(ctx, "t1", "evt-1-out").Return(nil, nil)
	d.walletRepo.EXPECT().EnsureWallet(ctx, "t1", "INR").Return(&domain.Wallet{TenantID: "t1", Balance: 10}, false, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, "t1").Return(&domain.Wallet{TenantID: "t1", Balance: 10}, nil)
	d.ledgerRepo.EXPECT().SumReservedOut(ctx, tx, "t1").Return(int64(3), nil)
	d.ledgerRepo.EXPECT().Insert(ctx, tx, gomock.Any()).Return(true, nil)

	res, err := d.svc.Reserve(ctx, ports.ReserveRequest{
		TenantID:   "t1",
		EventID:    "evt-1-out",
		Direction:  domain.DirectionOut,
		Units:      5,
		ReasonCode: "auto_reply",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReserved, res.Outcome)
	require.NotNil(t, res.Entry)
	assert.Equal(t, domain.StatusReserved, res.Entry.Status)
	assert.Equal(t, int64(5), res.Entry.Units)
}

func TestLedgerService_Reserve_DeniedWhenSpendableTooLow(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.ledgerRepo.EXPECT().Get(ctx, "t1", "evt-2-out").Return(nil, nil)
	d.walletRepo.EXPECT().EnsureWallet(ctx, "t1", "INR").Return(&domain.Wallet{TenantID: "t1", Balance: 10}, false, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	// Balance 10, 8 already held: spendable is 2, request of 5 is denied.
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, "t1").Return(&domain.Wallet{TenantID: "t1", Balance: 10}, nil)
	d.ledgerRepo.EXPECT().SumReservedOut(ctx, tx, "t1").Return(int64(8), nil)

	res, err := d.svc.Reserve(ctx, ports.ReserveRequest{
		TenantID:  "t1",
		EventID:   "evt-2-out",
		Direction: domain.DirectionOut,
		Units:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDenied, res.Outcome)
	assert.Nil(t, res.Entry)
	assert.False(t, res.Granted())
}

func TestLedgerService_Reserve_RedeliveryReturnsExisting(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	existing := &domain.LedgerEntry{
		ID:       uuid.New(),
		TenantID: "t1",
		EventID:  "evt-3-out",
		Status:   domain.StatusReserved,
		Units:    5,
	}

	d.ledgerRepo.EXPECT().Get(ctx, "t1", "evt-3-out").Return(existing, nil)

	res, err := d.svc.Reserve(ctx, ports.ReserveRequest{
		TenantID:  "t1",
		EventID:   "evt-3-out",
		Direction: domain.DirectionOut,
		Units:     5,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyReserved, res.Outcome)
	assert.Same(t, existing, res.Entry)
	assert.True(t, res.Granted())
}

func TestLedgerService_Reserve_InboundSkipsCapacityCheck(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.ledgerRepo.EXPECT().Get(ctx, "t1", "evt-4-in").Return(nil, nil)
	d.walletRepo.EXPECT().EnsureWallet(ctx, "t1", "INR").Return(&domain.Wallet{TenantID: "t1", Balance: 0}, false, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	// No GetForUpdate, no SumReservedOut: inbound always succeeds.
	d.ledgerRepo.EXPECT().Insert(ctx, tx, gomock.Any()).Return(true, nil)

	res, err := d.svc.Reserve(ctx, ports.ReserveRequest{
		TenantID:  "t1",
		EventID:   "evt-4-in",
		Direction: domain.DirectionIn,
		Units:     0,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReserved, res.Outcome)
}

func TestLedgerService_Reserve_NegativeUnitsRejected(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	_, err := d.svc.Reserve(context.Background(), ports.ReserveRequest{
		TenantID:  "t1",
		EventID:   "evt-5-out",
		Direction: domain.DirectionOut,
		Units:     -1,
	})
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_003", appErr.Code)
}

func TestLedgerService_Reserve_InsertRaceReturnsWinner(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	winner := &domain.LedgerEntry{TenantID: "t1", EventID: "evt-6-out", Status: domain.StatusReserved, Units: 2}

	d.ledgerRepo.EXPECT().Get(ctx, "t1", "evt-6-out").Return(nil, nil)
	d.walletRepo.EXPECT().EnsureWallet(ctx, "t1", "INR").Return(&domain.Wallet{TenantID: "t1", Balance: 10}, false, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetForUpdate(ctx, tx, "t1").Return(&domain.Wallet{TenantID: "t1", Balance: 10}, nil)
	d.ledgerRepo.EXPECT().SumReservedOut(ctx, tx, "t1").Return(int64(0), nil)
	d.ledgerRepo.EXPECT().Insert(ctx, tx, gomock.Any()).Return(false, nil)
	d.ledgerRepo.EXPECT().Get(ctx, "t1", "evt-6-out").Return(winner, nil)

	res, err := d.svc.Reserve(ctx, ports.ReserveRequest{
		TenantID:  "t1",
		EventID:   "evt-6-out",
		Direction: domain.DirectionOut,
		Units:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyReserved, res.Outcome)
	assert.Same(t, winner, res.Entry)
}

// ==================== Credit Tests ====================

func TestLedgerService_Credit_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.walletRepo.EXPECT().EnsureWallet(ctx, "t1", "INR").Return(&domain.Wallet{TenantID: "t1"}, false, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Insert(ctx, tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, entry *domain.LedgerEntry) (bool, error) {
			assert.Equal(t, domain.StatusFinalized, entry.Status)
			assert.Equal(t, domain.DirectionIn, entry.Direction)
			assert.Equal(t, int64(100), entry.Units)
			return true, nil
		})
	d.walletRepo.EXPECT().ApplyDelta(ctx, tx, "t1", int64(100)).Return(nil)
	d.walletRepo.EXPECT().Get(ctx, "t1").Return(&domain.Wallet{TenantID: "t1", Balance: 100}, nil)

	wallet, err := d.svc.Credit(ctx, "t1", 100, "manual_topup", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100), wallet.Balance)
}

func TestLedgerService_Credit_RejectsNonPositiveAmount(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	for _, amount := range []int64{0, -5} {
		_, err := d.svc.Credit(context.Background(), "t1", amount, "manual_topup", nil)
		var appErr *apperror.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "LED_002", appErr.Code)
	}
}

// ==================== Finalize Tests ====================

func TestLedgerService_Finalize_AppliesDelta(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	entry := &domain.LedgerEntry{
		TenantID:  "t1",
		EventID:   "evt-7-out",
		Direction: domain.DirectionOut,
		Units:     3,
		Status:    domain.StatusFinalized,
	}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Transition(ctx, tx, "t1", "evt-7-out", domain.StatusReserved, domain.StatusFinalized).Return(entry, nil)
	d.walletRepo.EXPECT().ApplyDelta(ctx, tx, "t1", int64(-3)).Return(nil)

	got, err := d.svc.Finalize(ctx, "t1", "evt-7-out")
	require.NoError(t, err)
	assert.Same(t, entry, got)
}

func TestLedgerService_Finalize_UnknownEventReturnsNil(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Transition(ctx, tx, "t1", "nope", domain.StatusReserved, domain.StatusFinalized).Return(nil, nil)
	d.ledgerRepo.EXPECT().Get(ctx, "t1", "nope").Return(nil, nil)

	got, err := d.svc.Finalize(ctx, "t1", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedgerService_Finalize_IdempotentOnSecondCall(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	already := &domain.LedgerEntry{
		TenantID:  "t1",
		EventID:   "evt-8-out",
		Direction: domain.DirectionOut,
		Units:     3,
		Status:    domain.StatusFinalized,
	}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	// No row in reserved: the guarded update matches nothing and no
	// second delta is applied.
	d.ledgerRepo.EXPECT().Transition(ctx, tx, "t1", "evt-8-out", domain.StatusReserved, domain.StatusFinalized).Return(nil, nil)
	d.ledgerRepo.EXPECT().Get(ctx, "t1", "evt-8-out").Return(already, nil)

	got, err := d.svc.Finalize(ctx, "t1", "evt-8-out")
	require.NoError(t, err)
	assert.Same(t, already, got)
}

func TestLedgerService_Finalize_ZeroUnitsSkipsDelta(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	entry := &domain.LedgerEntry{
		TenantID:  "t1",
		EventID:   "evt-9-in",
		Direction: domain.DirectionIn,
		Units:     0,
		Status:    domain.StatusFinalized,
	}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Transition(ctx, tx, "t1", "evt-9-in", domain.StatusReserved, domain.StatusFinalized).Return(entry, nil)
	// No ApplyDelta expected.

	got, err := d.svc.Finalize(ctx, "t1", "evt-9-in")
	require.NoError(t, err)
	assert.Same(t, entry, got)
}

// ==================== Void / Refund Tests ====================

func TestLedgerService_VoidReserved(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Transition(ctx, tx, "t1", "evt-10-out", domain.StatusReserved, domain.StatusVoid).
		Return(&domain.LedgerEntry{TenantID: "t1", EventID: "evt-10-out", Status: domain.StatusVoid}, nil)

	ok, err := d.svc.VoidReserved(ctx, "t1", "evt-10-out")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedgerService_VoidReserved_NoReservation(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Transition(ctx, tx, "t1", "gone", domain.StatusReserved, domain.StatusVoid).Return(nil, nil)

	ok, err := d.svc.VoidReserved(ctx, "t1", "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerService_RefundFinalized_ReversesDelta(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	entry := &domain.LedgerEntry{
		TenantID:  "t1",
		EventID:   "evt-11-out",
		Direction: domain.DirectionOut,
		Units:     4,
		Status:    domain.StatusRefunded,
	}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Transition(ctx, tx, "t1", "evt-11-out", domain.StatusFinalized, domain.StatusRefunded).Return(entry, nil)
	// Outbound finalize took -4; the refund gives +4 back.
	d.walletRepo.EXPECT().ApplyDelta(ctx, tx, "t1", int64(4)).Return(nil)

	ok, err := d.svc.RefundFinalized(ctx, "t1", "evt-11-out")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedgerService_RefundFinalized_SecondRefundIsNoop(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.ledgerRepo.EXPECT().Transition(ctx, tx, "t1", "evt-11-out", domain.StatusFinalized, domain.StatusRefunded).Return(nil, nil)

	ok, err := d.svc.RefundFinalized(ctx, "t1", "evt-11-out")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ==================== EnsureWallet Tests ====================

func TestLedgerService_EnsureWallet_FreeTrialGrant(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	walletRepo := mocks.NewMockWalletRepository(ctrl)
	ledgerRepo := mocks.NewMockLedgerRepository(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	svc := NewLedgerService(transactor, walletRepo, ledgerRepo,
		config.CreditsConfig{Currency: "INR", FreeTrialCredits: 50}, zerolog.Nop())

	ctx := context.Background()
	tx := &mockTx{}

	// First sighting creates the wallet, then the trial grant runs as a
	// regular Credit.
	walletRepo.EXPECT().EnsureWallet(ctx, "t-new", "INR").Return(&domain.Wallet{TenantID: "t-new"}, true, nil)
	walletRepo.EXPECT().EnsureWallet(ctx, "t-new", "INR").Return(&domain.Wallet{TenantID: "t-new"}, false, nil)
	transactor.EXPECT().Begin(ctx).Return(tx, nil)
	ledgerRepo.EXPECT().Insert(ctx, tx, gomock.Any()).Return(true, nil)
	walletRepo.EXPECT().ApplyDelta(ctx, tx, "t-new", int64(50)).Return(nil)
	walletRepo.EXPECT().Get(ctx, "t-new").Return(&domain.Wallet{TenantID: "t-new", Balance: 50}, nil)

	wallet, err := svc.EnsureWallet(ctx, "t-new")
	require.NoError(t, err)
	assert.Equal(t, int64(50), wallet.Balance)
}
