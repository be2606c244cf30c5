package service

import (
	"context"
	"testing"
	"time"

	"metered-messaging/config"
	"metered-messaging/internal/core/domain"
	"metered-messaging/internal/core/ports"
	"metered-messaging/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type executorTestDeps struct {
	executor   *CampaignExecutor
	campaigns  *mocks.MockCampaignRepository
	recipients *mocks.MockRecipientRepository
	leads      *mocks.MockLeadRepository
	ledger     *mocks.MockCreditLedger
	transport  *mocks.MockSendTransport
	ctrl       *gomock.Controller
}

func setupExecutor(t *testing.T) *executorTestDeps {
	ctrl := gomock.NewController(t)
	d := &executorTestDeps{
		campaigns:  mocks.NewMockCampaignRepository(ctrl),
		recipients: mocks.NewMockRecipientRepository(ctrl),
		leads:      mocks.NewMockLeadRepository(ctrl),
		ledger:     mocks.NewMockCreditLedger(ctrl),
		transport:  mocks.NewMockSendTransport(ctrl),
		ctrl:       ctrl,
	}
	d.executor = NewCampaignExecutor(
		d.campaigns, d.recipients, d.leads, d.ledger, d.transport,
		config.CampaignConfig{BatchSize: 50, QuietHours: "21-08"},
		config.CreditsConfig{MessageCost: 1},
		zerolog.Nop(),
	)
	// Pin the clock to midday so quiet hours stay out of the way unless
	// a test moves it.
	d.executor.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return d
}

func runningCampaign() *domain.Campaign {
	return &domain.Campaign{ID: 7, TenantID: "t1", Status: domain.CampaignRunning}
}

func grantedReservation(eventID string) domain.ReservationResult {
	return domain.ReservationResult{
		Outcome: domain.OutcomeReserved,
		Entry:   &domain.LedgerEntry{EventID: eventID, Status: domain.StatusReserved},
	}
}

func TestExecutor_NotRunnableIsNoop(t *testing.T) {
	d := setupExecutor(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(
		&domain.Campaign{ID: 7, Status: domain.CampaignPaused}, nil)
	// Nothing else happens: the stale trigger is harmless.

	require.NoError(t, d.executor.ExecuteBatch(ctx, 7))
}

func TestExecutor_SendsBatchAndCompletes(t *testing.T) {
	d := setupExecutor(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(runningCampaign(), nil)
	d.recipients.EXPECT().ListPending(ctx, int64(7), 50, gomock.Any()).Return([]domain.CampaignRecipient{
		{ID: 100, CampaignID: 7, LeadID: 1, SendStatus: domain.SendPending, CreditUnits: 1},
	}, nil)
	d.leads.EXPECT().Get(ctx, int64(1)).Return(
		&domain.Lead{ID: 1, TenantID: "t1", Name: "Asha", Phone: "+919900000001", Status: "New"}, nil)
	d.ledger.EXPECT().Reserve(ctx, gomock.Any()).Return(grantedReservation("rec_100"), nil)
	d.transport.EXPECT().Send(ctx, "t1", gomock.Any()).Return(
		ports.SendResult{OK: true, ProviderRef: "wamid.7"}, nil)
	d.ledger.EXPECT().Finalize(ctx, "t1", "rec_100").Return(
		&domain.LedgerEntry{Status: domain.StatusFinalized}, nil)
	d.recipients.EXPECT().MarkSent(ctx, int64(100), gomock.Any(), gomock.Any()).Return(nil)
	d.recipients.EXPECT().CountPending(ctx, int64(7)).Return(int64(0), nil)
	d.campaigns.EXPECT().SetStatus(ctx, int64(7), domain.CampaignCompleted).Return(nil)

	require.NoError(t, d.executor.ExecuteBatch(ctx, 7))
}

func TestExecutor_DNDLeadMarkedError(t *testing.T) {
	d := setupExecutor(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(runningCampaign(), nil)
	d.recipients.EXPECT().ListPending(ctx, int64(7), 50, gomock.Any()).Return([]domain.CampaignRecipient{
		{ID: 101, CampaignID: 7, LeadID: 2, SendStatus: domain.SendPending},
	}, nil)
	d.leads.EXPECT().Get(ctx, int64(2)).Return(
		&domain.Lead{ID: 2, TenantID: "t1", Phone: "+91", Status: domain.LeadStatusDND}, nil)
	// No credits touched, no send attempted.
	d.recipients.EXPECT().MarkError(ctx, int64(101), domain.ErrCodeLeadMissingOrDND).Return(nil)
	d.recipients.EXPECT().CountPending(ctx, int64(7)).Return(int64(3), nil)

	require.NoError(t, d.executor.ExecuteBatch(ctx, 7))
}

func TestExecutor_MissingLeadMarkedError(t *testing.T) {
	d := setupExecutor(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(runningCampaign(), nil)
	d.recipients.EXPECT().ListPending(ctx, int64(7), 50, gomock.Any()).Return([]domain.CampaignRecipient{
		{ID: 102, CampaignID: 7, LeadID: 999, SendStatus: domain.SendPending},
	}, nil)
	d.leads.EXPECT().Get(ctx, int64(999)).Return(nil, nil)
	d.recipients.EXPECT().MarkError(ctx, int64(102), domain.ErrCodeLeadMissingOrDND).Return(nil)
	d.recipients.EXPECT().CountPending(ctx, int64(7)).Return(int64(1), nil)

	require.NoError(t, d.executor.ExecuteBatch(ctx, 7))
}

func TestExecutor_QuietHoursDefersRecipient(t *testing.T) {
	d := setupExecutor(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	// 23:00: inside the default quiet window.
	night := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	d.executor.now = func() time.Time { return night }

	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(runningCampaign(), nil)
	d.recipients.EXPECT().ListPending(ctx, int64(7), 50, night).Return([]domain.CampaignRecipient{
		{ID: 103, CampaignID: 7, LeadID: 3, SendStatus: domain.SendPending},
	}, nil)
	d.leads.EXPECT().Get(ctx, int64(3)).Return(
		&domain.Lead{ID: 3, TenantID: "t1", Phone: "+91", Status: "New"}, nil)
	d.recipients.EXPECT().Defer(ctx, int64(103), time.Date(2026, 3, 11, 8, 5, 0, 0, time.UTC)).Return(nil)
	// Deferred recipients still count as pending; campaign stays open.
	d.recipients.EXPECT().CountPending(ctx, int64(7)).Return(int64(1), nil)

	require.NoError(t, d.executor.ExecuteBatch(ctx, 7))
}

func TestExecutor_CreditExhaustionPausesCampaign(t *testing.T) {
	d := setupExecutor(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(runningCampaign(), nil)
	d.recipients.EXPECT().ListPending(ctx, int64(7), 50, gomock.Any()).Return([]domain.CampaignRecipient{
		{ID: 104, CampaignID: 7, LeadID: 4, SendStatus: domain.SendPending},
		{ID: 105, CampaignID: 7, LeadID: 5, SendStatus: domain.SendPending},
	}, nil)
	d.leads.EXPECT().Get(ctx, int64(4)).Return(
		&domain.Lead{ID: 4, TenantID: "t1", Phone: "+91", Status: "New"}, nil)
	d.ledger.EXPECT().Reserve(ctx, gomock.Any()).Return(
		domain.ReservationResult{Outcome: domain.OutcomeDenied}, nil)
	d.campaigns.EXPECT().SetStatus(ctx, int64(7), domain.CampaignPaused).Return(nil)
	// The second recipient is never touched and the completion check is
	// skipped: the batch stops where the credits ran out.

	require.NoError(t, d.executor.ExecuteBatch(ctx, 7))
}

func TestExecutor_ProviderFailureVoidsReservation(t *testing.T) {
	d := setupExecutor(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(runningCampaign(), nil)
	d.recipients.EXPECT().ListPending(ctx, int64(7), 50, gomock.Any()).Return([]domain.CampaignRecipient{
		{ID: 106, CampaignID: 7, LeadID: 6, SendStatus: domain.SendPending},
	}, nil)
	d.leads.EXPECT().Get(ctx, int64(6)).Return(
		&domain.Lead{ID: 6, TenantID: "t1", Phone: "+91", Status: "New"}, nil)
	d.ledger.EXPECT().Reserve(ctx, gomock.Any()).Return(grantedReservation("rec_106"), nil)
	d.transport.EXPECT().Send(ctx, "t1", gomock.Any()).Return(
		ports.SendResult{OK: false, Error: "provider status 500"}, nil)
	d.transport.EXPECT().Name().Return("dialog360")
	d.ledger.EXPECT().VoidReserved(ctx, "t1", "rec_106").Return(true, nil)
	d.recipients.EXPECT().MarkError(ctx, int64(106), domain.ErrCodeProviderFailed).Return(nil)
	d.recipients.EXPECT().CountPending(ctx, int64(7)).Return(int64(0), nil)
	d.campaigns.EXPECT().SetStatus(ctx, int64(7), domain.CampaignCompleted).Return(nil)

	require.NoError(t, d.executor.ExecuteBatch(ctx, 7))
}

func TestExecutor_PauseTakesEffectMidBatch(t *testing.T) {
	d := setupExecutor(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(runningCampaign(), nil)
	d.recipients.EXPECT().ListPending(ctx, int64(7), 50, gomock.Any()).Return([]domain.CampaignRecipient{
		{ID: 110, CampaignID: 7, LeadID: 10, SendStatus: domain.SendPending, CreditUnits: 1},
		{ID: 111, CampaignID: 7, LeadID: 11, SendStatus: domain.SendPending, CreditUnits: 1},
	}, nil)
	d.leads.EXPECT().Get(ctx, int64(10)).Return(
		&domain.Lead{ID: 10, TenantID: "t1", Phone: "+91", Status: "New"}, nil)
	d.ledger.EXPECT().Reserve(ctx, gomock.Any()).Return(grantedReservation("rec_110"), nil)
	d.transport.EXPECT().Send(ctx, "t1", gomock.Any()).Return(
		ports.SendResult{OK: true, ProviderRef: "wamid.110"}, nil)
	d.ledger.EXPECT().Finalize(ctx, "t1", "rec_110").Return(
		&domain.LedgerEntry{Status: domain.StatusFinalized}, nil)
	d.recipients.EXPECT().MarkSent(ctx, int64(110), gomock.Any(), gomock.Any()).Return(nil)
	// Someone paused the campaign while the first recipient was in
	// flight: the status re-read stops the batch and the second
	// recipient is never touched.
	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(
		&domain.Campaign{ID: 7, TenantID: "t1", Status: domain.CampaignPaused}, nil)

	require.NoError(t, d.executor.ExecuteBatch(ctx, 7))
}

func TestExecutor_SettledRecipientSkipped(t *testing.T) {
	d := setupExecutor(t)
	defer d.ctrl.Finish()
	ctx := context.Background()

	d.campaigns.EXPECT().Get(ctx, int64(7)).Return(runningCampaign(), nil)
	d.recipients.EXPECT().ListPending(ctx, int64(7), 50, gomock.Any()).Return([]domain.CampaignRecipient{
		{ID: 107, CampaignID: 7, LeadID: 8, SendStatus: domain.SendPending},
	}, nil)
	d.leads.EXPECT().Get(ctx, int64(8)).Return(
		&domain.Lead{ID: 8, TenantID: "t1", Phone: "+91", Status: "New"}, nil)
	// A crash between finalize and MarkSent left this recipient Pending
	// with a finalized charge; the retry recovers the mark but must not
	// send or charge again.
	d.ledger.EXPECT().Reserve(ctx, gomock.Any()).Return(domain.ReservationResult{
		Outcome: domain.OutcomeAlreadyReserved,
		Entry:   &domain.LedgerEntry{EventID: "rec_107", Status: domain.StatusFinalized},
	}, nil)
	d.recipients.EXPECT().MarkSent(ctx, int64(107), gomock.Any(), gomock.Any()).Return(nil)
	d.recipients.EXPECT().CountPending(ctx, int64(7)).Return(int64(0), nil)
	d.campaigns.EXPECT().SetStatus(ctx, int64(7), domain.CampaignCompleted).Return(nil)

	require.NoError(t, d.executor.ExecuteBatch(ctx, 7))
}
