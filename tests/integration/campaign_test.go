package integration

import (
	"context"
	"testing"

	"metered-messaging/config"
	"metered-messaging/internal/core/domain"
	"metered-messaging/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCampaignFixture(balance int64, recipients int) (*service.CampaignExecutor, *inMemoryLedger, *inMemoryCampaignRepo, *inMemoryRecipientRepo, *fakeTransport) {
	ledger := newInMemoryLedger()
	if balance > 0 {
		_, _ = ledger.Credit(context.Background(), "t1", balance, "manual_topup", nil)
	}

	campaigns := newInMemoryCampaignRepo()
	campaigns.campaigns[7] = &domain.Campaign{ID: 7, TenantID: "t1", Status: domain.CampaignRunning}

	leads := &inMemoryLeadRepo{leads: make(map[int64]*domain.Lead)}
	recRepo := &inMemoryRecipientRepo{}
	for i := 1; i <= recipients; i++ {
		id := int64(i)
		leads.leads[id] = &domain.Lead{ID: id, TenantID: "t1", Name: "Lead", Phone: "+9199", Status: "New"}
		recRepo.recipients = append(recRepo.recipients, &domain.CampaignRecipient{
			ID: 100 + id, CampaignID: 7, LeadID: id, SendStatus: domain.SendPending, CreditUnits: 1,
		})
	}

	transport := &fakeTransport{}
	executor := service.NewCampaignExecutor(
		campaigns, recRepo, leads, ledger, transport,
		// "0-0" disables quiet hours so wall-clock time cannot skew the test.
		config.CampaignConfig{BatchSize: 50, QuietHours: "0-0"},
		config.CreditsConfig{MessageCost: 1},
		zerolog.Nop(),
	)
	return executor, ledger, campaigns, recRepo, transport
}

// TestCampaignBackpressure verifies that a campaign with more pending
// recipients than spendable credits sends exactly balance-many messages
// and then pauses itself, leaving the rest Pending.
func TestCampaignBackpressure(t *testing.T) {
	executor, ledger, campaigns, recipients, transport := newCampaignFixture(2, 5)
	ctx := context.Background()

	require.NoError(t, executor.ExecuteBatch(ctx, 7))

	assert.Equal(t, 2, transport.sentCount())
	assert.Equal(t, 2, recipients.countByStatus(7, domain.SendSent))
	assert.Equal(t, 3, recipients.countByStatus(7, domain.SendPending))
	assert.Equal(t, int64(0), ledger.balance("t1"))

	c, err := campaigns.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, c.Status)

	// A resumed campaign with fresh credits picks up where it stopped.
	_, err = ledger.Credit(ctx, "t1", 10, "manual_topup", nil)
	require.NoError(t, err)
	moved, err := campaigns.TransitionStatus(ctx, 7, domain.CampaignPaused, domain.CampaignRunning)
	require.NoError(t, err)
	require.True(t, moved)

	require.NoError(t, executor.ExecuteBatch(ctx, 7))
	assert.Equal(t, 5, transport.sentCount())
	assert.Equal(t, 5, recipients.countByStatus(7, domain.SendSent))

	c, err = campaigns.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
}

// TestCampaignPauseMidBatch pauses the campaign while the first
// recipient's send is in flight and verifies the batch stops before
// the next recipient.
func TestCampaignPauseMidBatch(t *testing.T) {
	executor, _, campaigns, recipients, transport := newCampaignFixture(10, 5)
	ctx := context.Background()

	transport.onSend = func() {
		require.NoError(t, campaigns.SetStatus(ctx, 7, domain.CampaignPaused))
	}

	require.NoError(t, executor.ExecuteBatch(ctx, 7))

	assert.Equal(t, 1, transport.sentCount())
	assert.Equal(t, 1, recipients.countByStatus(7, domain.SendSent))
	assert.Equal(t, 4, recipients.countByStatus(7, domain.SendPending))

	c, err := campaigns.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, c.Status)
}

// TestCampaignRerun_NeverResends re-executes a finished batch and
// verifies per-recipient idempotency holds at the ledger.
func TestCampaignRerun_NeverResends(t *testing.T) {
	executor, ledger, campaigns, recipients, transport := newCampaignFixture(10, 3)
	ctx := context.Background()

	require.NoError(t, executor.ExecuteBatch(ctx, 7))
	require.Equal(t, 3, transport.sentCount())
	require.Equal(t, int64(7), ledger.balance("t1"))

	// Simulate a crash that lost the Sent marks but kept the ledger,
	// then rerun the batch.
	for _, rec := range recipients.recipients {
		rec.SendStatus = domain.SendPending
	}
	require.NoError(t, campaigns.SetStatus(ctx, 7, domain.CampaignRunning))
	require.NoError(t, executor.ExecuteBatch(ctx, 7))

	// Charges already settled: no extra sends, no extra spend, and the
	// Sent marks are recovered so the campaign still completes.
	assert.Equal(t, 3, transport.sentCount())
	assert.Equal(t, int64(7), ledger.balance("t1"))
	assert.Equal(t, 3, recipients.countByStatus(7, domain.SendSent))

	c, err := campaigns.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
}
