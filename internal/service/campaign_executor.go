package service

import (
	"context"
	"time"

	"metered-messaging/config"
	"metered-messaging/internal/core/domain"
	"metered-messaging/internal/core/ports"
	"metered-messaging/pkg/metrics"

	"github.com/rs/zerolog"
)

// CampaignExecutor drives bulk outbound sends one batch at a time.
// Every recipient send is metered through the ledger under the
// recipient's own event id, so re-running a batch after a crash cannot
// charge or send a recipient twice once its reservation settled.
type CampaignExecutor struct {
	campaigns  ports.CampaignRepository
	recipients ports.RecipientRepository
	leads      ports.LeadRepository
	ledger     ports.CreditLedger
	transport  ports.SendTransport
	log        zerolog.Logger

	batchSize   int
	quietWindow string
	messageCost int64

	now func() time.Time
}

// NewCampaignExecutor creates the batch executor.
func NewCampaignExecutor(
	campaigns ports.CampaignRepository,
	recipients ports.RecipientRepository,
	leads ports.LeadRepository,
	ledger ports.CreditLedger,
	transport ports.SendTransport,
	campaignCfg config.CampaignConfig,
	creditsCfg config.CreditsConfig,
	log zerolog.Logger,
) *CampaignExecutor {
	return &CampaignExecutor{
		campaigns:   campaigns,
		recipients:  recipients,
		leads:       leads,
		ledger:      ledger,
		transport:   transport,
		log:         log.With().Str("component", "campaign_executor").Logger(),
		batchSize:   campaignCfg.BatchSize,
		quietWindow: campaignCfg.QuietHours,
		messageCost: creditsCfg.MessageCost,
		now:         time.Now,
	}
}

// ExecuteBatch processes up to one batch of pending recipients for a
// campaign. A campaign that is not runnable is a no-op, so stale
// triggers are harmless. The campaign status is re-read between
// recipients, so a pause landing mid-batch stops the batch within one
// recipient's processing time, never mid-recipient. A denied credit
// reservation pauses the campaign and abandons the rest of the batch.
func (e *CampaignExecutor) ExecuteBatch(ctx context.Context, campaignID int64) error {
	campaign, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		e.log.Warn().Int64("campaign_id", campaignID).Msg("campaign not found")
		return nil
	}
	if !campaign.Runnable() {
		return nil
	}

	log := e.log.With().Int64("campaign_id", campaignID).Str("tenant_id", campaign.TenantID).Logger()

	now := e.now()
	batch, err := e.recipients.ListPending(ctx, campaignID, e.batchSize, now)
	if err != nil {
		return err
	}

	for i, recipient := range batch {
		if i > 0 {
			current, err := e.campaigns.Get(ctx, campaignID)
			if err != nil {
				return err
			}
			if current == nil || !current.Runnable() {
				log.Info().Msg("campaign no longer runnable, batch stopped")
				return nil
			}
			campaign = current
		}
		paused, err := e.sendRecipient(ctx, campaign, recipient, log)
		if err != nil {
			return err
		}
		if paused {
			return nil
		}
	}

	remaining, err := e.recipients.CountPending(ctx, campaignID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := e.campaigns.SetStatus(ctx, campaignID, domain.CampaignCompleted); err != nil {
			return err
		}
		log.Info().Msg("campaign completed")
	}
	return nil
}

// sendRecipient handles one recipient. The returned bool reports
// whether credit exhaustion paused the campaign, ending the batch.
func (e *CampaignExecutor) sendRecipient(ctx context.Context, campaign *domain.Campaign, recipient domain.CampaignRecipient, log zerolog.Logger) (bool, error) {
	rlog := log.With().Int64("recipient_id", recipient.ID).Int64("lead_id", recipient.LeadID).Logger()

	lead, err := e.leads.Get(ctx, recipient.LeadID)
	if err != nil {
		return false, err
	}
	if lead == nil || lead.DoNotDisturb() {
		if err := e.recipients.MarkError(ctx, recipient.ID, domain.ErrCodeLeadMissingOrDND); err != nil {
			return false, err
		}
		rlog.Info().Msg("recipient skipped: lead missing or DND")
		return false, nil
	}

	now := e.now()
	if WithinQuietHours(now, e.quietWindow) {
		sendAt := NextAllowedTime(now, e.quietWindow)
		if err := e.recipients.Defer(ctx, recipient.ID, sendAt); err != nil {
			return false, err
		}
		rlog.Info().Time("send_at", sendAt).Msg("recipient deferred by quiet hours")
		return false, nil
	}

	units := recipient.CreditUnits
	if units <= 0 {
		units = e.messageCost
	}
	eventID := domain.RecipientEventID(recipient.ID)
	res, err := e.ledger.Reserve(ctx, ports.ReserveRequest{
		TenantID:   campaign.TenantID,
		EventID:    eventID,
		Direction:  domain.DirectionOut,
		Units:      units,
		ReasonCode: "campaign_send",
		Metadata:   map[string]any{"campaign_id": campaign.ID, "recipient_id": recipient.ID},
	})
	if err != nil {
		return false, err
	}
	if !res.Granted() {
		if err := e.campaigns.SetStatus(ctx, campaign.ID, domain.CampaignPaused); err != nil {
			return false, err
		}
		rlog.Warn().Msg("campaign paused: credits exhausted")
		return true, nil
	}
	// An earlier run already settled this recipient's charge; do not
	// send or charge again, just recover the Sent mark.
	if res.Outcome == domain.OutcomeAlreadyReserved && res.Entry.Status != domain.StatusReserved {
		rlog.Info().Str("status", string(res.Entry.Status)).Msg("recipient charge already settled, skipping send")
		if res.Entry.Status == domain.StatusFinalized {
			if err := e.recipients.MarkSent(ctx, recipient.ID, e.now(), map[string]any{"recovered": true}); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	msg := ports.OutboundMessage{To: lead.Phone}
	if campaign.TemplateID != nil && *campaign.TemplateID != "" {
		msg.TemplateID = *campaign.TemplateID
		msg.Params = map[string]string{"name": lead.Name}
	} else {
		msg.Text = pitchFor(campaign, lead)
	}

	sent, err := e.transport.Send(ctx, campaign.TenantID, msg)
	if err != nil || !sent.OK {
		metrics.ProviderErrors.WithLabelValues(e.transport.Name()).Inc()
		if err != nil {
			rlog.Error().Err(err).Msg("send transport error")
		} else {
			rlog.Warn().Str("provider_error", sent.Error).Msg("provider rejected send")
		}
		// Release the hold so a failed send never strands credits.
		if _, verr := e.ledger.VoidReserved(ctx, campaign.TenantID, eventID); verr != nil {
			return false, verr
		}
		if merr := e.recipients.MarkError(ctx, recipient.ID, domain.ErrCodeProviderFailed); merr != nil {
			return false, merr
		}
		return false, nil
	}

	if _, err := e.ledger.Finalize(ctx, campaign.TenantID, eventID); err != nil {
		return false, err
	}
	meta := map[string]any{"provider_ref": sent.ProviderRef}
	if msg.TemplateID != "" {
		meta["template_id"] = msg.TemplateID
	}
	if err := e.recipients.MarkSent(ctx, recipient.ID, e.now(), meta); err != nil {
		return false, err
	}
	metrics.IncCampaignSend(campaign.ID, msg.TemplateID)
	rlog.Info().Str("provider_ref", sent.ProviderRef).Msg("campaign message sent")
	return false, nil
}

// pitchFor resolves the message body: the lead's own pitch wins, then
// the campaign default, then a generic greeting.
func pitchFor(campaign *domain.Campaign, lead *domain.Lead) string {
	if lead.Pitch != nil && *lead.Pitch != "" {
		return *lead.Pitch
	}
	if campaign.DefaultPitch != nil && *campaign.DefaultPitch != "" {
		return *campaign.DefaultPitch
	}
	return "Hello " + lead.Name + "!"
}
