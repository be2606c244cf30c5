// Package metrics holds the prometheus instruments emitted by the credit
// core: credit movement counters, message counters, provider failures and
// campaign sends.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CreditsSpent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_spent_total",
		Help: "Total credits spent",
	}, []string{"tenant_id", "reason_code"})

	CreditsToppedUp = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_topped_up_total",
		Help: "Total credits topped up",
	}, []string{"tenant_id", "reason_code"})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_total",
		Help: "Messages processed",
	}, []string{"tenant_id", "direction"})

	ModerationBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_blocks_total",
		Help: "Flagged or blocked outbound messages",
	}, []string{"tenant_id"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_errors_total",
		Help: "Send transport provider errors",
	}, []string{"provider"})

	CampaignSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_sends_total",
		Help: "Campaign messages sent",
	}, []string{"campaign_id", "template"})

	ReservationsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_reservations_denied_total",
		Help: "Reservations denied by admission control",
	}, []string{"tenant_id", "reason_code"})

	StreamDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhook_queue_depth",
		Help: "Inbound event stream depth",
	})
)

// IncCredits records units spent against a tenant.
func IncCredits(tenantID, reasonCode string, units int64) {
	CreditsSpent.WithLabelValues(tenantID, reasonCode).Add(float64(units))
}

// IncTopup records units credited to a tenant.
func IncTopup(tenantID, reasonCode string, units int64) {
	CreditsToppedUp.WithLabelValues(tenantID, reasonCode).Add(float64(units))
}

// IncMessage records one processed message in a direction ("in"/"out").
func IncMessage(tenantID, direction string) {
	MessagesTotal.WithLabelValues(tenantID, direction).Inc()
}

// IncCampaignSend records one campaign message sent.
func IncCampaignSend(campaignID int64, template string) {
	if template == "" {
		template = "text"
	}
	CampaignSends.WithLabelValues(strconv.FormatInt(campaignID, 10), template).Inc()
}
