package domain

import (
	"time"
)

// CampaignStatus is the campaign lifecycle.
// Draft → Running (launch), Running → Paused (credit exhaustion or manual),
// Paused → Running (resume), Running → Completed (no Pending recipients).
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "Draft"
	CampaignScheduled CampaignStatus = "Scheduled"
	CampaignRunning   CampaignStatus = "Running"
	CampaignPaused    CampaignStatus = "Paused"
	CampaignCompleted CampaignStatus = "Completed"
)

// Campaign is a bulk outbound send owned by one tenant.
type Campaign struct {
	ID           int64          `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Status       CampaignStatus `json:"status"`
	TemplateID   *string        `json:"template_id,omitempty"`
	DefaultPitch *string        `json:"default_pitch,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Runnable reports whether the executor may process a batch for this
// campaign. A stale trigger against a paused or completed campaign is a
// no-op.
func (c *Campaign) Runnable() bool {
	return c.Status == CampaignRunning || c.Status == CampaignScheduled
}

// SendStatus is the per-recipient delivery state. Recipients are never
// deleted; Error is terminal for the recipient, Pending with a future
// send_at means deferred by quiet hours.
type SendStatus string

const (
	SendPending SendStatus = "Pending"
	SendSent    SendStatus = "Sent"
	SendError   SendStatus = "Error"
)

// Recipient error codes written by the executor.
const (
	ErrCodeLeadMissingOrDND = "DND_OR_MISSING"
	ErrCodeProviderFailed   = "PROVIDER_FAILED"
)

// CampaignRecipient is one lead's slot in a campaign audience.
type CampaignRecipient struct {
	ID          int64          `json:"id"`
	CampaignID  int64          `json:"campaign_id"`
	LeadID      int64          `json:"lead_id"`
	SendStatus  SendStatus     `json:"send_status"`
	SendAt      *time.Time     `json:"send_at,omitempty"`
	ErrorCode   *string        `json:"error_code,omitempty"`
	CreditUnits int64          `json:"credit_units"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// LeadStatusDND marks a lead that must never be contacted.
const LeadStatusDND = "DND"

// Lead is the contact a campaign recipient points at.
type Lead struct {
	ID       int64   `json:"id"`
	TenantID string  `json:"tenant_id"`
	Name     string  `json:"name"`
	Phone    string  `json:"phone"`
	Status   string  `json:"status"`
	Pitch    *string `json:"pitch,omitempty"`
}

// DoNotDisturb reports whether sends to this lead are forbidden.
func (l *Lead) DoNotDisturb() bool {
	return l.Status == LeadStatusDND
}
