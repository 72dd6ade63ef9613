package model

import "time"

// Campaign channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Campaign lifecycle statuses.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignSent      = "sent"
	CampaignFailed    = "failed"
)

type Campaign struct {
	ID              int        `db:"id" json:"id"`
	TenantID        string     `db:"tenant_id" json:"tenant_id"`
	Name            string     `db:"name" json:"name"`
	Channel         string     `db:"channel" json:"channel"`
	Status          string     `db:"status" json:"status"`
	Subject         string     `db:"subject" json:"subject,omitempty"`
	FromName        string     `db:"from_name" json:"from_name,omitempty"`
	FromAddress     string     `db:"from_address" json:"from_address,omitempty"`
	ReplyTo         string     `db:"reply_to" json:"reply_to,omitempty"`
	BaseTemplate    string     `db:"base_template" json:"base_template"`
	TextTemplate    string     `db:"text_template" json:"text_template,omitempty"`
	Tags            []string   `db:"tags" json:"tags,omitempty"`
	ScheduledAt     *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	TotalRecipients int        `db:"total_recipients" json:"total_recipients"`
	DeliveredCount  int        `db:"delivered_count" json:"delivered_count"`
	SentAt          *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Editable reports whether campaign content may still be changed.
// Content is frozen once dispatch starts.
func (c *Campaign) Editable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}
