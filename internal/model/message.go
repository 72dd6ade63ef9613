package model

import "time"

// Message statuses. A message only ever moves to a higher rank; failed
// and bounced are terminal.
const (
	MessagePending   = "pending"
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageOpened    = "opened"
	MessageClicked   = "clicked"
	MessageFailed    = "failed"
	MessageBounced   = "bounced"
)

// statusRank orders the forward-only message lifecycle. Terminal failure
// states sit above the engagement ladder so nothing overwrites them.
var statusRank = map[string]int{
	MessagePending:   0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageOpened:    3,
	MessageClicked:   4,
	MessageFailed:    5,
	MessageBounced:   5,
}

// StatusRank returns the lifecycle rank of a status, or -1 for an
// unknown status string.
func StatusRank(status string) int {
	r, ok := statusRank[status]
	if !ok {
		return -1
	}
	return r
}

// StatusAdvances reports whether moving from to next is a forward
// lifecycle transition. Failed and bounced never advance further.
func StatusAdvances(from, to string) bool {
	if from == MessageFailed || from == MessageBounced {
		return false
	}
	return StatusRank(to) > StatusRank(from)
}

// StatusesBelow lists every status with a rank lower than the given
// target. Used for conditional updates that must never regress a row.
func StatusesBelow(status string) []string {
	target := StatusRank(status)
	var below []string
	for s, r := range statusRank {
		if r < target && s != MessageFailed && s != MessageBounced {
			below = append(below, s)
		}
	}
	return below
}

// EngagementTracked reports whether the channel reports open and click
// engagement. SMS gateways only confirm delivery, so an SMS message
// never moves past delivered.
func EngagementTracked(channel string) bool {
	return channel == ChannelEmail
}

// Deliverable reports whether the status counts toward deliveredCount
// (sent or better on the engagement ladder).
func Deliverable(status string) bool {
	switch status {
	case MessageSent, MessageDelivered, MessageOpened, MessageClicked:
		return true
	}
	return false
}

type Message struct {
	ID                int        `db:"id" json:"id"`
	CampaignID        int        `db:"campaign_id" json:"campaign_id"`
	ContactID         int        `db:"contact_id" json:"contact_id"`
	Channel           string     `db:"channel" json:"channel"`
	Destination       string     `db:"destination" json:"destination"`
	Status            string     `db:"status" json:"status"`
	RenderedContent   string     `db:"rendered_content" json:"rendered_content"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError         string     `db:"last_error" json:"last_error,omitempty"`
	OpenCount         int        `db:"open_count" json:"open_count"`
	ClickCount        int        `db:"click_count" json:"click_count"`
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	OpenedAt          *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt         *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
	FailedAt          *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
