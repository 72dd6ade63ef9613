package model

import "time"

// Canonical delivery event kinds. Provider webhook payloads are mapped
// into these before they reach the reconciler.
const (
	EventDelivered = "delivered"
	EventOpened    = "opened"
	EventClicked   = "clicked"
	EventBounced   = "bounced"
	EventFailed    = "failed"
)

// DeliveryEvent is an asynchronous provider notification about a
// previously sent message, keyed by the provider's message identifier.
type DeliveryEvent struct {
	ID                string            `json:"id"`
	ProviderMessageID string            `json:"provider_message_id"`
	Kind              string            `json:"kind"`
	Timestamp         time.Time         `json:"timestamp"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// EventTargetStatus maps a canonical event kind to the message status it
// drives toward. Unknown kinds map to the empty string.
func EventTargetStatus(kind string) string {
	switch kind {
	case EventDelivered:
		return MessageDelivered
	case EventOpened:
		return MessageOpened
	case EventClicked:
		return MessageClicked
	case EventBounced:
		return MessageBounced
	case EventFailed:
		return MessageFailed
	}
	return ""
}
