// Package channel abstracts the outbound transports a campaign can be
// delivered over. Each sender normalizes its provider's failures into
// the apperror provider taxonomy, so callers never branch on
// provider-specific error shapes.
package channel

import "context"

// Request carries everything a sender needs for one message. Email and
// SMS senders each read the subset of fields that applies to them.
type Request struct {
	To string

	// Email
	Subject     string
	HTMLBody    string
	TextBody    string
	FromName    string
	FromAddress string
	ReplyTo     string

	// SMS
	Body       string
	FromNumber string
	MediaURLs  []string
}

// Result is a confirmed hand-off to the provider.
type Result struct {
	ProviderMessageID string
}

// Sender delivers a single message over one channel. A returned error
// is either an *apperror.ProviderError (the provider rejected or could
// not take the message) or a context error when the caller's deadline
// expired before the call could be confirmed either way.
type Sender interface {
	Send(ctx context.Context, req Request) (Result, error)
}
