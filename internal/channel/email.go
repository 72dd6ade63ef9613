package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/relaymark/relaymark-backend/internal/apperror"
)

// EmailSender delivers through an HTTP email relay API.
type EmailSender struct {
	APIURL string
	APIKey string
	Client *http.Client
}

func NewEmailSender(apiURL, apiKey string) *EmailSender {
	return &EmailSender{
		APIURL: apiURL,
		APIKey: apiKey,
		Client: http.DefaultClient,
	}
}

type emailPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
}

type emailResponse struct {
	ID    string `json:"id"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *EmailSender) Send(ctx context.Context, req Request) (Result, error) {
	from := req.FromAddress
	if req.FromName != "" {
		from = fmt.Sprintf("%s <%s>", req.FromName, req.FromAddress)
	}

	body, err := json.Marshal(emailPayload{
		From:    from,
		To:      req.To,
		Subject: req.Subject,
		HTML:    req.HTMLBody,
		Text:    req.TextBody,
		ReplyTo: req.ReplyTo,
	})
	if err != nil {
		return Result{}, apperror.NewProviderError(apperror.ProviderRejected, "encode email payload: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, apperror.NewProviderError(apperror.ProviderRejected, "build email request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return Result{}, normalizeTransportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var parsed emailResponse
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if parsed.ID == "" {
			return Result{}, apperror.NewProviderError(apperror.ProviderRejected, "relay returned no message id")
		}
		return Result{ProviderMessageID: parsed.ID}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, apperror.NewProviderError(apperror.ProviderRateLimited, "relay rate limited: %s", parsed.Error.Message)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return Result{}, apperror.NewProviderError(apperror.ProviderInvalidDestination, "relay rejected destination %s: %s", req.To, parsed.Error.Message)
	case resp.StatusCode >= 500:
		return Result{}, apperror.NewProviderError(apperror.ProviderUnavailable, "relay unavailable (%d)", resp.StatusCode)
	default:
		return Result{}, apperror.NewProviderError(apperror.ProviderRejected, "relay rejected send (%d): %s", resp.StatusCode, parsed.Error.Message)
	}
}

// normalizeTransportError folds network-level failures into the
// provider taxonomy. A cancellation of the caller's context is passed
// through untouched so the dispatcher can leave the message pending
// instead of guessing at the outcome.
func normalizeTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return apperror.NewProviderError(apperror.ProviderTimeout, "send timed out: %v", err)
	}
	if ctx.Err() == context.DeadlineExceeded {
		return apperror.NewProviderError(apperror.ProviderTimeout, "send timed out: %v", err)
	}
	return apperror.NewProviderError(apperror.ProviderUnavailable, "provider unreachable: %v", err)
}
