package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/relaymark/relaymark-backend/internal/apperror"
)

// SMSSender delivers through an HTTP SMS gateway using account-SID
// style basic auth and form-encoded requests.
type SMSSender struct {
	APIURL    string
	AccountID string
	AuthToken string
	Client    *http.Client
}

func NewSMSSender(apiURL, accountID, authToken string) *SMSSender {
	return &SMSSender{
		APIURL:    apiURL,
		AccountID: accountID,
		AuthToken: authToken,
		Client:    http.DefaultClient,
	}
}

type smsResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
}

func (s *SMSSender) Send(ctx context.Context, req Request) (Result, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.FromNumber)
	form.Set("Body", req.Body)
	for _, media := range req.MediaURLs {
		form.Add("MediaUrl", media)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, apperror.NewProviderError(apperror.ProviderRejected, "build sms request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(s.AccountID, s.AuthToken)

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return Result{}, normalizeTransportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var parsed smsResponse
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if parsed.SID == "" {
			return Result{}, apperror.NewProviderError(apperror.ProviderRejected, "gateway returned no message sid")
		}
		return Result{ProviderMessageID: parsed.SID}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, apperror.NewProviderError(apperror.ProviderRateLimited, "gateway rate limited: %s", parsed.Message)
	case resp.StatusCode == http.StatusBadRequest && invalidNumberCode(parsed.Code):
		return Result{}, apperror.NewProviderError(apperror.ProviderInvalidDestination, "gateway rejected number %s: %s", req.To, parsed.Message)
	case resp.StatusCode >= 500:
		return Result{}, apperror.NewProviderError(apperror.ProviderUnavailable, "gateway unavailable (%d)", resp.StatusCode)
	default:
		return Result{}, apperror.NewProviderError(apperror.ProviderRejected, "gateway rejected send (%d): %s", resp.StatusCode, parsed.Message)
	}
}

// Gateway error codes for unreachable or malformed destination numbers.
func invalidNumberCode(code int) bool {
	switch code {
	case 21211, 21214, 21606, 21610:
		return true
	}
	return false
}
