// internal/apperror/provider.go
package apperror

import "fmt"

// Normalized provider failure codes. Channel adapters translate
// provider-specific rejections into one of these before the error
// reaches the dispatcher.
const (
	ProviderRejected           = "rejected"
	ProviderRateLimited        = "rate_limited"
	ProviderInvalidDestination = "invalid_destination"
	ProviderTimeout            = "timeout"
	ProviderUnavailable        = "unavailable"
)

// ProviderError is a channel send rejection, recorded on the message
// that triggered it. It never aborts a batch.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Code, e.Message)
}

func NewProviderError(code, format string, args ...any) *ProviderError {
	return &ProviderError{Code: code, Message: fmt.Sprintf(format, args...)}
}
