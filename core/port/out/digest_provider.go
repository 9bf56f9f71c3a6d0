// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"digest_server/core/domain"
)

// =============================================================================
// Mail Provider Port (Gmail, local mailbox)
// =============================================================================

// MailProvider defines the outbound port for fetching raw messages from a
// mail source. Implementations: Gmail adapter, local JSON mailbox adapter.
type MailProvider interface {
	// ProviderType returns "gmail" or "local".
	ProviderType() string

	// ListMessageIDs returns up to limit message IDs, newest first.
	ListMessageIDs(ctx context.Context, userID string, limit int) ([]string, error)

	// GetMessage fetches one full raw message by provider message ID.
	GetMessage(ctx context.Context, messageID string) (*domain.RawMessage, error)
}

// =============================================================================
// Provider Error
// =============================================================================

// ProviderErrorCode represents mail provider error codes.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrNetwork      ProviderErrorCode = "network_error"
	ProviderErrServer       ProviderErrorCode = "server_error"
)

// ProviderError represents a mail provider failure.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}
