// Package provider implements mail source adapters: the Gmail API and a
// local JSON mailbox for development and tests.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"digest_server/core/domain"
	"digest_server/core/port/out"
	"digest_server/pkg/metrics"
	"digest_server/pkg/telemetry"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailConfig holds the Gmail adapter settings. The digest engine serves
// one pre-authorized account, so a bearer token is injected directly
// instead of running the OAuth exchange here.
type GmailConfig struct {
	UserEmail   string // Gmail user, usually "me"
	AccessToken string
}

// GmailAdapter implements out.MailProvider against the Gmail API with a
// circuit breaker around every call.
type GmailAdapter struct {
	user     string
	token    oauth2.TokenSource
	cb       *gobreaker.CircuitBreaker
	counters *metrics.CounterSet
	log      zerolog.Logger
}

var _ out.MailProvider = (*GmailAdapter)(nil)

// NewGmailAdapter creates a Gmail adapter for one account.
func NewGmailAdapter(cfg GmailConfig, counters *metrics.CounterSet, log zerolog.Logger) *GmailAdapter {
	user := cfg.UserEmail
	if user == "" {
		user = "me"
	}

	a := &GmailAdapter{
		user:     user,
		token:    oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken}),
		counters: counters,
		log:      log.With().Str("component", "gmail_adapter").Logger(),
	}

	a.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// Client errors are wrapped as nonCircuitError; only server-side
		// failures count toward tripping.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var nce *nonCircuitError
			return errors.As(err, &nce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := telemetry.EventCircuitClose
			switch to {
			case gobreaker.StateOpen:
				event = telemetry.EventCircuitOpen
				if a.counters != nil {
					a.counters.Inc(metrics.CounterCircuitOpens)
				}
			case gobreaker.StateHalfOpen:
				event = telemetry.EventCircuitHalfOpen
			}
			telemetry.Warn(a.log, event).
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return a
}

// ProviderType returns the provider type.
func (a *GmailAdapter) ProviderType() string {
	return "gmail"
}

// ListMessageIDs lists up to limit INBOX message IDs, newest first.
func (a *GmailAdapter) ListMessageIDs(ctx context.Context, _ string, limit int) ([]string, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, a.wrapError(err, "failed to build gmail service")
	}
	if limit <= 0 {
		limit = 100
	}

	var ids []string
	pageToken := ""
	for {
		req := svc.Users.Messages.List(a.user).
			LabelIds("INBOX").
			MaxResults(int64(limit - len(ids)))
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		cbErr := a.executeWithCircuitBreaker("ListMessageIDs", func() error {
			var apiErr error
			resp, apiErr = req.Context(ctx).Do()
			return apiErr
		})
		if cbErr != nil {
			return nil, a.wrapError(cbErr, "failed to list messages")
		}

		for _, ref := range resp.Messages {
			ids = append(ids, ref.Id)
		}
		if resp.NextPageToken == "" || len(ids) >= limit {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// GetMessage fetches one message in full format.
func (a *GmailAdapter) GetMessage(ctx context.Context, messageID string) (*domain.RawMessage, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, a.wrapError(err, "failed to build gmail service")
	}

	var msg *gmail.Message
	cbErr := a.executeWithCircuitBreaker("GetMessage", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get(a.user, messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to get message")
	}

	return convertGmailMessage(msg), nil
}

// CircuitState reports the breaker state for health checks.
func (a *GmailAdapter) CircuitState() string {
	return a.cb.State().String()
}

func (a *GmailAdapter) service(ctx context.Context) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	return gmail.NewService(ctx, option.WithTokenSource(a.token))
}

// executeWithCircuitBreaker wraps one API call. Server-side failures
// (5xx, 429) count toward tripping the breaker; client errors pass
// through without opening it.
func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	if err != nil {
		a.log.Warn().Str("operation", operation).Str("state", a.cb.State().String()).Err(err).
			Msg("gmail call failed")
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }

func (e *nonCircuitError) Unwrap() error { return e.err }

// wrapError maps Gmail failures onto provider error codes. Rate limits
// and server errors are retryable; auth and not-found are terminal.
func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out.NewProviderError("gmail", out.ProviderErrNetwork, "circuit breaker open", err, true)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError("gmail", out.ProviderErrTokenExpired, "token expired", err, false)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewProviderError("gmail", out.ProviderErrRateLimit, "rate limit exceeded", err, true)
			}
			return out.NewProviderError("gmail", out.ProviderErrAuth, "access denied", err, false)
		case 404:
			return out.NewProviderError("gmail", out.ProviderErrNotFound, "message not found", err, false)
		case 429:
			return out.NewProviderError("gmail", out.ProviderErrRateLimit, "too many requests", err, true)
		case 500, 502, 503:
			return out.NewProviderError("gmail", out.ProviderErrServer, "server error", err, true)
		}
	}

	return out.NewProviderError("gmail", out.ProviderErrNetwork, defaultMsg, err, true)
}

// convertGmailMessage maps the API shape onto the pipeline's raw message.
func convertGmailMessage(msg *gmail.Message) *domain.RawMessage {
	raw := &domain.RawMessage{
		MessageID:    msg.Id,
		ThreadID:     msg.ThreadId,
		InternalDate: msg.InternalDate,
		Snippet:      msg.Snippet,
		Headers:      make(map[string]string),
	}
	if msg.Payload == nil {
		return raw
	}

	for _, h := range msg.Payload.Headers {
		if _, exists := raw.Headers[h.Name]; !exists {
			raw.Headers[h.Name] = h.Value
		}
	}
	collectBodies(msg.Payload, raw)
	raw.Attachments = collectAttachmentNames(msg.Payload, nil)
	return raw
}

// collectBodies walks the MIME tree and keeps the first text/plain and
// text/html parts found.
func collectBodies(part *gmail.MessagePart, raw *domain.RawMessage) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if raw.BodyText == "" {
				if data, ok := decodeBase64URL(part.Body.Data); ok {
					raw.BodyText = string(data)
				}
			}
		case "text/html":
			if raw.BodyHTML == "" {
				if data, ok := decodeBase64URL(part.Body.Data); ok {
					raw.BodyHTML = string(data)
				}
			}
		}
	}

	for _, p := range part.Parts {
		collectBodies(p, raw)
	}
}

// decodeBase64URL accepts both padded and unpadded base64url; the API
// emits either depending on the message source.
func decodeBase64URL(s string) ([]byte, bool) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, true
	}
	if data, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return data, true
	}
	return nil, false
}

// collectAttachmentNames gathers attachment filenames. A part with a
// filename is an attachment in both full and metadata formats.
func collectAttachmentNames(part *gmail.MessagePart, names []string) []string {
	if part == nil {
		return names
	}
	if part.Filename != "" {
		names = append(names, part.Filename)
	}
	for _, p := range part.Parts {
		names = collectAttachmentNames(p, names)
	}
	return names
}
