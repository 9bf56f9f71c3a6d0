package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"digest_server/core/domain"
	"digest_server/core/port/out"
	"digest_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func writeMailbox(t *testing.T, messages ...*domain.RawMessage) string {
	t.Helper()
	data, err := json.Marshal(mailboxFile{Messages: messages})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "mailbox.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func fixtureMessage(id string, received time.Time) *domain.RawMessage {
	return &domain.RawMessage{
		MessageID:    id,
		ThreadID:     "thr-" + id,
		InternalDate: received.UnixMilli(),
		Headers: map[string]string{
			"Subject": "subject " + id,
			"From":    "sender@example.com",
			"To":      "user@example.com",
		},
		BodyText: "body " + id,
	}
}

func TestLocalAdapterListsNewestFirst(t *testing.T) {
	base := time.Date(2025, 11, 13, 8, 0, 0, 0, time.UTC)
	path := writeMailbox(t,
		fixtureMessage("old", base),
		fixtureMessage("new", base.Add(2*time.Hour)),
		fixtureMessage("mid", base.Add(time.Hour)),
	)

	adapter, err := NewLocalAdapter(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "local", adapter.ProviderType())

	ids, err := adapter.ListMessageIDs(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	ids, err = adapter.ListMessageIDs(context.Background(), "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid"}, ids)
}

func TestLocalAdapterGetMessage(t *testing.T) {
	path := writeMailbox(t, fixtureMessage("m1", time.Date(2025, 11, 13, 8, 0, 0, 0, time.UTC)))

	adapter, err := NewLocalAdapter(path, zerolog.Nop())
	require.NoError(t, err)

	msg, err := adapter.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "thr-m1", msg.ThreadID)
	assert.Equal(t, "subject m1", msg.Header("Subject"))

	_, err = adapter.GetMessage(context.Background(), "missing")
	var pErr *out.ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, out.ProviderErrNotFound, pErr.Code)
	assert.False(t, pErr.Retryable)
}

func TestLocalAdapterRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewLocalAdapter(path, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse mailbox file")

	_, err = NewLocalAdapter(filepath.Join(t.TempDir(), "absent.json"), zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read mailbox file")
}

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func TestConvertGmailMessageWalksMimeTree(t *testing.T) {
	msg := &gmail.Message{
		Id:           "g1",
		ThreadId:     "gthr-1",
		InternalDate: 1763024400000,
		Snippet:      "Your bill is ready",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Your Con Edison bill is ready"},
				{Name: "From", Value: "Con Edison <billing@coned.com>"},
				{Name: "To", Value: "user@example.com"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "text/plain",
							Body:     &gmail.MessagePartBody{Data: b64("Your bill of $186.56 is due Nov 15.")},
						},
						{
							MimeType: "text/html",
							// Unpadded variant, as the API often returns.
							Body: &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("<p>due Nov 15</p>"))},
						},
					},
				},
				{
					MimeType: "application/pdf",
					Filename: "bill.pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "att-1", Size: 1024},
				},
			},
		},
	}

	raw := convertGmailMessage(msg)
	assert.Equal(t, "g1", raw.MessageID)
	assert.Equal(t, "gthr-1", raw.ThreadID)
	assert.Equal(t, int64(1763024400000), raw.InternalDate)
	assert.Equal(t, "Your Con Edison bill is ready", raw.Header("Subject"))
	assert.Equal(t, "Your bill of $186.56 is due Nov 15.", raw.BodyText)
	assert.Equal(t, "<p>due Nov 15</p>", raw.BodyHTML)
	assert.Equal(t, []string{"bill.pdf"}, raw.Attachments)
}

func TestGmailWrapErrorMapsCodes(t *testing.T) {
	adapter := NewGmailAdapter(GmailConfig{}, metrics.NewCounterSet(), zerolog.Nop())

	tests := []struct {
		name      string
		err       error
		code      out.ProviderErrorCode
		retryable bool
	}{
		{"expired token", &googleapi.Error{Code: 401}, out.ProviderErrTokenExpired, false},
		{"forbidden", &googleapi.Error{Code: 403, Message: "insufficient scope"}, out.ProviderErrAuth, false},
		{"rate limited 403", &googleapi.Error{Code: 403, Message: "User Rate Limit Exceeded"}, out.ProviderErrRateLimit, true},
		{"not found", &googleapi.Error{Code: 404}, out.ProviderErrNotFound, false},
		{"too many requests", &googleapi.Error{Code: 429}, out.ProviderErrRateLimit, true},
		{"server error", &googleapi.Error{Code: 503}, out.ProviderErrServer, true},
		{"breaker open", gobreaker.ErrOpenState, out.ProviderErrNetwork, true},
		{"plain network error", errors.New("connection reset"), out.ProviderErrNetwork, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := adapter.wrapError(tt.err, "request failed")
			var pErr *out.ProviderError
			require.ErrorAs(t, wrapped, &pErr)
			assert.Equal(t, tt.code, pErr.Code)
			assert.Equal(t, tt.retryable, pErr.Retryable)
			assert.Equal(t, "gmail", pErr.Provider)
		})
	}

	assert.NoError(t, adapter.wrapError(nil, "ignored"))
}

func TestGmailCircuitBreakerIgnoresClientErrors(t *testing.T) {
	adapter := NewGmailAdapter(GmailConfig{}, metrics.NewCounterSet(), zerolog.Nop())
	notFound := &googleapi.Error{Code: 404}

	// Client errors never open the circuit, however many occur.
	for i := 0; i < 10; i++ {
		err := adapter.executeWithCircuitBreaker("GetMessage", func() error { return notFound })
		assert.Equal(t, notFound, err)
	}
	assert.Equal(t, gobreaker.StateClosed.String(), adapter.CircuitState())
}

func TestGmailCircuitBreakerTripsOnServerErrors(t *testing.T) {
	counters := metrics.NewCounterSet()
	adapter := NewGmailAdapter(GmailConfig{}, counters, zerolog.Nop())
	serverErr := &googleapi.Error{Code: 503}

	for i := 0; i < 6; i++ {
		_ = adapter.executeWithCircuitBreaker("ListMessageIDs", func() error { return serverErr })
	}
	assert.Equal(t, gobreaker.StateOpen.String(), adapter.CircuitState())
	assert.Equal(t, int64(1), counters.Get(metrics.CounterCircuitOpens))

	// While open, calls fail fast and map to a retryable network error.
	err := adapter.executeWithCircuitBreaker("ListMessageIDs", func() error { return nil })
	require.Error(t, err)
	var pErr *out.ProviderError
	require.ErrorAs(t, adapter.wrapError(err, "request failed"), &pErr)
	assert.Equal(t, out.ProviderErrNetwork, pErr.Code)
	assert.True(t, pErr.Retryable)
}
