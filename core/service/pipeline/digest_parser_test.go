package pipeline

import (
	"testing"
	"time"

	"digest_server/core/domain"
	"digest_server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() *domain.RawMessage {
	return rawMessage("m1", "thr-1",
		"  Team standup notes  ",
		" Alice <alice@example.com> ",
		"snippet",
		"Notes from today.",
		time.Date(2025, 11, 13, 9, 0, 0, 0, time.UTC))
}

func TestStrictParserValid(t *testing.T) {
	parser := NewStrictParser()

	email, err := parser.Parse(validRaw())
	require.NoError(t, err)

	assert.Equal(t, "m1", email.MessageID)
	assert.Equal(t, "thr-1", email.ThreadID)
	assert.Equal(t, time.Date(2025, 11, 13, 9, 0, 0, 0, time.UTC), email.ReceivedAt)
	assert.Equal(t, "Team standup notes", email.Subject, "headers are trimmed")
	assert.Equal(t, "Alice <alice@example.com>", email.From)
	assert.Equal(t, "user@example.com", email.To)
	assert.Equal(t, "Notes from today.", email.BodyText)
	assert.Equal(t, "snippet", email.Snippet)
}

func TestStrictParserHeaderNamesAreCaseInsensitive(t *testing.T) {
	raw := validRaw()
	raw.Headers = map[string]string{
		"subject": "hello",
		"FROM":    "a@example.com",
		"to":      "b@example.com",
	}

	email, err := NewStrictParser().Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", email.Subject)
}

func TestStrictParserRejectsIncompleteMessages(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.RawMessage) *domain.RawMessage
		reason string
	}{
		{
			name:   "nil message",
			mutate: func(*domain.RawMessage) *domain.RawMessage { return nil },
			reason: "missing message",
		},
		{
			name: "no message id",
			mutate: func(r *domain.RawMessage) *domain.RawMessage {
				r.MessageID = ""
				return r
			},
			reason: "missing message_id",
		},
		{
			name: "no thread id",
			mutate: func(r *domain.RawMessage) *domain.RawMessage {
				r.ThreadID = ""
				return r
			},
			reason: "missing thread_id",
		},
		{
			name: "no internal date",
			mutate: func(r *domain.RawMessage) *domain.RawMessage {
				r.InternalDate = 0
				return r
			},
			reason: "missing internal date",
		},
		{
			name: "blank subject",
			mutate: func(r *domain.RawMessage) *domain.RawMessage {
				r.Headers["Subject"] = "   "
				return r
			},
			reason: "missing Subject header",
		},
		{
			name: "no from",
			mutate: func(r *domain.RawMessage) *domain.RawMessage {
				delete(r.Headers, "From")
				return r
			},
			reason: "missing From header",
		},
		{
			name: "no to",
			mutate: func(r *domain.RawMessage) *domain.RawMessage {
				delete(r.Headers, "To")
				return r
			},
			reason: "missing To header",
		},
		{
			name: "no body at all",
			mutate: func(r *domain.RawMessage) *domain.RawMessage {
				r.BodyText = " "
				r.BodyHTML = ""
				return r
			},
			reason: "missing text or html body",
		},
	}

	parser := NewStrictParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, err := parser.Parse(tt.mutate(validRaw()))
			require.Error(t, err)
			assert.Nil(t, email)
			assert.True(t, apperr.IsCode(err, apperr.CodeParseError))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestStrictParserKeepsHTMLOnlyBodies(t *testing.T) {
	raw := validRaw()
	raw.BodyText = ""
	raw.BodyHTML = "<p>Notes from today.</p>"

	email, err := NewStrictParser().Parse(raw)
	require.NoError(t, err)
	assert.Empty(t, email.BodyText)
	assert.Equal(t, "<p>Notes from today.</p>", email.BodyHTML)
}
