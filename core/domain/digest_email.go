package domain

import (
	"strings"
	"time"
)

// RawMessage is the opaque payload handed over by the mail provider.
// It is never mutated after fetch; the strict parser owns the transform
// into ParsedEmail.
type RawMessage struct {
	MessageID    string            `json:"message_id"`
	ThreadID     string            `json:"thread_id"`
	InternalDate int64             `json:"internal_date"` // epoch millis from the provider
	Headers      map[string]string `json:"headers"`
	Snippet      string            `json:"snippet,omitempty"`
	BodyText     string            `json:"body_text,omitempty"`
	BodyHTML     string            `json:"body_html,omitempty"`
	Attachments  []string          `json:"attachments,omitempty"` // filenames only
}

// Header returns a header value, case-insensitive on the name.
func (m *RawMessage) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ParsedEmail is the strict transform of a RawMessage. Every field below
// Subject is required at parse time; a message missing one fails parsing
// and is dropped from the batch, never substituted.
type ParsedEmail struct {
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	ReceivedAt time.Time `json:"received_at"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	BodyText   string    `json:"body_text,omitempty"`
	BodyHTML   string    `json:"body_html,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`

	Attachments []string `json:"attachments,omitempty"`
}

// Body returns the preferred body: text when present, HTML otherwise.
func (e *ParsedEmail) Body() string {
	if e.BodyText != "" {
		return e.BodyText
	}
	return e.BodyHTML
}

// SenderAddress extracts the bare address from a From header like
// `Display Name <user@example.com>`.
func (e *ParsedEmail) SenderAddress() string {
	from := strings.TrimSpace(e.From)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			return strings.ToLower(from[i+1 : i+j])
		}
	}
	return strings.ToLower(from)
}

// SenderDomain returns the domain part of the sender address, or "" when
// the address has no @.
func (e *ParsedEmail) SenderDomain() string {
	addr := e.SenderAddress()
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return ""
}

// SenderName extracts the display-name part of the From header, falling
// back to the bare address.
func (e *ParsedEmail) SenderName() string {
	from := strings.TrimSpace(e.From)
	if i := strings.LastIndex(from, "<"); i > 0 {
		name := strings.TrimSpace(from[:i])
		name = strings.Trim(name, `"`)
		if name != "" {
			return name
		}
	}
	return e.SenderAddress()
}

// EmailThread is the persisted per-thread view used for noise counting
// and digest links.
type EmailThread struct {
	ThreadID    string      `json:"thread_id"`
	UserID      string      `json:"user_id"`
	LastSubject string      `json:"last_subject"`
	LastSender  string      `json:"last_sender"`
	Type        EmailType   `json:"type"`
	ClientLabel ClientLabel `json:"client_label"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
