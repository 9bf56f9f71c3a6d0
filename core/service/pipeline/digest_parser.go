// Package pipeline runs the digest batch end to end: fetch, strict
// parse, dedup, classify, extract, decay, synthesize, render,
// checkpoint. The coordinator owns stage ordering and per-stage
// telemetry; the semantics of each stage live in their own packages.
package pipeline

import (
	"strings"
	"time"

	"digest_server/core/domain"
	"digest_server/pkg/apperr"
)

// StrictParser transforms raw provider messages into parsed emails.
// A message missing any required field fails with PARSE_ERROR and is
// dropped from the batch; nothing is ever substituted or guessed.
type StrictParser struct{}

// NewStrictParser creates a StrictParser.
func NewStrictParser() *StrictParser {
	return &StrictParser{}
}

// Parse validates one raw message. The error reason names the first
// missing field.
func (p *StrictParser) Parse(raw *domain.RawMessage) (*domain.ParsedEmail, error) {
	if raw == nil {
		return nil, apperr.ParseError("", "missing message")
	}
	if raw.MessageID == "" {
		return nil, apperr.ParseError("", "missing message_id")
	}
	if raw.ThreadID == "" {
		return nil, apperr.ParseError(raw.MessageID, "missing thread_id")
	}
	if raw.InternalDate <= 0 {
		return nil, apperr.ParseError(raw.MessageID, "missing internal date")
	}

	subject := strings.TrimSpace(raw.Header("Subject"))
	if subject == "" {
		return nil, apperr.ParseError(raw.MessageID, "missing Subject header")
	}
	from := strings.TrimSpace(raw.Header("From"))
	if from == "" {
		return nil, apperr.ParseError(raw.MessageID, "missing From header")
	}
	to := strings.TrimSpace(raw.Header("To"))
	if to == "" {
		return nil, apperr.ParseError(raw.MessageID, "missing To header")
	}
	if strings.TrimSpace(raw.BodyText) == "" && strings.TrimSpace(raw.BodyHTML) == "" {
		return nil, apperr.ParseError(raw.MessageID, "missing text or html body")
	}

	return &domain.ParsedEmail{
		MessageID:   raw.MessageID,
		ThreadID:    raw.ThreadID,
		ReceivedAt:  time.UnixMilli(raw.InternalDate).UTC(),
		Subject:     subject,
		From:        from,
		To:          to,
		BodyText:    raw.BodyText,
		BodyHTML:    raw.BodyHTML,
		Snippet:     raw.Snippet,
		Attachments: raw.Attachments,
	}, nil
}
