// Package classification implements the three-stage classification cascade:
// type mapper → user rules → LLM, plus the guardrail layer applied to the
// cascade's output.
package classification

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Field length caps applied before any prompt construction.
const (
	MaxFromLen    = 256
	MaxSubjectLen = 500
	MaxSnippetLen = 1000
)

// Prompt-injection patterns redacted from user-controlled fields before
// they reach the model.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions?`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+instructions?`),
	regexp.MustCompile(`(?i)^\s*(system|assistant|user)\s*:`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s`),
	regexp.MustCompile(`<\|[^|]*\|>`),
	regexp.MustCompile(`\[INST\]|\[/INST\]`),
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

const redactedMarker = "[removed]"

// Sanitizer normalizes user-controlled email fields for prompt use.
type Sanitizer struct{}

// NewSanitizer creates a new Sanitizer.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// Clean sanitizes one field: drops control characters, redacts injection
// patterns, escapes template braces, and truncates to maxLen.
func (s *Sanitizer) Clean(field string, maxLen int) string {
	out := controlChars.ReplaceAllString(field, "")
	for _, p := range injectionPatterns {
		out = p.ReplaceAllString(out, redactedMarker)
	}
	out = strings.ReplaceAll(out, "{{", "{ {")
	out = strings.ReplaceAll(out, "}}", "} }")
	out = strings.TrimSpace(out)
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}

// CleanedInput is the sanitized (from, subject, snippet) triple fed to the
// model, plus its stable digest for replay.
type CleanedInput struct {
	From    string
	Subject string
	Snippet string
	Digest  string
}

// CleanInput sanitizes all three prompt fields and computes the
// normalized-input digest.
func (s *Sanitizer) CleanInput(from, subject, snippet string) CleanedInput {
	in := CleanedInput{
		From:    s.Clean(from, MaxFromLen),
		Subject: s.Clean(subject, MaxSubjectLen),
		Snippet: s.Clean(snippet, MaxSnippetLen),
	}
	in.Digest = normalizedDigest(in.From, in.Subject, in.Snippet)
	return in
}

// normalizedDigest is a stable hash of the sanitized input triple. Equal
// inputs always produce equal digests, which makes decisions replayable.
func normalizedDigest(from, subject, snippet string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(from)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(subject)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(snippet)))
	return hex.EncodeToString(h.Sum(nil))
}
