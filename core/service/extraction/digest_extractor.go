// Package extraction pulls structured entities out of parsed emails with
// rule-based extractors. Extractors run in a fixed order and the first
// one producing an entity wins, so each email yields at most one entity.
package extraction

import (
	"context"
	"strings"

	"digest_server/core/domain"
	"digest_server/core/service/temporal"
	"digest_server/pkg/metrics"
	"digest_server/pkg/telemetry"

	"github.com/rs/zerolog"
)

// variantExtractor is one rule-based extractor for a single entity kind.
type variantExtractor interface {
	name() string
	extract(email *domain.ParsedEmail) *domain.Entity
}

// LLMFallback extracts an entity when every rule-based extractor passes.
type LLMFallback interface {
	ExtractEntity(ctx context.Context, email *domain.ParsedEmail) (*domain.Entity, error)
}

// NoopFallback is the default fallback: it extracts nothing, leaving the
// cascade entirely on rules.
type NoopFallback struct{}

// ExtractEntity returns no entity.
func (NoopFallback) ExtractEntity(context.Context, *domain.ParsedEmail) (*domain.Entity, error) {
	return nil, nil
}

// Extractor runs the variant extractors in fixed order: flight, event,
// deadline, reminder, promo, notification.
type Extractor struct {
	variants []variantExtractor
	fallback LLMFallback
	counters *metrics.CounterSet
	log      zerolog.Logger
}

// NewExtractor builds the extractor chain. fallback may be nil, which
// means no LLM fallback.
func NewExtractor(parser *temporal.Parser, fallback LLMFallback, counters *metrics.CounterSet, log zerolog.Logger) *Extractor {
	if fallback == nil {
		fallback = NoopFallback{}
	}
	return &Extractor{
		variants: []variantExtractor{
			&flightExtractor{parser: parser},
			&eventExtractor{parser: parser},
			&deadlineExtractor{parser: parser},
			&reminderExtractor{parser: parser},
			&promoExtractor{parser: parser},
			&notificationExtractor{parser: parser},
		},
		fallback: fallback,
		counters: counters,
		log:      log,
	}
}

// Extract produces at most one entity for the email. The classification
// supplies the stored importance. A nil return means the email carries
// no extractable entity and will be counted as noise.
func (x *Extractor) Extract(ctx context.Context, email *domain.ParsedEmail, cls *domain.Classification) *domain.Entity {
	var entity *domain.Entity
	for _, v := range x.variants {
		if entity = v.extract(email); entity != nil {
			break
		}
	}

	if entity == nil {
		fromLLM, err := x.fallback.ExtractEntity(ctx, email)
		if err != nil {
			x.log.Warn().Err(err).Str("message_id", email.MessageID).Msg("llm extraction fallback failed")
		}
		entity = fromLLM
	}
	if entity == nil {
		return nil
	}

	if cls != nil {
		entity.Importance = cls.Importance
	}
	x.validate(entity, email)

	if x.counters != nil {
		x.counters.Inc(metrics.CounterEntitiesFound)
	}
	return entity
}

// validate recovers missing source fields from the email so downstream
// stages never see an entity without provenance. Every recovery is
// surfaced as telemetry.
func (x *Extractor) validate(e *domain.Entity, email *domain.ParsedEmail) {
	if e.SourceEmailID == "" {
		e.SourceEmailID = email.MessageID
		x.inconsistent(email, e, "source_email_id")
	}
	if e.SourceThreadID == "" {
		e.SourceThreadID = email.ThreadID
		if e.SourceThreadID == "" {
			e.SourceThreadID = email.MessageID
		}
		x.inconsistent(email, e, "source_thread_id")
	}
	if len(e.SourceSubject) < 5 && email.Subject != e.SourceSubject {
		e.SourceSubject = email.Subject
		x.inconsistent(email, e, "source_subject")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = email.ReceivedAt
	}
}

func (x *Extractor) inconsistent(email *domain.ParsedEmail, e *domain.Entity, field string) {
	telemetry.Warn(x.log, telemetry.EventExtractInconsistent).
		Str("message_id", email.MessageID).
		Str("kind", string(e.Kind)).
		Str("field", field).
		Msg("recovered missing entity field")
}

// baseEntity fills the provenance fields every extractor needs.
func baseEntity(kind domain.EntityKind, email *domain.ParsedEmail, confidence float64) *domain.Entity {
	return &domain.Entity{
		Kind:           kind,
		Confidence:     confidence,
		SourceEmailID:  email.MessageID,
		SourceThreadID: email.ThreadID,
		SourceSubject:  email.Subject,
		SourceSnippet:  snippetOf(email),
		Timestamp:      email.ReceivedAt,
	}
}

// snippetOf prefers the provider snippet and falls back to the body head.
func snippetOf(email *domain.ParsedEmail) string {
	if email.Snippet != "" {
		return email.Snippet
	}
	body := strings.TrimSpace(email.Body())
	if len(body) > 200 {
		return body[:200]
	}
	return body
}

// searchText is the haystack the extractors match against: subject,
// snippet, and body, lowercased.
func searchText(email *domain.ParsedEmail) string {
	return strings.ToLower(email.Subject + "\n" + email.Snippet + "\n" + email.Body())
}
