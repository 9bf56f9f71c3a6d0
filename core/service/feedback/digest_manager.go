// Package feedback closes the learning loop: user corrections and
// confident LLM decisions flow in, learned rules and few-shot examples
// flow back into the classification cascade. The flow is strictly
// one-way; the cascade never calls into this package directly.
package feedback

import (
	"context"
	"strings"
	"time"

	"digest_server/core/domain"
	"digest_server/core/port/out"
	"digest_server/pkg/metrics"
	"digest_server/pkg/telemetry"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Confidence recorded on patterns learned from explicit corrections.
// Observations carry the model's own confidence instead.
const correctionPatternConfidence = 0.95

// RuleLearner is the slice of the rules engine the manager drives.
type RuleLearner interface {
	LearnCorrection(ctx context.Context, userID, sender, category string) error
	Observe(ctx context.Context, event *domain.LearningEvent) error
}

// exampleClassification is the compact classification shape stored in
// learned patterns and served back in few-shot examples.
type exampleClassification struct {
	Type         domain.EmailType    `json:"type"`
	Importance   domain.Importance   `json:"importance,omitempty"`
	Attention    domain.Attention    `json:"attention,omitempty"`
	Relationship domain.Relationship `json:"relationship,omitempty"`
}

// Manager owns the feedback state transitions: corrections become rules
// and learned patterns, observations accumulate into pending rules.
type Manager struct {
	repo     out.FeedbackRepository
	rules    RuleLearner
	cache    *FewshotCache
	counters *metrics.CounterSet
	disabled bool
	log      zerolog.Logger
	now      func() time.Time
}

// NewManager wires the feedback loop. cache may be nil when few-shot
// serving is not needed; disabled turns every ingest into a no-op.
func NewManager(repo out.FeedbackRepository, rules RuleLearner, cache *FewshotCache, counters *metrics.CounterSet, disabled bool, log zerolog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		rules:    rules,
		cache:    cache,
		counters: counters,
		disabled: disabled,
		log:      log.With().Str("component", "feedback").Logger(),
		now:      time.Now,
	}
}

// RecordCorrection persists one user correction and learns from it
// immediately: a sender rule at correction confidence plus a learned
// pattern for the few-shot block. The correction id is assigned here so
// retries stay idempotent. Corrections toward "uncategorized" are
// stored for audit but never learned.
func (m *Manager) RecordCorrection(ctx context.Context, c *domain.Correction) error {
	if m.disabled {
		m.log.Debug().Str("message_id", c.MessageID).Msg("feedback disabled, correction dropped")
		return nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().UTC()
	}

	if err := m.repo.InsertCorrection(ctx, c); err != nil {
		return err
	}
	if m.counters != nil {
		m.counters.Inc(metrics.CounterCorrections)
	}
	telemetry.Emit(m.log, telemetry.EventCorrectionRecorded).
		Str("user_id", c.UserID).
		Str("sender", c.Sender).
		Str("predicted_type", string(c.PredictedType)).
		Str("actual_type", string(c.ActualType)).
		Msg("correction recorded")

	if c.ActualType == domain.TypeUncategorized {
		return nil
	}

	sender := senderAddress(c.Sender)
	category := c.ActualLabel
	if category == "" {
		category = string(domain.ClientLabelFor(c.ActualType, domain.AttentionNone))
	}
	if m.rules != nil {
		if err := m.rules.LearnCorrection(ctx, c.UserID, sender, category); err != nil {
			m.log.Warn().Err(err).Str("sender", sender).Msg("correction rule not learned")
		}
	}

	cls, err := json.Marshal(exampleClassification{Type: c.ActualType})
	if err != nil {
		return err
	}
	pattern := &domain.LearnedPattern{
		PatternType:        domain.PatternSenderExact,
		PatternValue:       sender,
		ClassificationJSON: string(cls),
		SupportCount:       1,
		Confidence:         correctionPatternConfidence,
		FirstSeen:          c.CreatedAt,
		LastSeen:           c.CreatedAt,
	}
	if err := m.repo.UpsertLearnedPattern(ctx, pattern); err != nil {
		m.log.Warn().Err(err).Str("pattern", sender).Msg("learned pattern not stored")
	}
	return nil
}

// HandleLearningEvent ingests one confident model decision: the rules
// engine sees the observation and the learned pattern table gains (or
// reinforces) the matching few-shot material.
func (m *Manager) HandleLearningEvent(ctx context.Context, event *domain.LearningEvent) error {
	if event == nil || m.disabled {
		return nil
	}

	if m.rules != nil {
		if err := m.rules.Observe(ctx, event); err != nil {
			m.log.Warn().Err(err).Str("sender", event.Sender).Msg("learning observation failed")
		}
	}

	if event.Classification.Type == domain.TypeUncategorized {
		return nil
	}

	patternType, patternValue := eventPattern(event)
	cls, err := json.Marshal(exampleClassification{
		Type:         event.Classification.Type,
		Importance:   event.Classification.Importance,
		Attention:    event.Classification.Attention,
		Relationship: event.Classification.Relationship,
	})
	if err != nil {
		return err
	}

	observedAt := event.ObservedAt
	if observedAt.IsZero() {
		observedAt = m.now().UTC()
	}
	return m.repo.UpsertLearnedPattern(ctx, &domain.LearnedPattern{
		PatternType:        patternType,
		PatternValue:       patternValue,
		ClassificationJSON: string(cls),
		SupportCount:       1,
		Confidence:         event.Classification.TypeConf,
		FirstSeen:          observedAt,
		LastSeen:           observedAt,
	})
}

// RefreshFewshot rebuilds the few-shot snapshot from storage.
func (m *Manager) RefreshFewshot(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Refresh(ctx)
}

// CorrectionStats summarizes the user's corrections.
func (m *Manager) CorrectionStats(ctx context.Context, userID string) (*domain.CorrectionStats, error) {
	return m.repo.GetCorrectionStats(ctx, userID)
}

// RecentCorrections lists the newest corrections first.
func (m *Manager) RecentCorrections(ctx context.Context, userID string, limit int) ([]*domain.Correction, error) {
	return m.repo.GetRecentCorrections(ctx, userID, limit)
}

// TopCorrectedSenders ranks senders by how often the user corrected them.
func (m *Manager) TopCorrectedSenders(ctx context.Context, userID string, limit int) ([]*domain.SenderCorrectionCount, error) {
	return m.repo.GetTopCorrectedSenders(ctx, userID, limit)
}

// eventPattern picks the pattern the event should reinforce: the model's
// proposal when valid, the bare sender address otherwise. Mirrors the
// rules engine so both tables key the same way.
func eventPattern(event *domain.LearningEvent) (domain.PatternType, string) {
	if p := event.Classification.Propose; p != nil && p.ShouldPropose == "true" {
		patternType := domain.PatternType(p.PatternType)
		if patternType.Valid() && p.Pattern != "" {
			return patternType, strings.ToLower(p.Pattern)
		}
	}
	return domain.PatternSenderExact, senderAddress(event.Sender)
}

// senderAddress extracts the bare address from a From header value.
func senderAddress(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			return strings.ToLower(from[i+1 : i+j])
		}
	}
	return strings.ToLower(from)
}
