package classification

import (
	"context"
	"fmt"
	"strings"

	"digest_server/core/domain"
	"digest_server/core/port/out"
	"digest_server/pkg/telemetry"

	"github.com/rs/zerolog"
)

// RulesEngine applies and learns user-specific classification rules.
type RulesEngine struct {
	repo out.RuleRepository
	log  zerolog.Logger
}

// NewRulesEngine creates a new RulesEngine.
func NewRulesEngine(repo out.RuleRepository, log zerolog.Logger) *RulesEngine {
	return &RulesEngine{repo: repo, log: log}
}

// Classify returns the highest-confidence rule matching the email, or nil.
// Pattern types are tried in tiers: sender exact, then subject-contains,
// then keyword. The first tier with any match decides.
func (e *RulesEngine) Classify(ctx context.Context, userID, subject, snippet, from string) (*domain.Rule, error) {
	rules, err := e.repo.GetRulesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	sender := strings.ToLower(senderAddressOf(from))
	subjectLower := strings.ToLower(subject)
	snippetLower := strings.ToLower(snippet)

	for _, tier := range []domain.PatternType{
		domain.PatternSenderExact,
		domain.PatternSubjectContains,
		domain.PatternKeyword,
	} {
		// Rules arrive sorted by confidence descending, so the first
		// match in a tier is the strongest one.
		for _, rule := range rules {
			if rule.PatternType != tier {
				continue
			}
			if !ruleMatches(rule, sender, subjectLower, snippetLower) {
				continue
			}

			if err := e.repo.IncrementUseCount(ctx, rule.ID); err != nil {
				e.log.Warn().Err(err).Int64("rule_id", rule.ID).Msg("failed to bump rule use count")
			}
			telemetry.Emit(e.log, telemetry.EventRuleHit).
				Str("user_id", userID).
				Str("pattern_type", string(rule.PatternType)).
				Str("pattern", rule.Pattern).
				Str("category", rule.Category).
				Msg("rule match")
			return rule, nil
		}
	}

	return nil, nil
}

func ruleMatches(rule *domain.Rule, sender, subjectLower, snippetLower string) bool {
	pattern := strings.ToLower(rule.Pattern)
	switch rule.PatternType {
	case domain.PatternSenderExact:
		return sender == pattern
	case domain.PatternSubjectContains:
		return strings.Contains(subjectLower, pattern)
	case domain.PatternKeyword:
		return strings.Contains(subjectLower, pattern) || strings.Contains(snippetLower, pattern)
	}
	return false
}

// Observe ingests one learning event: bump (or create) the pending rule,
// and promote it once it has been seen PromotionThreshold times. Events
// with category "uncategorized" are never learned.
func (e *RulesEngine) Observe(ctx context.Context, event *domain.LearningEvent) error {
	patternType, pattern, category := patternForEvent(event)
	if category == "" || category == string(domain.TypeUncategorized) {
		return nil
	}

	pending, err := e.repo.RecordObservation(ctx, event.UserID, patternType, pattern, category)
	if err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}

	if pending.SeenCount < domain.PromotionThreshold {
		return nil
	}

	rule, err := e.repo.Promote(ctx, pending, domain.RuleConfidenceLearned)
	if err != nil {
		return fmt.Errorf("failed to promote pending rule: %w", err)
	}

	telemetry.Emit(e.log, telemetry.EventRulePromoted).
		Str("user_id", rule.UserID).
		Str("pattern_type", string(rule.PatternType)).
		Str("pattern", rule.Pattern).
		Str("category", rule.Category).
		Int("confidence", rule.Confidence).
		Msg("pending rule promoted")
	return nil
}

// LearnCorrection inserts a user rule directly at correction confidence,
// bypassing the pending table. Never called for uncategorized.
func (e *RulesEngine) LearnCorrection(ctx context.Context, userID, sender, category string) error {
	if category == "" || category == string(domain.TypeUncategorized) {
		return nil
	}

	rule := &domain.Rule{
		UserID:      userID,
		PatternType: domain.PatternSenderExact,
		Pattern:     strings.ToLower(senderAddressOf(sender)),
		Category:    category,
		Confidence:  domain.RuleConfidenceCorrection,
	}
	if err := e.repo.UpsertRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to learn correction rule: %w", err)
	}
	return nil
}

// patternForEvent picks the pattern the event should learn. The model's
// own proposal wins when complete and valid; otherwise fall back to the
// sender address.
func patternForEvent(event *domain.LearningEvent) (domain.PatternType, string, string) {
	category := event.Category

	if p := event.Classification.Propose; p != nil && p.ShouldPropose == "true" {
		patternType := domain.PatternType(p.PatternType)
		if patternType.Valid() && p.Pattern != "" {
			if p.Category != "" {
				category = p.Category
			}
			return patternType, strings.ToLower(p.Pattern), category
		}
	}

	// Sender may be a full From header; match on the bare address like
	// Classify does.
	return domain.PatternSenderExact, strings.ToLower(senderAddressOf(event.Sender)), category
}

// senderAddressOf extracts the bare address from a From header value.
func senderAddressOf(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			return from[i+1 : i+j]
		}
	}
	return from
}
