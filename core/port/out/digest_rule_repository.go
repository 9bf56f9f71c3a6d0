package out

import (
	"context"

	"digest_server/core/domain"
)

// RuleRepository defines the interface for rule persistence
type RuleRepository interface {
	// Active rules
	GetRulesForUser(ctx context.Context, userID string) ([]*domain.Rule, error)
	UpsertRule(ctx context.Context, rule *domain.Rule) error
	IncrementUseCount(ctx context.Context, ruleID int64) error
	DeleteRule(ctx context.Context, ruleID int64) error

	// Pending rules. RecordObservation bumps seen_count (inserting on first
	// sight) and returns the resulting pending rule.
	RecordObservation(ctx context.Context, userID string, patternType domain.PatternType, pattern, category string) (*domain.PendingRule, error)
	GetPendingRules(ctx context.Context, userID string) ([]*domain.PendingRule, error)

	// Promote moves a pending rule into the active table at the given
	// confidence and deletes the pending row, atomically.
	Promote(ctx context.Context, pending *domain.PendingRule, confidence int) (*domain.Rule, error)
}
