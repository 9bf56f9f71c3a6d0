// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"digest_server/core/domain"
	"digest_server/infra/database"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Rule Adapter (active + pending rules)
// =============================================================================

// RuleAdapter implements out.RuleRepository on SQLite.
type RuleAdapter struct {
	db  *database.DB
	now func() time.Time
}

// NewRuleAdapter creates a new RuleAdapter.
func NewRuleAdapter(db *database.DB) *RuleAdapter {
	return &RuleAdapter{db: db, now: time.Now}
}

// ruleRow represents the rules table row.
type ruleRow struct {
	ID          int64        `db:"id"`
	UserID      string       `db:"user_id"`
	PatternType string       `db:"pattern_type"`
	Pattern     string       `db:"pattern"`
	Category    string       `db:"category"`
	Confidence  int          `db:"confidence"`
	UseCount    int          `db:"use_count"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   sql.NullTime `db:"updated_at"`
}

func (r *ruleRow) toEntity() *domain.Rule {
	return &domain.Rule{
		ID:          r.ID,
		UserID:      r.UserID,
		PatternType: domain.PatternType(r.PatternType),
		Pattern:     r.Pattern,
		Category:    r.Category,
		Confidence:  r.Confidence,
		UseCount:    r.UseCount,
		CreatedAt:   r.CreatedAt,
	}
}

// pendingRuleRow represents the pending_rules table row.
type pendingRuleRow struct {
	ID          int64     `db:"id"`
	UserID      string    `db:"user_id"`
	PatternType string    `db:"pattern_type"`
	Pattern     string    `db:"pattern"`
	Category    string    `db:"category"`
	SeenCount   int       `db:"seen_count"`
	LastSeen    time.Time `db:"last_seen"`
}

func (r *pendingRuleRow) toEntity() *domain.PendingRule {
	return &domain.PendingRule{
		ID:          r.ID,
		UserID:      r.UserID,
		PatternType: domain.PatternType(r.PatternType),
		Pattern:     r.Pattern,
		Category:    r.Category,
		SeenCount:   r.SeenCount,
		LastSeen:    r.LastSeen,
	}
}

// GetRulesForUser retrieves all active rules for a user, highest
// confidence first.
func (a *RuleAdapter) GetRulesForUser(ctx context.Context, userID string) ([]*domain.Rule, error) {
	var rows []ruleRow
	query := `SELECT * FROM rules WHERE user_id = ? ORDER BY confidence DESC, use_count DESC, id`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	rules := make([]*domain.Rule, len(rows))
	for i, row := range rows {
		rules[i] = row.toEntity()
	}

	return rules, nil
}

// UpsertRule inserts a rule or refreshes the confidence of the existing
// one. Corrections may overwrite a learned rule's confidence upward.
func (a *RuleAdapter) UpsertRule(ctx context.Context, rule *domain.Rule) error {
	query := `
		INSERT INTO rules (user_id, pattern_type, pattern, category, confidence, use_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(user_id, pattern_type, pattern, category)
		DO UPDATE SET confidence = MAX(confidence, excluded.confidence), updated_at = excluded.created_at`

	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = a.now().UTC()
	}

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			rule.UserID, string(rule.PatternType), rule.Pattern, rule.Category,
			rule.Confidence, createdAt,
		)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			rule.ID = id
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}

	rule.CreatedAt = createdAt
	return nil
}

// IncrementUseCount increments the use count for a rule.
func (a *RuleAdapter) IncrementUseCount(ctx context.Context, ruleID int64) error {
	query := `UPDATE rules SET use_count = use_count + 1, updated_at = ? WHERE id = ?`

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query, a.now().UTC(), ruleID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to increment use count: %w", err)
	}

	return nil
}

// DeleteRule deletes a rule.
func (a *RuleAdapter) DeleteRule(ctx context.Context, ruleID int64) error {
	query := `DELETE FROM rules WHERE id = ?`

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, ruleID)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("rule not found: %d", ruleID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	return nil
}

// RecordObservation bumps seen_count for the pending rule, inserting it at
// seen_count 1 on first sight, and returns the row after the bump.
func (a *RuleAdapter) RecordObservation(ctx context.Context, userID string, patternType domain.PatternType, pattern, category string) (*domain.PendingRule, error) {
	upsert := `
		INSERT INTO pending_rules (user_id, pattern_type, pattern, category, seen_count, last_seen)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(user_id, pattern_type, pattern, category)
		DO UPDATE SET seen_count = seen_count + 1, last_seen = excluded.last_seen`
	fetch := `SELECT * FROM pending_rules WHERE user_id = ? AND pattern_type = ? AND pattern = ? AND category = ?`

	var row pendingRuleRow
	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, upsert,
			userID, string(patternType), pattern, category, a.now().UTC(),
		); err != nil {
			return err
		}
		return tx.GetContext(ctx, &row, fetch, userID, string(patternType), pattern, category)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record observation: %w", err)
	}

	return row.toEntity(), nil
}

// GetPendingRules retrieves all pending rules for a user.
func (a *RuleAdapter) GetPendingRules(ctx context.Context, userID string) ([]*domain.PendingRule, error) {
	var rows []pendingRuleRow
	query := `SELECT * FROM pending_rules WHERE user_id = ? ORDER BY seen_count DESC, last_seen DESC`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending rules: %w", err)
	}

	pending := make([]*domain.PendingRule, len(rows))
	for i, row := range rows {
		pending[i] = row.toEntity()
	}

	return pending, nil
}

// Promote moves a pending rule into the active table and removes the
// pending row in one transaction.
func (a *RuleAdapter) Promote(ctx context.Context, pending *domain.PendingRule, confidence int) (*domain.Rule, error) {
	insert := `
		INSERT INTO rules (user_id, pattern_type, pattern, category, confidence, use_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(user_id, pattern_type, pattern, category)
		DO UPDATE SET confidence = MAX(confidence, excluded.confidence), updated_at = excluded.created_at`
	remove := `DELETE FROM pending_rules WHERE id = ?`
	fetch := `SELECT * FROM rules WHERE user_id = ? AND pattern_type = ? AND pattern = ? AND category = ?`

	createdAt := a.now().UTC()

	var row ruleRow
	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, insert,
			pending.UserID, string(pending.PatternType), pending.Pattern, pending.Category,
			confidence, createdAt,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, remove, pending.ID); err != nil {
			return err
		}
		return tx.GetContext(ctx, &row, fetch,
			pending.UserID, string(pending.PatternType), pending.Pattern, pending.Category)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to promote pending rule: %w", err)
	}

	return row.toEntity(), nil
}
