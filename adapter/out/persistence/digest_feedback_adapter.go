package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"digest_server/core/domain"
	"digest_server/infra/database"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Feedback Adapter (corrections + learned patterns)
// =============================================================================

// FeedbackAdapter implements out.FeedbackRepository on SQLite.
type FeedbackAdapter struct {
	db  *database.DB
	now func() time.Time
}

// NewFeedbackAdapter creates a new FeedbackAdapter.
func NewFeedbackAdapter(db *database.DB) *FeedbackAdapter {
	return &FeedbackAdapter{db: db, now: time.Now}
}

// correctionRow represents the corrections table row.
type correctionRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	MessageID      string         `db:"message_id"`
	Sender         string         `db:"sender"`
	Subject        string         `db:"subject"`
	Snippet        sql.NullString `db:"snippet"`
	PredictedType  string         `db:"predicted_type"`
	ActualType     string         `db:"actual_type"`
	PredictedLabel sql.NullString `db:"predicted_label"`
	ActualLabel    sql.NullString `db:"actual_label"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r *correctionRow) toEntity() *domain.Correction {
	return &domain.Correction{
		ID:             r.ID,
		UserID:         r.UserID,
		MessageID:      r.MessageID,
		Sender:         r.Sender,
		Subject:        r.Subject,
		Snippet:        r.Snippet.String,
		PredictedType:  domain.EmailType(r.PredictedType),
		ActualType:     domain.EmailType(r.ActualType),
		PredictedLabel: r.PredictedLabel.String,
		ActualLabel:    r.ActualLabel.String,
		CreatedAt:      r.CreatedAt,
	}
}

// learnedPatternRow represents the learned_patterns table row.
type learnedPatternRow struct {
	ID                 int64     `db:"id"`
	PatternType        string    `db:"pattern_type"`
	PatternValue       string    `db:"pattern_value"`
	ClassificationJSON string    `db:"classification_json"`
	SupportCount       int       `db:"support_count"`
	Confidence         float64   `db:"confidence"`
	FirstSeen          time.Time `db:"first_seen"`
	LastSeen           time.Time `db:"last_seen"`
}

func (r *learnedPatternRow) toEntity() *domain.LearnedPattern {
	return &domain.LearnedPattern{
		ID:                 r.ID,
		PatternType:        domain.PatternType(r.PatternType),
		PatternValue:       r.PatternValue,
		ClassificationJSON: r.ClassificationJSON,
		SupportCount:       r.SupportCount,
		Confidence:         r.Confidence,
		FirstSeen:          r.FirstSeen,
		LastSeen:           r.LastSeen,
	}
}

// InsertCorrection appends an immutable correction record. Assigns the
// UUID and timestamp when the caller left them empty.
func (a *FeedbackAdapter) InsertCorrection(ctx context.Context, c *domain.Correction) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = a.now().UTC()
	}

	// OR IGNORE keeps retried inserts idempotent on the correction id.
	query := `
		INSERT OR IGNORE INTO corrections (id, user_id, message_id, sender, subject, snippet, predicted_type, actual_type, predicted_label, actual_label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			c.ID, c.UserID, c.MessageID, c.Sender, c.Subject, c.Snippet,
			string(c.PredictedType), string(c.ActualType),
			c.PredictedLabel, c.ActualLabel, c.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert correction: %w", err)
	}

	return nil
}

// GetRecentCorrections retrieves the most recent corrections for a user.
func (a *FeedbackAdapter) GetRecentCorrections(ctx context.Context, userID string, limit int) ([]*domain.Correction, error) {
	var rows []correctionRow
	query := `SELECT * FROM corrections WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, userID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list corrections: %w", err)
	}

	corrections := make([]*domain.Correction, len(rows))
	for i, row := range rows {
		corrections[i] = row.toEntity()
	}

	return corrections, nil
}

// GetTopCorrectedSenders returns senders ranked by correction count.
func (a *FeedbackAdapter) GetTopCorrectedSenders(ctx context.Context, userID string, limit int) ([]*domain.SenderCorrectionCount, error) {
	var rows []struct {
		Sender string `db:"sender"`
		Count  int    `db:"n"`
	}
	query := `
		SELECT sender, COUNT(*) AS n
		FROM corrections
		WHERE user_id = ?
		GROUP BY sender
		ORDER BY n DESC, sender
		LIMIT ?`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, userID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank corrected senders: %w", err)
	}

	out := make([]*domain.SenderCorrectionCount, len(rows))
	for i, row := range rows {
		out[i] = &domain.SenderCorrectionCount{Sender: row.Sender, Count: row.Count}
	}

	return out, nil
}

// GetCorrectionStats summarizes the corrections table for a user.
func (a *FeedbackAdapter) GetCorrectionStats(ctx context.Context, userID string) (*domain.CorrectionStats, error) {
	stats := &domain.CorrectionStats{ByActualType: make(map[domain.EmailType]int)}

	var typeRows []struct {
		ActualType string `db:"actual_type"`
		Count      int    `db:"n"`
	}
	byType := `SELECT actual_type, COUNT(*) AS n FROM corrections WHERE user_id = ? GROUP BY actual_type`
	lastAt := `SELECT created_at FROM corrections WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		if err := db.SelectContext(ctx, &typeRows, byType, userID); err != nil {
			return err
		}
		var last time.Time
		if err := db.GetContext(ctx, &last, lastAt, userID); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		stats.LastAt = &last
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get correction stats: %w", err)
	}

	for _, row := range typeRows {
		stats.ByActualType[domain.EmailType(row.ActualType)] = row.Count
		stats.Total += row.Count
	}

	return stats, nil
}

// UpsertLearnedPattern inserts a learned pattern or bumps its support
// count and refreshes classification_json and confidence.
func (a *FeedbackAdapter) UpsertLearnedPattern(ctx context.Context, p *domain.LearnedPattern) error {
	now := a.now().UTC()
	if p.FirstSeen.IsZero() {
		p.FirstSeen = now
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = now
	}

	query := `
		INSERT INTO learned_patterns (pattern_type, pattern_value, classification_json, support_count, confidence, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_type, pattern_value)
		DO UPDATE SET
			classification_json = excluded.classification_json,
			support_count = support_count + 1,
			confidence = excluded.confidence,
			last_seen = excluded.last_seen`

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			string(p.PatternType), p.PatternValue, p.ClassificationJSON,
			p.SupportCount, p.Confidence, p.FirstSeen, p.LastSeen,
		)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			p.ID = id
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert learned pattern: %w", err)
	}

	return nil
}

// GetHighConfidencePatterns retrieves patterns with enough support to be
// used as few-shot examples, strongest first.
func (a *FeedbackAdapter) GetHighConfidencePatterns(ctx context.Context, minSupport int, minConfidence float64, limit int) ([]*domain.LearnedPattern, error) {
	var rows []learnedPatternRow
	query := `
		SELECT * FROM learned_patterns
		WHERE support_count >= ? AND confidence >= ?
		ORDER BY support_count DESC, confidence DESC, last_seen DESC
		LIMIT ?`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, minSupport, minConfidence, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list learned patterns: %w", err)
	}

	patterns := make([]*domain.LearnedPattern, len(rows))
	for i, row := range rows {
		patterns[i] = row.toEntity()
	}

	return patterns, nil
}
