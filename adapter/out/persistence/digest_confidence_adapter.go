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
// Confidence Log Adapter
// =============================================================================

// ConfidenceAdapter implements out.ConfidenceRepository on SQLite.
type ConfidenceAdapter struct {
	db  *database.DB
	now func() time.Time
}

// NewConfidenceAdapter creates a new ConfidenceAdapter.
func NewConfidenceAdapter(db *database.DB) *ConfidenceAdapter {
	return &ConfidenceAdapter{db: db, now: time.Now}
}

// confidenceLogRow represents the confidence_logs table row.
type confidenceLogRow struct {
	ID                    int64          `db:"id"`
	UserID                string         `db:"user_id"`
	MessageID             string         `db:"message_id"`
	Type                  string         `db:"type"`
	TypeConf              float64        `db:"type_conf"`
	Importance            string         `db:"importance"`
	ImportanceConf        float64        `db:"importance_conf"`
	Attention             string         `db:"attention"`
	AttentionConf         float64        `db:"attention_conf"`
	Relationship          string         `db:"relationship"`
	RelationshipConf      float64        `db:"relationship_conf"`
	Decider               string         `db:"decider"`
	ClientLabel           string         `db:"client_label"`
	ModelName             string         `db:"model_name"`
	ModelVersion          string         `db:"model_version"`
	PromptVersion         string         `db:"prompt_version"`
	CreatedAt             time.Time      `db:"created_at"`
	NormalizedInputDigest sql.NullString `db:"normalized_input_digest"`
}

func (r *confidenceLogRow) toEntity() *domain.ConfidenceLog {
	return &domain.ConfidenceLog{
		ID:                    r.ID,
		UserID:                r.UserID,
		MessageID:             r.MessageID,
		Type:                  domain.EmailType(r.Type),
		TypeConf:              r.TypeConf,
		Importance:            domain.Importance(r.Importance),
		ImportanceConf:        r.ImportanceConf,
		Attention:             domain.Attention(r.Attention),
		AttentionConf:         r.AttentionConf,
		Relationship:          domain.Relationship(r.Relationship),
		RelationshipConf:      r.RelationshipConf,
		Decider:               domain.Decider(r.Decider),
		ClientLabel:           domain.ClientLabel(r.ClientLabel),
		ModelName:             r.ModelName,
		ModelVersion:          r.ModelVersion,
		PromptVersion:         r.PromptVersion,
		NormalizedInputDigest: r.NormalizedInputDigest.String,
		CreatedAt:             r.CreatedAt,
	}
}

// InsertLog appends one audit row. A second insert for the same
// (message_id, model_version, prompt_version) is ignored, which keeps
// batch re-runs idempotent.
func (a *ConfidenceAdapter) InsertLog(ctx context.Context, log *domain.ConfidenceLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = a.now().UTC()
	}

	query := `
		INSERT INTO confidence_logs
			(user_id, message_id, type, type_conf, importance, importance_conf,
			 attention, attention_conf, relationship, relationship_conf,
			 decider, client_label, model_name, model_version, prompt_version,
			 normalized_input_digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, model_version, prompt_version) DO NOTHING`

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			log.UserID, log.MessageID,
			string(log.Type), log.TypeConf,
			string(log.Importance), log.ImportanceConf,
			string(log.Attention), log.AttentionConf,
			string(log.Relationship), log.RelationshipConf,
			string(log.Decider), string(log.ClientLabel),
			log.ModelName, log.ModelVersion, log.PromptVersion,
			sql.NullString{String: log.NormalizedInputDigest, Valid: log.NormalizedInputDigest != ""},
			log.CreatedAt,
		)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil && id > 0 {
			log.ID = id
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert confidence log: %w", err)
	}

	return nil
}

// GetLogsForMessage retrieves every logged decision for a message across
// model and prompt versions.
func (a *ConfidenceAdapter) GetLogsForMessage(ctx context.Context, messageID string) ([]*domain.ConfidenceLog, error) {
	var rows []confidenceLogRow
	query := `SELECT * FROM confidence_logs WHERE message_id = ? ORDER BY created_at, id`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, messageID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list confidence logs: %w", err)
	}

	logs := make([]*domain.ConfidenceLog, len(rows))
	for i, row := range rows {
		logs[i] = row.toEntity()
	}

	return logs, nil
}

// GetRecentLogs retrieves the most recent decisions for a user.
func (a *ConfidenceAdapter) GetRecentLogs(ctx context.Context, userID string, limit int) ([]*domain.ConfidenceLog, error) {
	var rows []confidenceLogRow
	query := `SELECT * FROM confidence_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, userID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent confidence logs: %w", err)
	}

	logs := make([]*domain.ConfidenceLog, len(rows))
	for i, row := range rows {
		logs[i] = row.toEntity()
	}

	return logs, nil
}

// CountByDecider counts logged decisions per decider stage.
func (a *ConfidenceAdapter) CountByDecider(ctx context.Context, userID string) (map[domain.Decider]int, error) {
	var rows []struct {
		Decider string `db:"decider"`
		Count   int    `db:"n"`
	}
	query := `SELECT decider, COUNT(*) AS n FROM confidence_logs WHERE user_id = ? GROUP BY decider`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count by decider: %w", err)
	}

	counts := make(map[domain.Decider]int, len(rows))
	for _, row := range rows {
		counts[domain.Decider(row.Decider)] = row.Count
	}

	return counts, nil
}
