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
// Session Adapter (digest sessions + A/B runs + category catalog)
// =============================================================================

// SessionAdapter implements out.SessionRepository on SQLite.
type SessionAdapter struct {
	db *database.DB
}

// NewSessionAdapter creates a new SessionAdapter.
func NewSessionAdapter(db *database.DB) *SessionAdapter {
	return &SessionAdapter{db: db}
}

// sessionRow represents the digest_sessions table row.
type sessionRow struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	TotalFetched int       `db:"total_fetched"`
	TotalParsed  int       `db:"total_parsed"`
	TotalDeduped int       `db:"total_deduped"`
	FeaturedN    int       `db:"featured_n"`
	DurationMS   int64     `db:"duration_ms"`
	GeneratedAt  time.Time `db:"generated_at"`
	Variant      string    `db:"variant"`
}

func (r *sessionRow) toEntity() *domain.DigestSession {
	return &domain.DigestSession{
		ID:           r.ID,
		UserID:       r.UserID,
		Variant:      r.Variant,
		TotalFetched: r.TotalFetched,
		TotalParsed:  r.TotalParsed,
		TotalDeduped: r.TotalDeduped,
		FeaturedN:    r.FeaturedN,
		Duration:     time.Duration(r.DurationMS) * time.Millisecond,
		GeneratedAt:  r.GeneratedAt,
	}
}

// InsertSession persists one digest run record.
func (a *SessionAdapter) InsertSession(ctx context.Context, s *domain.DigestSession) error {
	query := `
		INSERT INTO digest_sessions (id, user_id, total_fetched, total_parsed, total_deduped, featured_n, duration_ms, generated_at, variant)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	variant := s.Variant
	if variant == "" {
		variant = "baseline"
	}

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			s.ID, s.UserID, s.TotalFetched, s.TotalParsed, s.TotalDeduped,
			s.FeaturedN, s.Duration.Milliseconds(), s.GeneratedAt, variant,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID.
func (a *SessionAdapter) GetSession(ctx context.Context, id string) (*domain.DigestSession, error) {
	var row sessionRow
	query := `SELECT * FROM digest_sessions WHERE id = ?`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, query, id)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return row.toEntity(), nil
}

// GetRecentSessions retrieves the most recent sessions for a user.
func (a *SessionAdapter) GetRecentSessions(ctx context.Context, userID string, limit int) ([]*domain.DigestSession, error) {
	var rows []sessionRow
	query := `SELECT * FROM digest_sessions WHERE user_id = ? ORDER BY generated_at DESC LIMIT ?`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, userID, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*domain.DigestSession, len(rows))
	for i, row := range rows {
		sessions[i] = row.toEntity()
	}

	return sessions, nil
}

// InsertRun records one A/B variant run.
func (a *SessionAdapter) InsertRun(ctx context.Context, run *domain.ABTestRun) error {
	query := `INSERT INTO ab_test_runs (id, session_id, variant, started_at) VALUES (?, ?, ?, ?)`

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query, run.ID, run.SessionID, run.Variant, run.StartedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert ab test run: %w", err)
	}

	return nil
}

// InsertMetrics records the named measurements for one run.
func (a *SessionAdapter) InsertMetrics(ctx context.Context, runID string, metrics []domain.ABTestMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	query := `INSERT INTO ab_test_metrics (run_id, name, value) VALUES (?, ?, ?)`

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, m := range metrics {
			if _, err := tx.ExecContext(ctx, query, runID, m.Name, m.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert ab test metrics: %w", err)
	}

	return nil
}

// GetMetricsForRun retrieves the measurements of one run.
func (a *SessionAdapter) GetMetricsForRun(ctx context.Context, runID string) ([]*domain.ABTestMetric, error) {
	var rows []struct {
		ID    int64   `db:"id"`
		RunID string  `db:"run_id"`
		Name  string  `db:"name"`
		Value float64 `db:"value"`
	}
	query := `SELECT * FROM ab_test_metrics WHERE run_id = ? ORDER BY id`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, runID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ab test metrics: %w", err)
	}

	metrics := make([]*domain.ABTestMetric, len(rows))
	for i, row := range rows {
		metrics[i] = &domain.ABTestMetric{ID: row.ID, RunID: row.RunID, Name: row.Name, Value: row.Value}
	}

	return metrics, nil
}

// ListCategories retrieves the seeded type catalog.
func (a *SessionAdapter) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	var rows []struct {
		Type        string         `db:"type"`
		DisplayName string         `db:"display_name"`
		Description sql.NullString `db:"description"`
	}
	query := `SELECT * FROM categories ORDER BY type`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	categories := make([]*domain.Category, len(rows))
	for i, row := range rows {
		categories[i] = &domain.Category{
			Type:        domain.EmailType(row.Type),
			DisplayName: row.DisplayName,
			Description: row.Description.String,
		}
	}

	return categories, nil
}
