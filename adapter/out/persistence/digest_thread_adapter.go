package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"digest_server/core/domain"
	"digest_server/infra/database"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Thread Adapter
// =============================================================================

// ThreadAdapter implements out.ThreadRepository on SQLite.
type ThreadAdapter struct {
	db  *database.DB
	now func() time.Time
}

// NewThreadAdapter creates a new ThreadAdapter.
func NewThreadAdapter(db *database.DB) *ThreadAdapter {
	return &ThreadAdapter{db: db, now: time.Now}
}

// threadRow represents the email_threads table row.
type threadRow struct {
	ThreadID    string         `db:"thread_id"`
	UserID      string         `db:"user_id"`
	LastSubject sql.NullString `db:"last_subject"`
	LastSender  sql.NullString `db:"last_sender"`
	Type        sql.NullString `db:"type"`
	ClientLabel sql.NullString `db:"client_label"`
	LastSeenAt  sql.NullTime   `db:"last_seen_at"`
	UpdatedAt   sql.NullTime   `db:"updated_at"`
}

func (r *threadRow) toEntity() *domain.EmailThread {
	return &domain.EmailThread{
		ThreadID:    r.ThreadID,
		UserID:      r.UserID,
		LastSubject: r.LastSubject.String,
		LastSender:  r.LastSender.String,
		Type:        domain.EmailType(r.Type.String),
		ClientLabel: domain.ClientLabel(r.ClientLabel.String),
		LastSeenAt:  r.LastSeenAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
}

// UpsertThread inserts or refreshes the per-thread row.
func (a *ThreadAdapter) UpsertThread(ctx context.Context, t *domain.EmailThread) error {
	query := `
		INSERT INTO email_threads (thread_id, user_id, last_subject, last_sender, type, client_label, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, user_id)
		DO UPDATE SET
			last_subject = excluded.last_subject,
			last_sender = excluded.last_sender,
			type = excluded.type,
			client_label = excluded.client_label,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`

	updatedAt := t.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = a.now().UTC()
	}

	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			t.ThreadID, t.UserID, t.LastSubject, t.LastSender,
			string(t.Type), string(t.ClientLabel), t.LastSeenAt, updatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}

	return nil
}

// GetThread retrieves one thread row.
func (a *ThreadAdapter) GetThread(ctx context.Context, threadID, userID string) (*domain.EmailThread, error) {
	var row threadRow
	query := `SELECT * FROM email_threads WHERE thread_id = ? AND user_id = ?`

	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &row, query, threadID, userID)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return row.toEntity(), nil
}

// CountThreadsByType counts distinct threads per email type among the
// given thread IDs.
func (a *ThreadAdapter) CountThreadsByType(ctx context.Context, userID string, threadIDs []string) (map[domain.EmailType]int, error) {
	if len(threadIDs) == 0 {
		return map[domain.EmailType]int{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(threadIDs)), ",")
	query := fmt.Sprintf(
		`SELECT type, COUNT(*) AS n FROM email_threads WHERE user_id = ? AND thread_id IN (%s) GROUP BY type`,
		placeholders,
	)

	args := make([]interface{}, 0, len(threadIDs)+1)
	args = append(args, userID)
	for _, id := range threadIDs {
		args = append(args, id)
	}

	var rows []struct {
		Type  sql.NullString `db:"type"`
		Count int            `db:"n"`
	}
	err := a.db.Read(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count threads by type: %w", err)
	}

	counts := make(map[domain.EmailType]int, len(rows))
	for _, row := range rows {
		counts[domain.EmailType(row.Type.String)] = row.Count
	}

	return counts, nil
}
