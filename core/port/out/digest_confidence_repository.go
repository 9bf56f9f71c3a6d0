package out

import (
	"context"

	"digest_server/core/domain"
)

// ConfidenceRepository defines the interface for classification audit rows.
// Writes are once-only per (message_id, model_version, prompt_version); a
// duplicate insert is a silent no-op so batch re-runs stay idempotent.
type ConfidenceRepository interface {
	InsertLog(ctx context.Context, log *domain.ConfidenceLog) error
	GetLogsForMessage(ctx context.Context, messageID string) ([]*domain.ConfidenceLog, error)
	GetRecentLogs(ctx context.Context, userID string, limit int) ([]*domain.ConfidenceLog, error)
	CountByDecider(ctx context.Context, userID string) (map[domain.Decider]int, error)
}
