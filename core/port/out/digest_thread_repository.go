package out

import (
	"context"

	"digest_server/core/domain"
)

// ThreadRepository defines the interface for per-thread state persistence
type ThreadRepository interface {
	// UpsertThread inserts or refreshes the thread row keyed by
	// (thread_id, user_id).
	UpsertThread(ctx context.Context, t *domain.EmailThread) error
	GetThread(ctx context.Context, threadID, userID string) (*domain.EmailThread, error)

	// CountThreadsByType counts distinct threads per email type for the
	// noise summary.
	CountThreadsByType(ctx context.Context, userID string, threadIDs []string) (map[domain.EmailType]int, error)
}
