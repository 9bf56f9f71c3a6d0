package out

import (
	"context"

	"digest_server/core/domain"
)

// SessionRepository defines the interface for digest run persistence
type SessionRepository interface {
	// Sessions
	InsertSession(ctx context.Context, s *domain.DigestSession) error
	GetSession(ctx context.Context, id string) (*domain.DigestSession, error)
	GetRecentSessions(ctx context.Context, userID string, limit int) ([]*domain.DigestSession, error)

	// A/B test runs
	InsertRun(ctx context.Context, run *domain.ABTestRun) error
	InsertMetrics(ctx context.Context, runID string, metrics []domain.ABTestMetric) error
	GetMetricsForRun(ctx context.Context, runID string) ([]*domain.ABTestMetric, error)

	// Category catalog
	ListCategories(ctx context.Context) ([]*domain.Category, error)
}
