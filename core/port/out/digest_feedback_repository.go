package out

import (
	"context"

	"digest_server/core/domain"
)

// FeedbackRepository defines the interface for correction and learned
// pattern persistence
type FeedbackRepository interface {
	// Corrections (append-only)
	InsertCorrection(ctx context.Context, c *domain.Correction) error
	GetRecentCorrections(ctx context.Context, userID string, limit int) ([]*domain.Correction, error)
	GetTopCorrectedSenders(ctx context.Context, userID string, limit int) ([]*domain.SenderCorrectionCount, error)
	GetCorrectionStats(ctx context.Context, userID string) (*domain.CorrectionStats, error)

	// Learned patterns
	UpsertLearnedPattern(ctx context.Context, p *domain.LearnedPattern) error
	GetHighConfidencePatterns(ctx context.Context, minSupport int, minConfidence float64, limit int) ([]*domain.LearnedPattern, error)
}
