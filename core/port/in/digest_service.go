package in

import (
	"context"

	"digest_server/core/domain"
)

// DigestService is the inbound port for running the digest pipeline.
type DigestService interface {
	// GenerateDigest runs one batch end to end: fetch, parse, classify,
	// extract, decay, synthesize, render, checkpoint. Returns an
	// EMPTY_BATCH application error when nothing survives dedup; in that
	// case no digest is produced and nothing is written.
	GenerateDigest(ctx context.Context) (*DigestResult, error)
}

// DigestResult carries one finished run.
type DigestResult struct {
	Digest  *domain.Digest        `json:"digest"`
	Text    string                `json:"text"`
	HTML    string                `json:"html"`
	Session *domain.DigestSession `json:"session"`
}

// FeedbackService is the inbound port for user corrections and their
// reporting views.
type FeedbackService interface {
	// RecordCorrection stores a correction and feeds the learning loop.
	// Safe to retry: a correction is applied exactly once per id.
	RecordCorrection(ctx context.Context, correction *domain.Correction) error

	// Reporting
	CorrectionStats(ctx context.Context, userID string) (*domain.CorrectionStats, error)
	RecentCorrections(ctx context.Context, userID string, limit int) ([]*domain.Correction, error)
	TopCorrectedSenders(ctx context.Context, userID string, limit int) ([]*domain.SenderCorrectionCount, error)
}
