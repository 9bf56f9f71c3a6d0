package feedback

import (
	"context"
	"sync/atomic"

	"digest_server/core/domain"
	"digest_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// FewshotCache serves the learned few-shot block to the classifier.
// Refresh swaps a complete immutable snapshot, so readers on the hot
// classification path never lock and never see a partial update.
type FewshotCache struct {
	repo          out.FeedbackRepository
	minSupport    int
	minConfidence float64
	fetchLimit    int
	log           zerolog.Logger

	snapshot atomic.Pointer[[]domain.FewshotExample]
}

// NewFewshotCache builds an empty cache; call Refresh to populate it.
func NewFewshotCache(repo out.FeedbackRepository, minSupport int, minConfidence float64, fetchLimit int, log zerolog.Logger) *FewshotCache {
	c := &FewshotCache{
		repo:          repo,
		minSupport:    minSupport,
		minConfidence: minConfidence,
		fetchLimit:    fetchLimit,
		log:           log.With().Str("component", "fewshot_cache").Logger(),
	}
	empty := make([]domain.FewshotExample, 0)
	c.snapshot.Store(&empty)
	return c
}

// Refresh rebuilds the snapshot from high-confidence learned patterns.
// On error the previous snapshot stays in place.
func (c *FewshotCache) Refresh(ctx context.Context) error {
	patterns, err := c.repo.GetHighConfidencePatterns(ctx, c.minSupport, c.minConfidence, c.fetchLimit)
	if err != nil {
		return err
	}
	examples := diversify(patterns)
	c.snapshot.Store(&examples)
	c.log.Debug().Int("patterns", len(patterns)).Int("examples", len(examples)).Msg("fewshot snapshot refreshed")
	return nil
}

// FewshotExamples returns up to limit examples from the current
// snapshot. The returned slice is shared and must not be mutated.
func (c *FewshotCache) FewshotExamples(limit int) []domain.FewshotExample {
	examples := *c.snapshot.Load()
	if limit <= 0 || limit >= len(examples) {
		return examples
	}
	return examples[:limit]
}

// diversify orders patterns round-robin across their classified types,
// keeping the repository's strongest-first order within each type. A
// prompt block dominated by one sender teaches the model less than a
// spread across types.
func diversify(patterns []*domain.LearnedPattern) []domain.FewshotExample {
	groups := make(map[string][]domain.FewshotExample)
	var order []string

	for _, p := range patterns {
		var cls exampleClassification
		if err := json.Unmarshal([]byte(p.ClassificationJSON), &cls); err != nil || cls.Type == "" {
			continue
		}
		example := domain.FewshotExample{
			Classification: p.ClassificationJSON,
			SupportCount:   p.SupportCount,
		}
		switch p.PatternType {
		case domain.PatternSenderExact:
			example.Sender = p.PatternValue
		case domain.PatternSubjectContains, domain.PatternKeyword:
			example.Subject = p.PatternValue
		}

		key := string(cls.Type)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], example)
	}

	examples := make([]domain.FewshotExample, 0, len(patterns))
	for {
		progressed := false
		for _, key := range order {
			if len(groups[key]) == 0 {
				continue
			}
			examples = append(examples, groups[key][0])
			groups[key] = groups[key][1:]
			progressed = true
		}
		if !progressed {
			return examples
		}
	}
}
