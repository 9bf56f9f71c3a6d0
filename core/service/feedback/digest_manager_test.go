package feedback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"digest_server/core/domain"
	"digest_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// fakeFeedbackRepo is an in-memory FeedbackRepository. Guarded by a
// mutex so the consumer tests can hit it from several workers.
type fakeFeedbackRepo struct {
	mu          sync.Mutex
	corrections map[string]*domain.Correction
	patterns    map[string]*domain.LearnedPattern
	stored      []*domain.LearnedPattern // served by GetHighConfidencePatterns
}

func newFakeFeedbackRepo() *fakeFeedbackRepo {
	return &fakeFeedbackRepo{
		corrections: make(map[string]*domain.Correction),
		patterns:    make(map[string]*domain.LearnedPattern),
	}
}

func patternKey(t domain.PatternType, v string) string { return string(t) + "|" + v }

func (f *fakeFeedbackRepo) InsertCorrection(_ context.Context, c *domain.Correction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.corrections[c.ID]; exists {
		return nil // mirrors INSERT OR IGNORE
	}
	cp := *c
	f.corrections[c.ID] = &cp
	return nil
}

func (f *fakeFeedbackRepo) GetRecentCorrections(_ context.Context, userID string, limit int) ([]*domain.Correction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Correction
	for _, c := range f.corrections {
		if c.UserID == userID && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeFeedbackRepo) GetTopCorrectedSenders(_ context.Context, userID string, limit int) ([]*domain.SenderCorrectionCount, error) {
	return nil, nil
}

func (f *fakeFeedbackRepo) GetCorrectionStats(_ context.Context, userID string) (*domain.CorrectionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &domain.CorrectionStats{ByActualType: make(map[domain.EmailType]int)}
	for _, c := range f.corrections {
		if c.UserID != userID {
			continue
		}
		stats.Total++
		stats.ByActualType[c.ActualType]++
	}
	return stats, nil
}

func (f *fakeFeedbackRepo) UpsertLearnedPattern(_ context.Context, p *domain.LearnedPattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := patternKey(p.PatternType, p.PatternValue)
	if existing, ok := f.patterns[key]; ok {
		existing.SupportCount++
		existing.ClassificationJSON = p.ClassificationJSON
		existing.Confidence = p.Confidence
		existing.LastSeen = p.LastSeen
		return nil
	}
	cp := *p
	f.patterns[key] = &cp
	return nil
}

func (f *fakeFeedbackRepo) GetHighConfidencePatterns(_ context.Context, minSupport int, minConfidence float64, limit int) ([]*domain.LearnedPattern, error) {
	var out []*domain.LearnedPattern
	for _, p := range f.stored {
		if p.SupportCount >= minSupport && p.Confidence >= minConfidence && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeFeedbackRepo) pattern(t domain.PatternType, v string) *domain.LearnedPattern {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patterns[patternKey(t, v)]
}

// fakeRuleLearner records learner calls.
type fakeRuleLearner struct {
	mu          sync.Mutex
	corrections []string
	observed    []*domain.LearningEvent
}

func (f *fakeRuleLearner) LearnCorrection(_ context.Context, userID, sender, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrections = append(f.corrections, fmt.Sprintf("%s|%s|%s", userID, sender, category))
	return nil
}

func (f *fakeRuleLearner) Observe(_ context.Context, event *domain.LearningEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, event)
	return nil
}

func (f *fakeRuleLearner) observedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observed)
}

func newTestManager(repo *fakeFeedbackRepo, learner *fakeRuleLearner, disabled bool) *Manager {
	m := NewManager(repo, learner, nil, metrics.NewCounterSet(), disabled, zerolog.Nop())
	m.now = func() time.Time { return time.Date(2025, 11, 13, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestRecordCorrectionLearnsRule(t *testing.T) {
	repo := newFakeFeedbackRepo()
	learner := &fakeRuleLearner{}
	m := newTestManager(repo, learner, false)

	c := &domain.Correction{
		UserID:        "u1",
		MessageID:     "msg-1",
		Sender:        "Shop <promo@shop.com>",
		Subject:       "Your order",
		PredictedType: domain.TypePromotion,
		ActualType:    domain.TypeReceipt,
	}
	if err := m.RecordCorrection(context.Background(), c); err != nil {
		t.Fatalf("RecordCorrection: %v", err)
	}

	if c.ID == "" {
		t.Error("correction id not assigned")
	}
	if len(learner.corrections) != 1 || learner.corrections[0] != "u1|promo@shop.com|receipts" {
		t.Errorf("learner calls = %v, want [u1|promo@shop.com|receipts]", learner.corrections)
	}

	p := repo.pattern(domain.PatternSenderExact, "promo@shop.com")
	if p == nil {
		t.Fatal("learned pattern not upserted")
	}
	if !strings.Contains(p.ClassificationJSON, `"type":"receipt"`) {
		t.Errorf("classification json = %s, want the corrected type", p.ClassificationJSON)
	}
	if p.Confidence != correctionPatternConfidence {
		t.Errorf("confidence = %v, want %v", p.Confidence, correctionPatternConfidence)
	}
}

func TestRecordCorrectionIdempotentRetry(t *testing.T) {
	repo := newFakeFeedbackRepo()
	m := newTestManager(repo, &fakeRuleLearner{}, false)

	c := &domain.Correction{
		UserID:        "u1",
		MessageID:     "msg-1",
		Sender:        "promo@shop.com",
		PredictedType: domain.TypePromotion,
		ActualType:    domain.TypeReceipt,
	}
	if err := m.RecordCorrection(context.Background(), c); err != nil {
		t.Fatalf("first RecordCorrection: %v", err)
	}
	if err := m.RecordCorrection(context.Background(), c); err != nil {
		t.Fatalf("retried RecordCorrection: %v", err)
	}

	stats, err := m.CorrectionStats(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CorrectionStats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1: a retried correction must count once", stats.Total)
	}
}

func TestRecordCorrectionUncategorizedNotLearned(t *testing.T) {
	repo := newFakeFeedbackRepo()
	learner := &fakeRuleLearner{}
	m := newTestManager(repo, learner, false)

	c := &domain.Correction{
		UserID:        "u1",
		MessageID:     "msg-1",
		Sender:        "odd@example.com",
		PredictedType: domain.TypeNewsletter,
		ActualType:    domain.TypeUncategorized,
	}
	if err := m.RecordCorrection(context.Background(), c); err != nil {
		t.Fatalf("RecordCorrection: %v", err)
	}

	if len(repo.corrections) != 1 {
		t.Errorf("corrections stored = %d, want 1 (audit trail kept)", len(repo.corrections))
	}
	if len(learner.corrections) != 0 {
		t.Errorf("learner called for uncategorized: %v", learner.corrections)
	}
	if len(repo.patterns) != 0 {
		t.Errorf("pattern learned for uncategorized: %v", repo.patterns)
	}
}

func TestRecordCorrectionDisabled(t *testing.T) {
	repo := newFakeFeedbackRepo()
	learner := &fakeRuleLearner{}
	m := newTestManager(repo, learner, true)

	err := m.RecordCorrection(context.Background(), &domain.Correction{
		UserID:     "u1",
		Sender:     "promo@shop.com",
		ActualType: domain.TypeReceipt,
	})
	if err != nil {
		t.Fatalf("RecordCorrection: %v", err)
	}
	if len(repo.corrections) != 0 || len(learner.corrections) != 0 {
		t.Error("disabled feedback must not write anywhere")
	}
}

func TestHandleLearningEventUpsertsPattern(t *testing.T) {
	repo := newFakeFeedbackRepo()
	learner := &fakeRuleLearner{}
	m := newTestManager(repo, learner, false)

	event := &domain.LearningEvent{
		UserID:   "u1",
		Sender:   "News <daily@news.com>",
		Subject:  "Morning briefing",
		Category: "everything-else",
		Classification: domain.Classification{
			Type:       domain.TypeNewsletter,
			TypeConf:   0.9,
			Importance: domain.ImportanceRoutine,
		},
		ObservedAt: time.Date(2025, 11, 13, 9, 0, 0, 0, time.UTC),
	}
	if err := m.HandleLearningEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleLearningEvent: %v", err)
	}

	if learner.observedCount() != 1 {
		t.Errorf("observations = %d, want 1", learner.observedCount())
	}
	p := repo.pattern(domain.PatternSenderExact, "daily@news.com")
	if p == nil {
		t.Fatal("pattern not upserted")
	}
	if p.Confidence != 0.9 {
		t.Errorf("confidence = %v, want the model's 0.9", p.Confidence)
	}
	if !strings.Contains(p.ClassificationJSON, `"type":"newsletter"`) {
		t.Errorf("classification json = %s", p.ClassificationJSON)
	}
}

func TestHandleLearningEventHonorsProposedPattern(t *testing.T) {
	repo := newFakeFeedbackRepo()
	m := newTestManager(repo, &fakeRuleLearner{}, false)

	event := &domain.LearningEvent{
		UserID:   "u1",
		Sender:   "billing@acme.com",
		Category: "receipts",
		Classification: domain.Classification{
			Type:     domain.TypeReceipt,
			TypeConf: 0.93,
			Propose: &domain.ProposeRule{
				ShouldPropose: "true",
				PatternType:   "subject_contains",
				Pattern:       "Invoice #",
			},
		},
	}
	if err := m.HandleLearningEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleLearningEvent: %v", err)
	}

	if p := repo.pattern(domain.PatternSubjectContains, "invoice #"); p == nil {
		t.Error("proposed subject pattern not upserted")
	}
	if p := repo.pattern(domain.PatternSenderExact, "billing@acme.com"); p != nil {
		t.Error("sender pattern upserted despite a valid proposal")
	}
}

func TestHandleLearningEventUncategorizedSkipsPattern(t *testing.T) {
	repo := newFakeFeedbackRepo()
	learner := &fakeRuleLearner{}
	m := newTestManager(repo, learner, false)

	event := &domain.LearningEvent{
		UserID: "u1",
		Sender: "odd@example.com",
		Classification: domain.Classification{
			Type:     domain.TypeUncategorized,
			TypeConf: 0.9,
		},
	}
	if err := m.HandleLearningEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleLearningEvent: %v", err)
	}
	if len(repo.patterns) != 0 {
		t.Errorf("pattern learned for uncategorized: %v", repo.patterns)
	}
}
