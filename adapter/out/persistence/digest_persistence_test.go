package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digest_server/core/domain"
	"digest_server/infra/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.DefaultConfig(filepath.Join(t.TempDir(), "digest.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Bootstrap(context.Background()))
	return db
}

// ---------------------------------------------------------------------------
// Rule adapter
// ---------------------------------------------------------------------------

func TestRuleAdapterUpsertKeepsHighestConfidence(t *testing.T) {
	db := newTestDB(t)
	adapter := NewRuleAdapter(db)
	ctx := context.Background()

	rule := &domain.Rule{
		UserID:      "u1",
		PatternType: domain.PatternSenderExact,
		Pattern:     "billing@conedison.com",
		Category:    "notification",
		Confidence:  85,
	}
	require.NoError(t, adapter.UpsertRule(ctx, rule))
	require.NotZero(t, rule.ID)
	require.False(t, rule.CreatedAt.IsZero())

	// A lower-confidence upsert of the same pattern must not downgrade it.
	require.NoError(t, adapter.UpsertRule(ctx, &domain.Rule{
		UserID:      "u1",
		PatternType: domain.PatternSenderExact,
		Pattern:     "billing@conedison.com",
		Category:    "notification",
		Confidence:  60,
	}))

	rules, err := adapter.GetRulesForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 85, rules[0].Confidence)

	// A higher one does upgrade.
	require.NoError(t, adapter.UpsertRule(ctx, &domain.Rule{
		UserID:      "u1",
		PatternType: domain.PatternSenderExact,
		Pattern:     "billing@conedison.com",
		Category:    "notification",
		Confidence:  95,
	}))

	rules, err = adapter.GetRulesForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 95, rules[0].Confidence)
}

func TestRuleAdapterListsByConfidenceThenUse(t *testing.T) {
	db := newTestDB(t)
	adapter := NewRuleAdapter(db)
	ctx := context.Background()

	low := &domain.Rule{UserID: "u1", PatternType: domain.PatternKeyword, Pattern: "invoice", Category: "receipt", Confidence: 70}
	high := &domain.Rule{UserID: "u1", PatternType: domain.PatternSenderExact, Pattern: "news@golangweekly.com", Category: "newsletter", Confidence: 92}
	require.NoError(t, adapter.UpsertRule(ctx, low))
	require.NoError(t, adapter.UpsertRule(ctx, high))

	require.NoError(t, adapter.IncrementUseCount(ctx, high.ID))
	require.NoError(t, adapter.IncrementUseCount(ctx, high.ID))

	rules, err := adapter.GetRulesForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "news@golangweekly.com", rules[0].Pattern)
	assert.Equal(t, 2, rules[0].UseCount)
	assert.Equal(t, "invoice", rules[1].Pattern)

	// Other users see nothing.
	other, err := adapter.GetRulesForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRuleAdapterDeleteMissingRule(t *testing.T) {
	db := newTestDB(t)
	adapter := NewRuleAdapter(db)
	ctx := context.Background()

	err := adapter.DeleteRule(ctx, 12345)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule not found")
}

func TestRuleAdapterObservationLifecycle(t *testing.T) {
	db := newTestDB(t)
	adapter := NewRuleAdapter(db)
	ctx := context.Background()

	var pending *domain.PendingRule
	for i := 0; i < 3; i++ {
		var err error
		pending, err = adapter.RecordObservation(ctx, "u1", domain.PatternSenderExact, "noreply@substack.com", "newsletter")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, pending.SeenCount)

	listed, err := adapter.GetPendingRules(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, pending.ID, listed[0].ID)

	rule, err := adapter.Promote(ctx, pending, 90)
	require.NoError(t, err)
	assert.Equal(t, "noreply@substack.com", rule.Pattern)
	assert.Equal(t, 90, rule.Confidence)

	// Promotion consumes the pending row.
	listed, err = adapter.GetPendingRules(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, listed)

	rules, err := adapter.GetRulesForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "newsletter", rules[0].Category)
}

// ---------------------------------------------------------------------------
// Feedback adapter
// ---------------------------------------------------------------------------

func TestFeedbackAdapterCorrectionIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	adapter := NewFeedbackAdapter(db)
	ctx := context.Background()

	c := &domain.Correction{
		ID:            "corr-1",
		UserID:        "u1",
		MessageID:     "m1",
		Sender:        "deals@retailer.example",
		Subject:       "URGENT: final hours",
		Snippet:       "25% off everything",
		PredictedType: domain.TypeNotification,
		ActualType:    domain.TypePromotion,
		ActualLabel:   "everything-else",
	}
	require.NoError(t, adapter.InsertCorrection(ctx, c))
	require.NoError(t, adapter.InsertCorrection(ctx, c))

	recent, err := adapter.GetRecentCorrections(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "corr-1", recent[0].ID)
	assert.Equal(t, domain.TypePromotion, recent[0].ActualType)
	assert.Equal(t, "25% off everything", recent[0].Snippet)
	assert.Equal(t, "everything-else", recent[0].ActualLabel)
}

func TestFeedbackAdapterAssignsIDAndTimestamp(t *testing.T) {
	db := newTestDB(t)
	adapter := NewFeedbackAdapter(db)
	ctx := context.Background()

	c := &domain.Correction{
		UserID:        "u1",
		MessageID:     "m9",
		Sender:        "a@b.example",
		Subject:       "hello",
		PredictedType: domain.TypeMessage,
		ActualType:    domain.TypeMessage,
	}
	require.NoError(t, adapter.InsertCorrection(ctx, c))
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
}

func TestFeedbackAdapterStatsAndSenderRanking(t *testing.T) {
	db := newTestDB(t)
	adapter := NewFeedbackAdapter(db)
	ctx := context.Background()

	base := time.Date(2025, 11, 13, 12, 0, 0, 0, time.UTC)
	corrections := []*domain.Correction{
		{ID: "c1", UserID: "u1", MessageID: "m1", Sender: "deals@shop.example", Subject: "s1",
			PredictedType: domain.TypeNotification, ActualType: domain.TypePromotion, CreatedAt: base},
		{ID: "c2", UserID: "u1", MessageID: "m2", Sender: "deals@shop.example", Subject: "s2",
			PredictedType: domain.TypeNotification, ActualType: domain.TypePromotion, CreatedAt: base.Add(time.Minute)},
		{ID: "c3", UserID: "u1", MessageID: "m3", Sender: "news@weekly.example", Subject: "s3",
			PredictedType: domain.TypeMessage, ActualType: domain.TypeNewsletter, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, c := range corrections {
		require.NoError(t, adapter.InsertCorrection(ctx, c))
	}

	stats, err := adapter.GetCorrectionStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByActualType[domain.TypePromotion])
	assert.Equal(t, 1, stats.ByActualType[domain.TypeNewsletter])
	require.NotNil(t, stats.LastAt)
	assert.True(t, stats.LastAt.Equal(base.Add(2*time.Minute)))

	top, err := adapter.GetTopCorrectedSenders(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "deals@shop.example", top[0].Sender)
	assert.Equal(t, 2, top[0].Count)

	// A user with no corrections gets an empty summary, not an error.
	empty, err := adapter.GetCorrectionStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Nil(t, empty.LastAt)
}

func TestFeedbackAdapterLearnedPatternSupport(t *testing.T) {
	db := newTestDB(t)
	adapter := NewFeedbackAdapter(db)
	ctx := context.Background()

	p := &domain.LearnedPattern{
		PatternType:        domain.PatternSenderExact,
		PatternValue:       "calendar-notification@google.com",
		ClassificationJSON: `{"type":"event"}`,
		SupportCount:       1,
		Confidence:         0.9,
	}
	require.NoError(t, adapter.UpsertLearnedPattern(ctx, p))
	require.NoError(t, adapter.UpsertLearnedPattern(ctx, p))
	require.NoError(t, adapter.UpsertLearnedPattern(ctx, p))

	strong, err := adapter.GetHighConfidencePatterns(ctx, 3, 0.85, 10)
	require.NoError(t, err)
	require.Len(t, strong, 1)
	assert.Equal(t, 3, strong[0].SupportCount)
	assert.Equal(t, `{"type":"event"}`, strong[0].ClassificationJSON)

	// Raising the support floor hides it again.
	none, err := adapter.GetHighConfidencePatterns(ctx, 4, 0.85, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// ---------------------------------------------------------------------------
// Confidence adapter
// ---------------------------------------------------------------------------

func confidenceLog(messageID, promptVersion string, decider domain.Decider) *domain.ConfidenceLog {
	return &domain.ConfidenceLog{
		UserID:           "u1",
		MessageID:        messageID,
		Type:             domain.TypeNewsletter,
		TypeConf:         0.95,
		Importance:       domain.ImportanceRoutine,
		ImportanceConf:   0.9,
		Attention:        domain.AttentionNone,
		AttentionConf:    0.9,
		Relationship:     domain.RelationshipBusiness,
		RelationshipConf: 0.7,
		Decider:          decider,
		ClientLabel:      domain.LabelEverythingElse,
		ModelName:        "gemini-2.0-flash",
		ModelVersion:     "gemini-2.0-flash",
		PromptVersion:    promptVersion,
	}
}

func TestConfidenceAdapterInsertIsIdempotentPerVersion(t *testing.T) {
	db := newTestDB(t)
	adapter := NewConfidenceAdapter(db)
	ctx := context.Background()

	require.NoError(t, adapter.InsertLog(ctx, confidenceLog("m1", "v4", domain.DeciderGemini)))
	require.NoError(t, adapter.InsertLog(ctx, confidenceLog("m1", "v4", domain.DeciderGemini)))

	logs, err := adapter.GetLogsForMessage(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.DeciderGemini, logs[0].Decider)
	assert.InDelta(t, 0.95, logs[0].TypeConf, 1e-9)

	// A new prompt version is a distinct decision.
	require.NoError(t, adapter.InsertLog(ctx, confidenceLog("m1", "v5", domain.DeciderGemini)))

	logs, err = adapter.GetLogsForMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestConfidenceAdapterRecentAndDeciderCounts(t *testing.T) {
	db := newTestDB(t)
	adapter := NewConfidenceAdapter(db)
	ctx := context.Background()

	require.NoError(t, adapter.InsertLog(ctx, confidenceLog("m1", "v4", domain.DeciderGemini)))
	require.NoError(t, adapter.InsertLog(ctx, confidenceLog("m2", "v4", domain.DeciderTypeMapper)))
	require.NoError(t, adapter.InsertLog(ctx, confidenceLog("m3", "v4", domain.DeciderGemini)))

	recent, err := adapter.GetRecentLogs(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	counts, err := adapter.CountByDecider(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.DeciderGemini])
	assert.Equal(t, 1, counts[domain.DeciderTypeMapper])
}

// ---------------------------------------------------------------------------
// Session adapter
// ---------------------------------------------------------------------------

func TestSessionAdapterRoundTrip(t *testing.T) {
	db := newTestDB(t)
	adapter := NewSessionAdapter(db)
	ctx := context.Background()

	generated := time.Date(2025, 11, 13, 21, 30, 0, 0, time.UTC)
	session := &domain.DigestSession{
		ID:           "sess-1",
		UserID:       "u1",
		Variant:      "hybrid",
		TotalFetched: 6,
		TotalParsed:  6,
		TotalDeduped: 6,
		FeaturedN:    4,
		Duration:     1250 * time.Millisecond,
		GeneratedAt:  generated,
	}
	require.NoError(t, adapter.InsertSession(ctx, session))

	got, err := adapter.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hybrid", got.Variant)
	assert.Equal(t, 6, got.TotalFetched)
	assert.Equal(t, 4, got.FeaturedN)
	assert.Equal(t, 1250*time.Millisecond, got.Duration)
	assert.True(t, got.GeneratedAt.Equal(generated))

	missing, err := adapter.GetSession(ctx, "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionAdapterDefaultsVariantAndOrdersRecent(t *testing.T) {
	db := newTestDB(t)
	adapter := NewSessionAdapter(db)
	ctx := context.Background()

	base := time.Date(2025, 11, 13, 9, 0, 0, 0, time.UTC)
	require.NoError(t, adapter.InsertSession(ctx, &domain.DigestSession{
		ID: "old", UserID: "u1", GeneratedAt: base,
	}))
	require.NoError(t, adapter.InsertSession(ctx, &domain.DigestSession{
		ID: "new", UserID: "u1", Variant: "baseline", GeneratedAt: base.Add(time.Hour),
	}))

	recent, err := adapter.GetRecentSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new", recent[0].ID)
	assert.Equal(t, "baseline", recent[1].Variant)
}

func TestSessionAdapterABRunMetrics(t *testing.T) {
	db := newTestDB(t)
	adapter := NewSessionAdapter(db)
	ctx := context.Background()

	started := time.Date(2025, 11, 13, 21, 30, 0, 0, time.UTC)
	require.NoError(t, adapter.InsertRun(ctx, &domain.ABTestRun{
		ID: "run-1", SessionID: "sess-1", Variant: "baseline", StartedAt: started,
	}))
	require.NoError(t, adapter.InsertMetrics(ctx, "run-1", []domain.ABTestMetric{
		{Name: "featured_n", Value: 4},
		{Name: "duration_ms", Value: 1250},
	}))
	require.NoError(t, adapter.InsertMetrics(ctx, "run-1", nil))

	metrics, err := adapter.GetMetricsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "featured_n", metrics[0].Name)
	assert.InDelta(t, 4, metrics[0].Value, 1e-9)
	assert.Equal(t, "duration_ms", metrics[1].Name)
}

func TestSessionAdapterListCategoriesSeeded(t *testing.T) {
	db := newTestDB(t)
	adapter := NewSessionAdapter(db)

	cats, err := adapter.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 8)

	byType := make(map[domain.EmailType]string, len(cats))
	for _, c := range cats {
		byType[c.Type] = c.DisplayName
	}
	assert.Equal(t, "Verification Codes", byType[domain.TypeOTP])
	assert.Equal(t, "Newsletters", byType[domain.TypeNewsletter])
	assert.Equal(t, "Everything Else", byType[domain.TypeUncategorized])
}

// ---------------------------------------------------------------------------
// Thread adapter
// ---------------------------------------------------------------------------

func TestThreadAdapterUpsertAndCountByType(t *testing.T) {
	db := newTestDB(t)
	adapter := NewThreadAdapter(db)
	ctx := context.Background()

	seen := time.Date(2025, 11, 13, 8, 0, 0, 0, time.UTC)
	threads := []*domain.EmailThread{
		{ThreadID: "t1", UserID: "u1", LastSubject: "This week in Go #511", LastSender: "news@golangweekly.com", Type: domain.TypeNewsletter, ClientLabel: domain.LabelEverythingElse, LastSeenAt: seen},
		{ThreadID: "t2", UserID: "u1", LastSubject: "Morning Brew", LastSender: "crew@morningbrew.com", Type: domain.TypeNewsletter, ClientLabel: domain.LabelEverythingElse, LastSeenAt: seen},
		{ThreadID: "t3", UserID: "u1", LastSubject: "Team Sync", LastSender: "calendar-notification@google.com", Type: domain.TypeEvent, ClientLabel: domain.LabelActionRequired, LastSeenAt: seen},
	}
	for _, th := range threads {
		require.NoError(t, adapter.UpsertThread(ctx, th))
	}

	// A newer message in the same thread refreshes the row in place.
	require.NoError(t, adapter.UpsertThread(ctx, &domain.EmailThread{
		ThreadID: "t1", UserID: "u1",
		LastSubject: "This week in Go #512", LastSender: "news@golangweekly.com",
		Type: domain.TypeNewsletter, ClientLabel: domain.LabelEverythingElse,
		LastSeenAt: seen.Add(time.Hour),
	}))

	got, err := adapter.GetThread(ctx, "t1", "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "This week in Go #512", got.LastSubject)
	assert.Equal(t, domain.TypeNewsletter, got.Type)
	assert.True(t, got.LastSeenAt.Equal(seen.Add(time.Hour)))

	counts, err := adapter.CountThreadsByType(ctx, "u1", []string{"t1", "t2", "t3"})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.TypeNewsletter])
	assert.Equal(t, 1, counts[domain.TypeEvent])

	// Scoped to the given thread set.
	counts, err = adapter.CountThreadsByType(ctx, "u1", []string{"t3"})
	require.NoError(t, err)
	assert.Equal(t, map[domain.EmailType]int{domain.TypeEvent: 1}, counts)

	counts, err = adapter.CountThreadsByType(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestThreadAdapterGetMissingThread(t *testing.T) {
	db := newTestDB(t)
	adapter := NewThreadAdapter(db)

	got, err := adapter.GetThread(context.Background(), "nope", "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
