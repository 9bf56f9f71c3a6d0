package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"digest_server/core/domain"
	"digest_server/core/port/in"
	"digest_server/core/port/out"
	"digest_server/core/service/classification"
	"digest_server/core/service/extraction"
	"digest_server/core/service/temporal"
	"digest_server/core/service/timeline"
	"digest_server/infra/database"
	"digest_server/pkg/apperr"
	"digest_server/pkg/metrics"
	"digest_server/pkg/resilience"
	"digest_server/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Stage names used in latency telemetry and error stages.
const (
	StageFetch      = "fetch"
	StageParse      = "parse"
	StageClassify   = "classify"
	StageSynthesize = "synthesize"
	StageRender     = "render"
	StageCheckpoint = "checkpoint"
)

// Config holds the per-run pipeline settings.
type Config struct {
	UserID     string
	Variant    string
	BatchLimit int
	Parallel   bool
	Workers    int
}

// Deps carries the wired collaborators. Guardrails and DB may be nil;
// everything else is required.
type Deps struct {
	Provider    out.MailProvider
	Parser      *StrictParser
	Cascade     *classification.Cascade
	Extractor   *extraction.Extractor
	Resolver    *temporal.Resolver
	Guardrails  *classification.Guardrails
	Synthesizer *timeline.Synthesizer
	Renderer    *timeline.Renderer
	Sessions    out.SessionRepository
	Threads     out.ThreadRepository
	DB          *database.DB
	Stages      *metrics.StageRegistry
	Counters    *metrics.CounterSet
}

// Coordinator drives one digest run through every stage in order. It is
// the single writer for run bookkeeping; the stages themselves stay
// side-effect free apart from their own audit logs.
type Coordinator struct {
	deps       Deps
	cfg        Config
	dedup      *resilience.DedupSet
	fetchRetry resilience.RetryPolicy
	log        zerolog.Logger

	now func() time.Time

	// Per-run bookkeeping, reset at batch start alongside the dedup set.
	runStages   map[string]time.Duration
	counterBase map[string]int64
}

var _ in.DigestService = (*Coordinator)(nil)

// NewCoordinator wires the pipeline.
func NewCoordinator(deps Deps, cfg Config, log zerolog.Logger) *Coordinator {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if deps.Stages == nil {
		deps.Stages = metrics.NewStageRegistry(1000)
	}
	if deps.Counters == nil {
		deps.Counters = metrics.NewCounterSet()
	}

	c := &Coordinator{
		deps:  deps,
		cfg:   cfg,
		dedup: resilience.NewDedupSet(),
		log:   log.With().Str("component", "pipeline").Logger(),
		now:   time.Now,
	}
	c.fetchRetry = resilience.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.5,
		NonRetryable: func(err error) bool {
			var pErr *out.ProviderError
			return errors.As(err, &pErr) && !pErr.Retryable
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.deps.Counters.Inc(metrics.CounterRetries)
			c.log.Warn().Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("provider fetch retry")
		},
	}
	return c
}

// GenerateDigest runs one batch. The dedup set is batch-scoped, so a
// rerun over the same mailbox produces the same digest again; only the
// confidence log's own idempotency keeps the audit trail single-entry.
func (c *Coordinator) GenerateDigest(ctx context.Context) (*in.DigestResult, error) {
	runStart := c.now()
	now := runStart.UTC()
	c.dedup.Reset()
	c.runStages = make(map[string]time.Duration, 8)
	c.counterBase = c.deps.Counters.Snapshot()

	raws, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	emails, parsedCount := c.parse(raws)
	if len(emails) == 0 {
		c.log.Info().Int("fetched", len(raws)).Msg("no new emails to process")
		return nil, apperr.EmptyBatch()
	}

	classified, err := c.process(ctx, emails, now)
	if err != nil {
		return nil, err
	}

	digest := c.synthesize(classified, now)
	text, html := c.render(digest)

	session := &domain.DigestSession{
		ID:           uuid.NewString(),
		UserID:       c.cfg.UserID,
		Variant:      c.cfg.Variant,
		TotalFetched: len(raws),
		TotalParsed:  parsedCount,
		TotalDeduped: len(emails),
		FeaturedN:    len(digest.Items),
		Duration:     c.now().Sub(runStart),
		GeneratedAt:  now,
	}
	if err := c.checkpoint(ctx, session, digest, classified); err != nil {
		return nil, err
	}

	telemetry.Emit(c.log, telemetry.EventDigestGenerated).
		Str("session_id", session.ID).
		Str("variant", session.Variant).
		Int("total_emails", digest.TotalEmails).
		Int("featured", len(digest.Items)).
		Dur("duration", session.Duration).
		Msg("digest generated")

	for name, stats := range c.deps.Stages.AllStats() {
		telemetry.Emit(c.log, telemetry.EventStageSummary).
			Str("stage", name).
			Fields(stats.ToMap()).
			Msg("stage latency summary")
	}

	return &in.DigestResult{
		Digest:  digest,
		Text:    text,
		HTML:    html,
		Session: session,
	}, nil
}

// fetch lists the batch and pulls each message. A message deleted
// between list and fetch is skipped; any other terminal provider
// failure aborts the run.
func (c *Coordinator) fetch(ctx context.Context) ([]*domain.RawMessage, error) {
	start := c.now()

	ids, err := c.deps.Provider.ListMessageIDs(ctx, c.cfg.UserID, c.cfg.BatchLimit)
	if err != nil {
		return nil, c.adapterError(StageFetch, err)
	}

	raws := make([]*domain.RawMessage, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := c.getMessage(ctx, id)
		if err != nil {
			var pErr *out.ProviderError
			if errors.As(err, &pErr) && pErr.Code == out.ProviderErrNotFound {
				c.log.Debug().Str("message_id", id).Msg("message gone between list and fetch, skipping")
				continue
			}
			return nil, c.adapterError(StageFetch, err)
		}
		raws = append(raws, raw)
	}

	c.stage(StageFetch, start, len(raws))
	return raws, nil
}

// getMessage retries transient provider failures with backoff.
func (c *Coordinator) getMessage(ctx context.Context, id string) (*domain.RawMessage, error) {
	var raw *domain.RawMessage
	err := c.fetchRetry.Execute(ctx, func() error {
		var opErr error
		raw, opErr = c.deps.Provider.GetMessage(ctx, id)
		return opErr
	})
	return raw, err
}

// parse validates every raw message and drops batch duplicates. Returns
// the surviving emails and the count that passed strict parsing before
// dedup.
func (c *Coordinator) parse(raws []*domain.RawMessage) ([]*domain.ParsedEmail, int) {
	start := c.now()

	parsedCount := 0
	emails := make([]*domain.ParsedEmail, 0, len(raws))
	for _, raw := range raws {
		email, err := c.deps.Parser.Parse(raw)
		if err != nil {
			c.deps.Counters.Inc(metrics.CounterParseDrops)
			telemetry.Warn(c.log, telemetry.EventParseDrop).
				Str("message_id", rawMessageID(raw)).
				Err(err).
				Msg("message dropped at parse")
			continue
		}
		parsedCount++

		key := resilience.IdempotencyKey(email.MessageID, email.ReceivedAt.UnixMilli(), email.Body())
		if c.dedup.IsDuplicate(key) {
			c.deps.Counters.Inc(metrics.CounterIdempotencyDrops)
			telemetry.Emit(c.log, telemetry.EventIdempotencyDrop).
				Str("message_id", email.MessageID).
				Msg("duplicate message dropped")
			continue
		}
		emails = append(emails, email)
	}

	c.stage(StageParse, start, len(emails))
	return emails, parsedCount
}

// process classifies, extracts, decays, and applies guardrails to each
// email. Results land in input order whether the batch runs sequentially
// or fanned out, so downstream output is identical either way.
func (c *Coordinator) process(ctx context.Context, emails []*domain.ParsedEmail, now time.Time) ([]timeline.ClassifiedEmail, error) {
	start := c.now()

	results := make([]timeline.ClassifiedEmail, len(emails))
	if c.cfg.Parallel && c.cfg.Workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Workers)
		for i, email := range emails {
			g.Go(func() error {
				ce, err := c.processOne(gctx, email, now)
				if err != nil {
					return err
				}
				results[i] = ce
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, email := range emails {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			ce, err := c.processOne(ctx, email, now)
			if err != nil {
				return nil, err
			}
			results[i] = ce
		}
	}

	c.deps.Counters.Add(metrics.CounterEmailsProcessed, int64(len(emails)))
	c.stage(StageClassify, start, len(emails))
	return results, nil
}

func (c *Coordinator) processOne(ctx context.Context, email *domain.ParsedEmail, now time.Time) (timeline.ClassifiedEmail, error) {
	cls, err := c.deps.Cascade.Classify(ctx, c.cfg.UserID, email)
	if err != nil {
		return timeline.ClassifiedEmail{}, err
	}

	entity := c.deps.Extractor.Extract(ctx, email, cls)
	if entity != nil {
		c.deps.Resolver.Resolve(entity, now)
	}

	// Guardrails run after decay so policy overrides the resolved
	// importance, not the other way around.
	if c.deps.Guardrails != nil {
		c.deps.Guardrails.Apply(email, cls, entity)
	}

	return timeline.ClassifiedEmail{Email: email, Classification: cls, Entity: entity}, nil
}

func (c *Coordinator) synthesize(classified []timeline.ClassifiedEmail, now time.Time) *domain.Digest {
	start := c.now()
	digest := c.deps.Synthesizer.Synthesize(classified, now)
	c.stage(StageSynthesize, start, len(digest.Items))
	return digest
}

func (c *Coordinator) render(digest *domain.Digest) (text, html string) {
	start := c.now()
	text = c.deps.Renderer.RenderText(digest)
	html = c.deps.Renderer.RenderHTML(digest)
	c.stage(StageRender, start, len(digest.Items))
	return text, html
}

// checkpoint persists the run: session row, A/B run with its metrics,
// per-thread state, then a WAL truncate. Thread upserts and the WAL
// checkpoint degrade to warnings; the session bookkeeping does not.
func (c *Coordinator) checkpoint(ctx context.Context, session *domain.DigestSession, digest *domain.Digest, classified []timeline.ClassifiedEmail) error {
	start := c.now()

	if err := c.deps.Sessions.InsertSession(ctx, session); err != nil {
		return apperr.DatabaseError("insert session", err).WithStage(StageCheckpoint)
	}

	run := &domain.ABTestRun{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Variant:   session.Variant,
		StartedAt: session.GeneratedAt,
	}
	if err := c.deps.Sessions.InsertRun(ctx, run); err != nil {
		return apperr.DatabaseError("insert ab run", err).WithStage(StageCheckpoint)
	}
	if err := c.deps.Sessions.InsertMetrics(ctx, run.ID, c.runMetrics(run.ID, digest)); err != nil {
		return apperr.DatabaseError("insert ab metrics", err).WithStage(StageCheckpoint)
	}

	for _, ce := range classified {
		thread := threadOf(ce, session.UserID, session.GeneratedAt)
		if thread == nil {
			continue
		}
		if err := c.deps.Threads.UpsertThread(ctx, thread); err != nil {
			c.log.Warn().Err(err).Str("thread_id", thread.ThreadID).Msg("thread upsert failed")
		}
	}

	if c.deps.DB != nil {
		if _, err := c.deps.DB.Checkpoint(ctx); err != nil {
			c.log.Warn().Err(err).Msg("wal checkpoint failed")
		}
	}

	c.stage(StageCheckpoint, start, len(classified))
	return nil
}

// runMetrics flattens the run into metric rows: digest shape, per-stage
// latencies, and the counters this run moved. Checkpoint latency is not
// included because it is still in flight when the rows are written.
func (c *Coordinator) runMetrics(runID string, d *domain.Digest) []domain.ABTestMetric {
	rows := []domain.ABTestMetric{
		{RunID: runID, Name: "total_emails", Value: float64(d.TotalEmails)},
		{RunID: runID, Name: "featured_items", Value: float64(len(d.Items))},
		{RunID: runID, Name: "critical_count", Value: float64(d.SectionCounts[domain.SectionCritical])},
		{RunID: runID, Name: "today_count", Value: float64(d.SectionCounts[domain.SectionToday])},
		{RunID: runID, Name: "coming_up_count", Value: float64(d.SectionCounts[domain.SectionComingUp])},
		{RunID: runID, Name: "worth_knowing_count", Value: float64(d.SectionCounts[domain.SectionWorthKnowing])},
		{RunID: runID, Name: "noise_count", Value: float64(d.SectionCounts[domain.SectionEverythingElse])},
		{RunID: runID, Name: "summary_words", Value: float64(len(strings.Fields(d.Summary)))},
	}
	for _, name := range []string{StageFetch, StageParse, StageClassify, StageSynthesize, StageRender} {
		if dur, ok := c.runStages[name]; ok {
			rows = append(rows, domain.ABTestMetric{
				RunID: runID,
				Name:  "stage_" + name + "_ms",
				Value: float64(dur.Microseconds()) / 1000,
			})
		}
	}
	for _, name := range []string{
		metrics.CounterLLMFallbacks,
		metrics.CounterIdempotencyDrops,
		metrics.CounterParseDrops,
		metrics.CounterRetries,
		metrics.CounterGuardrailHits,
	} {
		delta := c.deps.Counters.Get(name) - c.counterBase[name]
		rows = append(rows, domain.ABTestMetric{RunID: runID, Name: name, Value: float64(delta)})
	}
	return rows
}

func threadOf(ce timeline.ClassifiedEmail, userID string, now time.Time) *domain.EmailThread {
	if ce.Email == nil || ce.Email.ThreadID == "" || ce.Classification == nil {
		return nil
	}
	return &domain.EmailThread{
		ThreadID:    ce.Email.ThreadID,
		UserID:      userID,
		LastSubject: ce.Email.Subject,
		LastSender:  ce.Email.From,
		Type:        ce.Classification.Type,
		ClientLabel: domain.ClientLabelFor(ce.Classification.Type, ce.Classification.Attention),
		LastSeenAt:  ce.Email.ReceivedAt,
		UpdatedAt:   now,
	}
}

func (c *Coordinator) stage(name string, start time.Time, count int) {
	d := c.now().Sub(start)
	c.runStages[name] = d
	c.deps.Stages.Record(name, d)
	telemetry.StageLatency(c.log, name, d, count)
}

// adapterError maps provider failures onto stable application codes.
func (c *Coordinator) adapterError(stage string, err error) error {
	var pErr *out.ProviderError
	if errors.As(err, &pErr) {
		if pErr.Retryable {
			return apperr.TransientAdapter(pErr.Provider, err).WithStage(stage)
		}
		return apperr.PermanentAdapter(pErr.Provider, err).WithStage(stage)
	}
	if apperr.IsAppError(err) {
		return err
	}
	return apperr.Internal("", err).WithStage(stage)
}

func rawMessageID(raw *domain.RawMessage) string {
	if raw == nil {
		return ""
	}
	return raw.MessageID
}
