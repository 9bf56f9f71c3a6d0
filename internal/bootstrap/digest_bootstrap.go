// Package bootstrap wires the digest engine: storage, mail provider,
// classification cascade, learning loop, and the pipeline coordinator.
// NewDependencies builds everything in dependency order and returns a
// cleanup that tears it down in reverse.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"digest_server/adapter/out/persistence"
	"digest_server/adapter/out/provider"
	"digest_server/config"
	"digest_server/core/agent/llm"
	"digest_server/core/domain"
	"digest_server/core/port/in"
	"digest_server/core/port/out"
	"digest_server/core/service/classification"
	"digest_server/core/service/extraction"
	"digest_server/core/service/feedback"
	"digest_server/core/service/pipeline"
	"digest_server/core/service/temporal"
	"digest_server/core/service/timeline"
	"digest_server/infra/database"
	"digest_server/pkg/metrics"
	"digest_server/pkg/resilience"

	"github.com/rs/zerolog"
)

const learningWorkers = 2

type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger
	DB     *database.DB

	// Repositories
	RuleRepo       out.RuleRepository
	FeedbackRepo   out.FeedbackRepository
	ConfidenceRepo out.ConfidenceRepository
	SessionRepo    out.SessionRepository
	ThreadRepo     out.ThreadRepository

	// Mail source
	Provider out.MailProvider

	// LLM
	LLMClient *llm.Client

	// Classification
	TypeMapper *classification.TypeMapper
	Rules      *classification.RulesEngine
	Classifier *classification.LLMClassifier
	Cascade    *classification.Cascade
	Guardrails *classification.Guardrails

	// Extraction and synthesis
	TemporalParser *temporal.Parser
	Extractor      *extraction.Extractor
	Resolver       *temporal.Resolver
	Synthesizer    *timeline.Synthesizer
	Renderer       *timeline.Renderer

	// Learning loop
	FewshotCache *feedback.FewshotCache
	Feedback     *feedback.Manager
	Learning     *feedback.Consumer

	// Inbound ports
	DigestService   in.DigestService
	FeedbackService in.FeedbackService

	// Observability
	Counters *metrics.CounterSet
	Stages   *metrics.StageRegistry
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	log := newLogger(cfg)
	deps := &Dependencies{
		Config:   cfg,
		Log:      log,
		Counters: metrics.NewCounterSet(),
		Stages:   metrics.NewStageRegistry(1000),
	}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Database (embedded SQLite, WAL)
	db, err := database.New(database.Config{
		Path:              cfg.DBPath,
		PoolSize:          cfg.DBPoolSize,
		BusyTimeout:       time.Duration(cfg.DBBusyTimeoutMS) * time.Millisecond,
		LockRetryAttempts: cfg.LockRetryAttempts,
		LockRetryBase:     time.Duration(cfg.LockRetryBaseMS) * time.Millisecond,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	if err := db.Bootstrap(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	// Repositories
	deps.RuleRepo = persistence.NewRuleAdapter(db)
	deps.FeedbackRepo = persistence.NewFeedbackAdapter(db)
	deps.ConfidenceRepo = persistence.NewConfidenceAdapter(db)
	deps.SessionRepo = persistence.NewSessionAdapter(db)
	deps.ThreadRepo = persistence.NewThreadAdapter(db)

	// Mail provider. Test mode always runs on the local fixture.
	providerKind := cfg.ProviderKind
	if cfg.TestMode {
		providerKind = "local"
	}
	switch providerKind {
	case "gmail":
		if cfg.GmailAccessToken == "" {
			cleanup()
			return nil, nil, fmt.Errorf("GMAIL_ACCESS_TOKEN is required when MAIL_PROVIDER=gmail")
		}
		deps.Provider = provider.NewGmailAdapter(provider.GmailConfig{
			UserEmail:   cfg.GmailUserEmail,
			AccessToken: cfg.GmailAccessToken,
		}, deps.Counters, log)
	default:
		local, err := provider.NewLocalAdapter(cfg.LocalMailboxPath, log)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Provider = local
	}

	// LLM client. An empty key still yields a working pipeline: every
	// model call fails and the classifier falls back to its safe default.
	if cfg.LLMAPIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY not set, classification will use the safe fallback")
	}
	deps.LLMClient = llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		TopP:        cfg.LLMTopP,
	})

	// Learning loop. The consumer is the cascade's sink and must be
	// running before the first classification, so it starts here with a
	// background context and drains on cleanup.
	deps.FewshotCache = feedback.NewFewshotCache(
		deps.FeedbackRepo, cfg.FewshotMinSupport, cfg.LearningMinConfidence, cfg.FewshotLimit, log)
	if err := deps.FewshotCache.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial fewshot refresh failed, starting with empty examples")
	}

	deps.Rules = classification.NewRulesEngine(deps.RuleRepo, log)
	deps.Feedback = feedback.NewManager(
		deps.FeedbackRepo, deps.Rules, deps.FewshotCache, deps.Counters, cfg.FeedbackDisabled, log)
	deps.FeedbackService = deps.Feedback

	deps.Learning = feedback.NewConsumer(deps.Feedback, learningWorkers, log)
	if err := deps.Learning.Start(context.Background()); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to start learning consumer: %w", err)
	}
	cleanups = append(cleanups, func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := deps.Learning.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("learning consumer close failed")
		}
	})

	// Classification cascade
	mapper, err := classification.LoadTypeMapper(cfg.TypeMapperPath, log)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.TypeMapperPath).
			Msg("type mapper config unavailable, stage disabled")
		mapper = nil
	}
	deps.TypeMapper = mapper

	jsonBreaker := resilience.NewInvalidJSONBreaker(
		cfg.JSONBreakerThreshold,
		time.Duration(cfg.JSONBreakerWindowSec)*time.Second,
		time.Duration(cfg.JSONBreakerCooldownSec)*time.Second,
		time.Now,
	)
	deps.Classifier = classification.NewLLMClassifier(
		deps.LLMClient, jsonBreaker, deps.FewshotCache, deps.Counters,
		classification.ClassifierConfig{
			Timeout:       time.Duration(cfg.LLMTimeoutSec) * time.Second,
			PromptVersion: cfg.PromptVersion,
			FewshotLimit:  cfg.FewshotLimit,
			MaxRetries:    cfg.LLMMaxRetries,
		}, log)

	deps.Cascade = classification.NewCascade(
		deps.TypeMapper, deps.Rules, deps.Classifier, deps.ConfidenceRepo,
		deps.Learning, deps.Counters, cfg.LearningMinConfidence, log)

	guardrails, err := classification.LoadGuardrails(cfg.GuardrailPath, deps.Counters, log)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.GuardrailPath).
			Msg("guardrail config unavailable, using built-in defaults")
		guardrails = classification.DefaultGuardrails(deps.Counters, log)
	}
	deps.Guardrails = guardrails

	// Extraction and synthesis
	deps.TemporalParser = temporal.NewParser(log)
	deps.Extractor = extraction.NewExtractor(deps.TemporalParser, nil, deps.Counters, log)
	deps.Resolver = temporal.NewResolver(log)
	deps.Synthesizer = timeline.NewSynthesizer(log)
	deps.Renderer = timeline.NewRenderer(loadCategories(ctx, deps.SessionRepo, log))
	deps.Renderer.PlainTextFallback = cfg.HybridRenderer

	// Pipeline
	coordinator := pipeline.NewCoordinator(pipeline.Deps{
		Provider:    deps.Provider,
		Parser:      pipeline.NewStrictParser(),
		Cascade:     deps.Cascade,
		Extractor:   deps.Extractor,
		Resolver:    deps.Resolver,
		Guardrails:  deps.Guardrails,
		Synthesizer: deps.Synthesizer,
		Renderer:    deps.Renderer,
		Sessions:    deps.SessionRepo,
		Threads:     deps.ThreadRepo,
		DB:          db,
		Stages:      deps.Stages,
		Counters:    deps.Counters,
	}, pipeline.Config{
		UserID:     cfg.UserID,
		Variant:    cfg.Variant,
		BatchLimit: cfg.BatchLimit,
		Parallel:   cfg.Parallel,
		Workers:    cfg.ParallelWorkers,
	}, log)
	deps.DigestService = coordinator

	log.Info().
		Str("provider", providerKind).
		Str("model", cfg.LLMModel).
		Str("variant", cfg.Variant).
		Bool("parallel", cfg.Parallel).
		Msg("digest engine wired")

	return deps, cleanup, nil
}

// loadCategories reads the seeded type catalog for renderer display
// names. A read failure degrades to slug-derived names.
func loadCategories(ctx context.Context, repo out.SessionRepository, log zerolog.Logger) []domain.Category {
	cats, err := repo.ListCategories(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load category catalog")
		return nil
	}
	list := make([]domain.Category, 0, len(cats))
	for _, c := range cats {
		list = append(list, *c)
	}
	return list
}

// HealthCheck verifies the store and the mail provider are reachable.
func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Pool().PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	stats := metrics.GetDBPoolStats(d.DB.Pool().DB)
	if health := metrics.AssessDBPoolHealth(stats); health.Status == metrics.PoolUnhealthy {
		return fmt.Errorf("database pool: %s", health.Message)
	}

	if _, err := d.Provider.ListMessageIDs(ctx, d.Config.UserID, 1); err != nil {
		return fmt.Errorf("mail provider: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
