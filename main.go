package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"digest_server/config"
	"digest_server/internal/bootstrap"
	"digest_server/pkg/apperr"

	"github.com/joho/godotenv"
)

func main() {
	// .env is for local development; deployments set the environment.
	_ = godotenv.Load()

	mode := flag.String("mode", "", "run mode: once or worker (overrides DIGEST_MODE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	switch cfg.Mode {
	case "worker":
		runErr = runWorker(ctx, deps)
	default:
		runErr = runOnce(ctx, deps)
	}

	stop()
	cleanup()

	if runErr != nil {
		deps.Log.Error().Err(runErr).Msg("digest run failed")
		os.Exit(1)
	}
}

// runOnce generates a single digest and writes the text rendering to
// stdout. An empty batch is a normal outcome, not a failure.
func runOnce(ctx context.Context, deps *bootstrap.Dependencies) error {
	result, err := deps.DigestService.GenerateDigest(ctx)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeEmptyBatch) {
			deps.Log.Info().Msg("no new emails to process")
			return nil
		}
		return err
	}

	fmt.Println(result.Text)
	return nil
}

// runWorker loops on the configured interval until interrupted. The
// first batch runs immediately.
func runWorker(ctx context.Context, deps *bootstrap.Dependencies) error {
	if err := deps.HealthCheck(ctx); err != nil {
		deps.Log.Warn().Err(err).Msg("startup health check failed")
	}

	interval := deps.Config.WorkerInterval
	if interval <= 0 {
		interval = time.Hour
	}
	deps.Log.Info().Dur("interval", interval).Msg("digest worker started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := workerBatch(ctx, deps); err != nil {
			deps.Log.Error().Err(err).Msg("digest batch failed")
		}

		select {
		case <-ctx.Done():
			deps.Log.Info().Msg("digest worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func workerBatch(ctx context.Context, deps *bootstrap.Dependencies) error {
	result, err := deps.DigestService.GenerateDigest(ctx)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeEmptyBatch) {
			deps.Log.Info().Msg("no new emails to process")
			return nil
		}
		return err
	}

	deps.Log.Info().
		Int("total_emails", result.Digest.TotalEmails).
		Int("items", len(result.Digest.Items)).
		Str("session_id", result.Session.ID).
		Msg("digest generated")
	return nil
}
