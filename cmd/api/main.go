package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-ingest/internal/api"
	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/jobs"
	"github.com/dvloznov/ledger-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/pipeline"
	"github.com/dvloznov/ledger-ingest/internal/report"
	"github.com/dvloznov/ledger-ingest/internal/review"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	var (
		port   = flag.String("port", cfg.APIPort, "HTTP server port")
		dbPath = flag.String("db", cfg.DatabasePath, "SQLite database path")
	)
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := logger.WithContext(context.Background(), log)

	repo, err := sqlite.NewRepository(ctx, *dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("Failed to open database")
	}
	defer repo.Close()

	workflow := review.NewWorkflow(repo, review.Options{
		Tolerance:             decimal.NewFromFloat(cfg.AmountTolerance),
		WindowDays:            cfg.LooseWindowDays,
		AutoFinalizeThreshold: cfg.AutoFinalizeThreshold,
	})

	ingester := pipeline.New(pipeline.Config{
		Store:     repo,
		Tolerance: decimal.NewFromFloat(cfg.AmountTolerance),
	})

	var classifier categorize.Classifier
	if g, err := categorize.NewGeminiClassifier(ctx, cfg.GeminiModel); err != nil {
		log.Warn().Err(err).Msg("Model unavailable - categorize jobs will use vendor rules and fallback only")
	} else {
		classifier = g
	}
	categorizer := categorize.NewService(classifier, categorize.Options{
		BatchSize:     cfg.CategorizeBatchSize,
		MaxAttempts:   cfg.CategorizeMaxAttempts,
		Backoff:       cfg.CategorizeBackoff,
		RatePerMinute: cfg.CategorizeRatePerMin,
	})
	categorizeFn := func(ctx context.Context, limit int) (*categorize.RunSummary, error) {
		return categorizer.Run(ctx, repo, limit)
	}

	// Initialize job infrastructure. One worker: the store has a single writer.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobs.NewHandler(workflow, categorizeFn)); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	server := &http.Server{
		Addr: ":" + *port,
		Handler: api.NewRouter(api.Deps{
			Store:       repo,
			Manual:      ingester,
			Reports:     report.NewService(repo),
			Suggestions: repo,
			Review:      workflow,
			JobStore:    jobStore,
			Publisher:   jobQueue,
			Log:         log,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Str("db", *dbPath).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting jobs and wait for the one in flight
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
