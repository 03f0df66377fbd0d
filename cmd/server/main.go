package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/client"
	"github.com/stemsi/interview-engine/internal/config"
	"github.com/stemsi/interview-engine/internal/database"
	"github.com/stemsi/interview-engine/internal/engine"
	"github.com/stemsi/interview-engine/internal/handler"
	"github.com/stemsi/interview-engine/internal/host"
	"github.com/stemsi/interview-engine/internal/journal"
	"github.com/stemsi/interview-engine/internal/logger"
	"github.com/stemsi/interview-engine/internal/middleware"
	"github.com/stemsi/interview-engine/internal/repository"
	"github.com/stemsi/interview-engine/internal/router"
	"github.com/stemsi/interview-engine/internal/store"
	"github.com/stemsi/interview-engine/internal/submission"
	"github.com/stemsi/interview-engine/internal/telemetry"
	"github.com/stemsi/interview-engine/internal/validator"
	"github.com/stemsi/interview-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("interview_api", cfg.InterviewAPIURL).
		Bool("journal", cfg.JournalEnabled).
		Msg("Starting interview engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Tracing ───────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEnabled, cfg.OTelEndpoint, cfg.ServiceName)
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})

	// ─── Journal (PostgreSQL + queue worker) ───────────────────────────
	var (
		eventSink   journal.EventSink
		eventLister handler.EventLister
	)
	if cfg.JournalEnabled {
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		eventRepo := repository.NewSessionEventRepository(pool)
		queue := journal.NewRedisQueue(rdb)
		eventSink = queue
		eventLister = eventRepo

		journalWorker := worker.NewJournalWorker(queue, eventRepo, log)
		go func() {
			journalWorker.Start(workerCtx)
			close(workersDone)
		}()
	} else {
		close(workersDone)
	}

	drafts := store.NewDraftStore(rdb, cfg.DraftTTL, log)
	publisher := journal.NewPublisher(eventSink, drafts, log)

	// ─── Session Host ──────────────────────────────────────────────────
	api := client.New(client.Config{
		BaseURL: cfg.InterviewAPIURL,
		Token:   cfg.InterviewAPIToken,
		Timeout: cfg.InterviewAPITimeout,
	}, log)

	sessions := host.NewSessionHost(api, api, cfg.SessionRetention, log,
		engine.WithLogger(log.With().Str("component", "engine").Logger()),
		engine.WithTickInterval(cfg.TickInterval),
		engine.WithProfile(submission.Profile{
			ChoiceTextNullable: cfg.ChoiceTextNullable,
			TrimFreeText:       cfg.TrimFreeText,
			AllowEmptyFreeText: cfg.AllowEmptyFreeText,
		}),
		engine.WithRecorder(publisher),
		engine.WithDraftSource(drafts),
	)
	go sessions.Run(workerCtx)

	limiter := middleware.NewRateLimiter(cfg.AttachRatePerSecond, cfg.AttachBurst)
	go limiter.Run(workerCtx)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessions, eventLister, log),
		WS:      handler.NewWSHandler(sessions, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, sessions, log),
		System: handler.NewSystemHandler(rdb, handler.SystemStats{
			Sessions:       sessions.Len,
			JournalDropped: publisher.Dropped,
		}, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, limiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Tear down running sessions. Drafts stay mirrored for the next attach.
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Session host shutdown error")
	}

	// 3. Flush the journal publisher, then let the worker drain.
	if err := publisher.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Int64("dropped", publisher.Dropped()).Msg("Journal publisher did not drain")
	}
	workerCancel()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Journal worker did not stop in time")
	}

	if err := shutdownTracing(context.Background()); err != nil {
		log.Error().Err(err).Msg("Tracing shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
