package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exam-runner/internal/checker"
	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/database"
	"github.com/stemsi/exam-runner/internal/exam"
	"github.com/stemsi/exam-runner/internal/handler"
	"github.com/stemsi/exam-runner/internal/logger"
	"github.com/stemsi/exam-runner/internal/repository"
	"github.com/stemsi/exam-runner/internal/router"
	"github.com/stemsi/exam-runner/internal/service"
	"github.com/stemsi/exam-runner/internal/store"
	"github.com/stemsi/exam-runner/internal/validator"
	"github.com/stemsi/exam-runner/internal/worker"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup("exam-runner", cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("store", cfg.StoreBackend).
		Str("code_check", cfg.CodeCheckTransport).
		Msg("Starting exam runner")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PolicyFile).Msg("Failed to load timing policy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Progress Store ────────────────────────────────────────────────
	var kv store.KV
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		log.Warn().Msg("Progress kept in process memory; it is lost on restart")
		kv = store.NewMemoryKV()
	default:
		kv = store.NewRedisKV(rdb)
	}
	progress := store.NewProgressStore(kv, store.DefaultProgressTTL)

	// ─── Code Checker ──────────────────────────────────────────────────
	var codeChecker exam.CodeChecker
	switch cfg.CodeCheckTransport {
	case config.CodeCheckNATS:
		nc, err := database.NewNATSConn(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer func() { _ = nc.Drain() }()
		codeChecker = checker.NewNATSChecker(nc, cfg.CodeCheckSubject, cfg.CodeCheckTimeout, log)
	default:
		codeChecker = checker.NewHTTPChecker(cfg.APIBaseURL, cfg.CodeCheckTimeout, log)
	}

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewSessionRepository(pool)
	candidateRepo := repository.NewCandidateRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	queue := worker.NewQueue(rdb)
	attemptService := service.NewAttemptService(cfg, kv)
	sessionService := service.NewSessionService(sessionRepo, candidateRepo, kv, progress, attemptService, log)
	examService := service.NewExamService(
		sessionService,
		progress,
		codeChecker,
		service.NewQueueSubmitter(queue),
		queue,
		policy,
		cfg.ReportViolations,
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	probes := map[string]handler.Probe{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessionService, log),
		WS:      handler.NewWSHandler(examService, attemptService, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(probes, queue.Depths, examService.Live, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(attemptService, handlers, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// ─── Start Background Workers ─────────────────────────────────────
	workers := []interface{ Start(context.Context) }{
		worker.NewAnswerWorker(pool, rdb, log),
		worker.NewViolationWorker(pool, rdb, log),
		worker.NewResultWorker(pool, rdb, log),
	}
	for _, w := range workers {
		g.Go(func() error {
			w.Start(gctx)
			return nil
		})
	}

	// ─── Start Server ──────────────────────────────────────────────────
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// 1. Stop accepting new connections.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		// 2. Halt live attempts; progress is already persisted.
		examService.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
