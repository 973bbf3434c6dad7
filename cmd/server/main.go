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
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/database"
	"github.com/stemsi/exstem-lms/internal/handler"
	"github.com/stemsi/exstem-lms/internal/logger"
	"github.com/stemsi/exstem-lms/internal/repository"
	"github.com/stemsi/exstem-lms/internal/router"
	"github.com/stemsi/exstem-lms/internal/service"
	"github.com/stemsi/exstem-lms/internal/session"
	"github.com/stemsi/exstem-lms/internal/validator"
	"github.com/stemsi/exstem-lms/internal/worker"
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
		Str("timer_mode", cfg.TimerMode).
		Msg("Starting ExStem LMS")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	courseRepo := repository.NewCourseRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	studentService := service.NewStudentService(studentRepo, authService)
	courseService := service.NewCourseService(courseRepo)
	testService := service.NewTestService(testRepo, rdb, log)
	answerBuffer := service.NewAnswerBuffer(rdb)
	submissionService := service.NewSubmissionService(submissionRepo, answerBuffer, testService, log)
	reviewService := service.NewReviewService(submissionRepo, testService)
	storageService := service.NewStorageService(cfg, log)

	// ─── Session Engine ───────────────────────────────────────────────
	registry := session.NewRegistry()
	sessionDeps := session.Deps{
		Tests:       testService,
		Submissions: submissionService,
		Files:       storageService,
		Courses:     courseService,
	}
	sessionOpts := session.Options{
		AutosaveDebounce: cfg.AutosaveDebounce,
		LoadTimeout:      cfg.LoadTimeout,
		TimerMode:        session.DriverMode(cfg.TimerMode),
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:          handler.NewAuthHandler(authService, studentService),
		StudentPortal: handler.NewStudentPortalHandler(testService, submissionService, reviewService, registry),
		Session:       handler.NewSessionHandler(sessionDeps, sessionOpts, registry, log, cfg.AllowedOrigins),
		System:        handler.NewSystemHandler(pool, rdb, registry, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	autosaveWorker := worker.NewAutosaveWorker(rdb, answerBuffer, submissionRepo, cfg.AutosaveBatchSize, log)
	go func() {
		defer close(workerDone)
		autosaveWorker.Start(workerCtx)
	}()

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Active tests are cached before the first student connects.
	if err := testService.PrewarmActiveTests(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, router.DefaultLimiters(), cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout). Hijacked WebSocket
	// connections are not tracked by Shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Flush every live session into the answer buffer.
	log.Info().Int("sessions", registry.Len()).Msg("Closing live sessions")
	registry.CloseAll()

	// 3. Stop background workers and wait for the queue to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Autosave worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
