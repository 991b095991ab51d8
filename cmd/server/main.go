// Package main is the entrypoint for the StudyCoach API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/studycoach/internal/ai"
	"github.com/kiranshivaraju/studycoach/internal/api"
	"github.com/kiranshivaraju/studycoach/internal/api/handler"
	mw "github.com/kiranshivaraju/studycoach/internal/api/middleware"
	"github.com/kiranshivaraju/studycoach/internal/api/response"
	"github.com/kiranshivaraju/studycoach/internal/billing"
	"github.com/kiranshivaraju/studycoach/internal/cache"
	"github.com/kiranshivaraju/studycoach/internal/config"
	"github.com/kiranshivaraju/studycoach/internal/jobs"
	"github.com/kiranshivaraju/studycoach/internal/quota"
	"github.com/kiranshivaraju/studycoach/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Missing .env is fine in deployed environments
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "generator_provider", cfg.Generator.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create content generator
	generator, err := ai.NewGenerator(cfg.Generator)
	if err != nil {
		return fmt.Errorf("create content generator: %w", err)
	}
	slog.Info("content generator initialized", "provider", generator.Name())

	// 6. Create store and domain services
	pgStore := store.NewPostgresStore(pool)
	gate := quota.NewGate(pgStore)
	flashcards := ai.NewFlashcardService(generator, cfg.Generator.Timeout)

	runner := jobs.NewRunner(pgStore, flashcards, jobs.Config{
		MaxRepairPasses:     cfg.Jobs.MaxRepairPasses,
		MaxTransientRetries: cfg.Jobs.MaxTransientRetries,
		ProcessingTimeout:   cfg.Jobs.ProcessingTimeout,
		WatchdogInterval:    cfg.Jobs.WatchdogInterval,
	})
	runner.StartWatchdog(ctx)

	ingestor := billing.NewIngestor(pgStore, redisCache, billing.Config{
		WebhookSecret:      cfg.Billing.WebhookSecret,
		SignatureTolerance: cfg.Billing.SignatureTolerance,
		EventRetention:     cfg.Billing.EventRetention,
	})

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:   healthHandler(pgStore, redisCache),
		GenerateHandler: handler.NewGenerateHandler(gate, runner),
		StatusHandler:   handler.NewStatusHandler(pgStore),
		WebhookHandler:  handler.NewWebhookHandler(ingestor),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Let in-flight generation jobs reach a terminal state before exit
	runner.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
