// Songbird Terrace waiver signing server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/songbird-terrace/waivers/internal/api"
	"github.com/songbird-terrace/waivers/internal/app"
	"github.com/songbird-terrace/waivers/internal/backup"
	"github.com/songbird-terrace/waivers/internal/config"
	"github.com/songbird-terrace/waivers/internal/middleware"
	"github.com/songbird-terrace/waivers/internal/signing"
	"github.com/songbird-terrace/waivers/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "postgres", store.IsPostgresURL(cfg.DatabaseURL))

	components, err := app.Build(ctx, cfg, repo)
	if err != nil {
		slog.Error("Failed to initialize components", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := components.Close(); closeErr != nil {
			slog.Error("Failed to close components", "error", closeErr)
		}
	}()

	// Initialize services.
	dispatcher := backup.NewDispatcher(components.Pipeline, cfg.Backup.Timeout)
	manager := signing.NewManager(repo, dispatcher)

	// Initialize handlers.
	handler := api.NewHandler(repo, manager, components.Stager, components.Renderer, cfg.BaseURL)
	healthHandler := api.NewHealthHandler(repo, components.Pipeline.Channels(), cfg.Staging.Backend)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NoStore)
		handler.RegisterRoutes(r)
	})

	if components.Local != nil {
		api.RegisterDownloads(r, components.Local.Dir())
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start backup sweeper.
	if cfg.Backup.SweepEnabled && len(components.RetryPipeline.Channels()) > 0 {
		backup.NewSweeper(repo, components.RetryPipeline, cfg.Backup.SweepInterval, cfg.Backup.SweepGrace).Start(ctx)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Backups run detached from requests, so give in-flight ones a chance
	// to finish before the store closes.
	waitCtx, cancelWait := context.WithTimeout(context.Background(), cfg.Backup.Timeout)
	defer cancelWait()
	if err := dispatcher.Wait(waitCtx); err != nil {
		slog.Warn("Backup runs still in flight at shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}
