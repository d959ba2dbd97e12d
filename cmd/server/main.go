// Grogi - Reality-Check Chat Agent Server
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

	"github.com/grogi/agent-server/internal/api"
	"github.com/grogi/agent-server/internal/config"
	"github.com/grogi/agent-server/internal/graph"
	"github.com/grogi/agent-server/internal/identity"
	"github.com/grogi/agent-server/internal/middleware"
	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/ports/ddg"
	"github.com/grogi/agent-server/internal/ports/docext"
	"github.com/grogi/agent-server/internal/ports/openai"
	"github.com/grogi/agent-server/internal/prompts"
	"github.com/grogi/agent-server/internal/score"
	"github.com/grogi/agent-server/internal/session"
	"github.com/grogi/agent-server/internal/stage"
	"github.com/grogi/agent-server/internal/store"
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

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	pack, err := prompts.Load()
	if err != nil {
		slog.Error("Failed to load prompt pack", "error", err)
		os.Exit(1)
	}

	openaiCfg := openai.ConfigFromEnv()
	gen, err := openai.New(openaiCfg)
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		os.Exit(1)
	}
	slog.Info("Model client ready", "model", openaiCfg.Model, "base_url", openaiCfg.BaseURL)

	searcher := ddg.New(ddg.Config{DefaultRegion: cfg.SearchRegion})

	var extractor ports.DocumentExtractor
	if cfg.DocExtractEndpoint != "" {
		extractor, err = docext.New(docext.Config{Endpoint: cfg.DocExtractEndpoint})
		if err != nil {
			slog.Error("Failed to initialize document extractor", "error", err)
			os.Exit(1)
		}
		slog.Info("Document extractor ready", "endpoint", cfg.DocExtractEndpoint)
	} else {
		slog.Info("Document extraction disabled (DOCEXT_ENDPOINT not set)")
	}

	// Ephemeral per-session caches with background eviction.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.NewStore(cfg.PendingTTL, cfg.DocumentTTL)
	sessions.StartSweepers(ctx)
	slog.Info("Session caches ready", "pending_ttl", cfg.PendingTTL, "document_ttl", cfg.DocumentTTL)

	scorer := score.NewCalculator(gen, pack.FallbackSummary)

	stages := stage.New(stage.Config{
		Generator:    gen,
		Searcher:     searcher,
		Extractor:    extractor,
		Sessions:     sessions,
		Pack:         pack,
		Scorer:       scorer,
		SearchRegion: cfg.SearchRegion,
	})

	turnGraph, err := stage.BuildTurnGraph(stages)
	if err != nil {
		slog.Error("Failed to build turn graph", "error", err)
		os.Exit(1)
	}
	exec, err := graph.NewExecutor(turnGraph)
	if err != nil {
		slog.Error("Failed to initialize executor", "error", err)
		os.Exit(1)
	}
	slog.Info("Turn graph compiled")

	handler := api.New(repo, exec, gen, pack, cfg, openaiCfg.Model)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	handler.RegisterRoutes(r)

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
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
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL != "" {
		return []string{cfg.FrontendURL}
	}
	return []string{"*"}
}
