// SketchMotion - text to Manim animation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/sketchmotion/internal/api"
	"github.com/ashureev/sketchmotion/internal/app"
	"github.com/ashureev/sketchmotion/internal/config"
	"github.com/ashureev/sketchmotion/internal/events"
	"github.com/ashureev/sketchmotion/internal/identity"
	"github.com/ashureev/sketchmotion/internal/mcptool"
	"github.com/ashureev/sketchmotion/internal/middleware"
	"github.com/ashureev/sketchmotion/web"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close application", "error", closeErr)
		}
	}()

	if err := a.Renderer.Check(ctx); err != nil {
		slog.Warn("Renderer not ready, renders will fail until it is", "renderer", a.Renderer.Name(), "error", err)
	}

	if _, err := a.Pipeline.RecoverInterrupted(ctx); err != nil {
		slog.Error("Failed to recover interrupted jobs", "error", err)
		os.Exit(1)
	}
	a.Pipeline.StartSweeper(ctx, cfg.Jobs.SweepInterval, cfg.Jobs.Retention)

	// Cookieless callers get a fresh identity per request, so generation is
	// also capped per client address.
	window := cfg.RateLimit.WindowDuration
	limitByIP := middleware.RateLimit(
		middleware.NewRateLimiter(ctx, cfg.RateLimit.IPRequestsPerWindow, window), middleware.ClientIP)
	limitByUser := middleware.RateLimit(
		middleware.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, window),
		func(r *http.Request) string { return identity.UserIDFromContext(r.Context()) })
	limitGenerate := middleware.Chain(limitByIP, limitByUser)
	limitMCP := middleware.RateLimit(
		middleware.NewRateLimiter(ctx, cfg.RateLimit.IPRequestsPerWindow, window), middleware.ClientIP)

	apiHandler := api.NewHandler(a.Pipeline, api.Options{
		Info: api.ServerInfo{
			Provider:        a.Generator.Provider(),
			Model:           a.Generator.Model(),
			Renderer:        a.Renderer.Name(),
			DefaultQuality:  cfg.Render.Quality,
			MaxPromptLength: cfg.Jobs.MaxPromptLength,
		},
		Health: []api.HealthCheck{
			{Name: "database", Check: a.Repo.Ping},
			{Name: "renderer", Check: a.Renderer.Check},
		},
		RateLimit: limitGenerate,
		Stream: events.StreamOptions{
			KeepaliveInterval: cfg.SSE.KeepaliveInterval,
			RetryDelay:        cfg.SSE.RetryDelay,
		},
		OriginPatterns: originPatterns(cfg.FrontendURL),
	})

	pages, err := web.NewServer(a.Pipeline, web.Options{
		DefaultQuality: cfg.Render.Quality,
		RateLimit:      limitGenerate,
	})
	if err != nil {
		slog.Error("Failed to parse templates", "error", err)
		os.Exit(1)
	}

	mcpServer := mcptool.New(a.Pipeline, version, mcptool.Options{HidePaths: true})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	r.Handle("/mcp", mcptool.HTTPHandler(mcpServer, limitMCP))

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(a.Repo, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		pages.RegisterRoutes(r)
	})

	// Note: SSE and WebSocket streams require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

// originPatterns turns the frontend URL into a WebSocket origin pattern.
// Same-origin requests are always accepted.
func originPatterns(frontendURL string) []string {
	if frontendURL == "" {
		return nil
	}
	u, err := url.Parse(frontendURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
