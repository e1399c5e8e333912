package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	demomiddleware "github.com/tendant/chi-demo/middleware"
	rb "github.com/tendant/resource-builder/pkg/resourcebuilder"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/api"
	"github.com/tendant/resource-builder/pkg/resourcebuilder/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.FromEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx := context.Background()
	resolvers, cleanup, err := cfg.BuildResolverFactory(ctx, logger)
	if err != nil {
		slog.Error("Failed to build resolver factory", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	router, err := newRouter(cfg, resolvers, cfg.BuildFactory())
	if err != nil {
		slog.Error("Failed to build router", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		slog.Info("Resource server starting", "port", cfg.Port, "env", cfg.Environment,
			"database", cfg.DatabaseType, "storage", cfg.StorageURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
	}

	slog.Info("Server exiting")
}

// newRouter mounts the resource API under /resources next to the health
// endpoints
func newRouter(cfg *config.ServerConfig, resolvers *rb.ResolverFactory, factory *rb.Factory) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)

	handler := api.NewHandler(resolvers, factory)

	if cfg.APIKeySHA256 == "" {
		r.Mount("/resources", handler.Routes())
		return r, nil
	}

	apiKeyMiddleware, err := demomiddleware.ApiKeyMiddleware(demomiddleware.ApiKeyConfig{
		APIKeys: map[string]string{
			"default": cfg.APIKeySHA256,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API key middleware: %w", err)
	}
	r.Group(func(r chi.Router) {
		r.Use(apiKeyMiddleware)
		r.Mount("/resources", handler.Routes())
	})
	return r, nil
}
