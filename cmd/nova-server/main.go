// Package main provides the Nova assistant server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/nova/internal/archive"
	"github.com/raphaelgruber/nova/internal/command"
	"github.com/raphaelgruber/nova/internal/config"
	"github.com/raphaelgruber/nova/internal/llm"
	"github.com/raphaelgruber/nova/internal/lookup"
	"github.com/raphaelgruber/nova/internal/memory"
	"github.com/raphaelgruber/nova/internal/metrics"
	"github.com/raphaelgruber/nova/internal/profile"
	"github.com/raphaelgruber/nova/internal/server"
	"github.com/raphaelgruber/nova/internal/turn"
	"github.com/raphaelgruber/nova/internal/userlog"
)

func main() {
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("failed to close log file", "error", err)
		}
	}()
	slog.SetDefault(logger)

	slog.Info("starting nova-server", "port", cfg.Port, "provider", cfg.LLMProvider, "model", cfg.LLMModel)

	collector := metrics.NewCollector()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	model, err := llm.NewModel(ctx, cfg, collector)
	cancel()
	if err != nil {
		slog.Error("failed to create model", "error", err)
		os.Exit(1)
	}

	store := memory.NewStore()
	exec := command.NewExecutor(logger)
	weather := lookup.NewWeatherClient(cfg.WeatherBaseURL, collector)
	news := lookup.NewNewsClient(collector)
	profiles := profile.NewService()
	users := userlog.New(cfg.DataDir)

	runner := &turn.Runner{
		Store:     store,
		Model:     model,
		Exec:      exec,
		Weather:   weather,
		News:      news,
		NewsCount: cfg.NewsFeedCount,
		Profiles:  profiles,
		Users:     users,
		Collector: collector,
		Logger:    logger,
	}

	// The archive is optional; the server runs in-memory only without it.
	if cfg.ArchiveEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		arch, err := archive.New(ctx, archive.Config{
			URL:       cfg.ArchiveURL,
			Namespace: cfg.ArchiveNamespace,
			Database:  cfg.ArchiveDatabase,
			Username:  cfg.ArchiveUser,
			Password:  cfg.ArchivePass,
		}, logger)
		if err != nil {
			cancel()
			slog.Error("failed to connect to archive", "error", err)
			os.Exit(1)
		}
		if err := arch.InitSchema(ctx); err != nil {
			cancel()
			slog.Error("failed to initialize archive schema", "error", err)
			os.Exit(1)
		}
		cancel()
		defer func() {
			if err := arch.Close(context.Background()); err != nil {
				slog.Error("failed to close archive", "error", err)
			}
		}()
		runner.Archive = arch
	}

	srv := server.New(server.Deps{
		Runner:    runner,
		Store:     store,
		Exec:      exec,
		Weather:   weather,
		News:      news,
		Users:     users,
		Profiles:  profiles,
		Collector: collector,
		Model:     model,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("listening", "url", "http://localhost:"+cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
