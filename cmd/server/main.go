package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/salesstage/internal/app"
	"github.com/JonMunkholm/salesstage/internal/build"
	"github.com/JonMunkholm/salesstage/internal/config"
	"github.com/JonMunkholm/salesstage/internal/inbox"
	"github.com/JonMunkholm/salesstage/internal/logging"
	"github.com/JonMunkholm/salesstage/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireDatabase(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"staging_table", cfg.Ingest.StagingTable,
		"build_runner", cfg.Build.RunnerName(),
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"inbox", cfg.Inbox.Dir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.Open(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	server := web.NewServer(a.Ingest, a.Builds, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.Builds.StartRetention(gctx, build.RetentionConfig{
			RetentionDays: cfg.Build.RetentionDays,
			Interval:      cfg.Build.PruneInterval,
		})
		return nil
	})

	if cfg.Inbox.Dir != "" {
		w, err := inbox.New(cfg.Inbox, a.Ingest)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for running ingestions before closing the listener
		status := a.Ingest.Health(shutdownCtx).Ingests
		if status.Active > 0 {
			slog.Info("waiting for ingestions to complete", "active", status.Active)
			if err := a.Ingest.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("ingestions did not complete in time", "error", err)
			} else {
				slog.Info("all ingestions completed")
			}
		}

		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
