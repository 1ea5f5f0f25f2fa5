// Package app wires the staging pipeline from configuration. The server and
// the CLI share it so both entry points run the same pipeline.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/salesstage/internal/build"
	"github.com/JonMunkholm/salesstage/internal/config"
	"github.com/JonMunkholm/salesstage/internal/core"
)

// App holds the wired services.
type App struct {
	Config *config.Config
	Ingest *core.Service
	Builds *build.Service

	pool *pgxpool.Pool
}

// Options selects what Open connects to.
type Options struct {
	// Offline skips the warehouse connection. Only Inspect may be used.
	Offline bool
}

// Open connects to the warehouse, loads the alias catalog and opens the
// build service.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	cat, err := core.LoadCatalog(cfg.Ingest.AliasFile)
	if err != nil {
		return nil, err
	}
	slog.Debug("catalog loaded", "columns", cat.Len(), "alias_file", cfg.Ingest.AliasFile)

	builds, err := build.NewFromConfig(cfg.Build)
	if err != nil {
		return nil, err
	}
	a.Builds = builds

	var db core.StagingDB
	if !opts.Offline {
		if err := cfg.RequireDatabase(); err != nil {
			a.Close()
			return nil, err
		}
		pool, err := core.NewPool(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pool = pool
		db = core.NewPgStagingDB(pool)
		slog.Info("connected to database", "name", databaseName(cfg.Database.URL))
	}

	svc, err := core.NewService(db, cfg, cat, builds)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ingest = svc
	return a, nil
}

// Close releases the pool and the build run log.
func (a *App) Close() error {
	var errs []error
	if a.Builds != nil {
		errs = append(errs, a.Builds.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}

func databaseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
