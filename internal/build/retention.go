package build

// retention.go prunes old runs from the run log. It runs immediately on
// start and then every interval until the context is cancelled. A failed
// prune is logged and retried at the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig controls run log pruning.
type RetentionConfig struct {
	RetentionDays int           // Days to keep runs (default: 30)
	Interval      time.Duration // How often to prune (default: 24h)
}

// StartRetention blocks, pruning the run log periodically. It returns
// immediately when no run log is configured.
func (s *Service) StartRetention(ctx context.Context, cfg RetentionConfig) {
	if s.store == nil {
		return
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}

	slog.Info("build run retention started",
		"retention_days", cfg.RetentionDays,
		"interval", cfg.Interval,
	)

	s.prune(ctx, cfg.RetentionDays)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("build run retention stopped")
			return
		case <-ticker.C:
			s.prune(ctx, cfg.RetentionDays)
		}
	}
}

// prune performs one retention cycle.
func (s *Service) prune(ctx context.Context, days int) {
	start := time.Now()
	cutoff := start.AddDate(0, 0, -days)

	n, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		slog.Error("prune build runs failed", "error", err)
		return
	}
	slog.Info("pruned build runs",
		"runs_pruned", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
