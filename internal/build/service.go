package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JonMunkholm/salesstage/internal/config"
)

var (
	// ErrInProgress is returned when a build is already running.
	ErrInProgress = errors.New("a build is already running")

	// ErrNoRunLog is returned by Get and List when no run log is configured.
	ErrNoRunLog = errors.New("build run log is not configured")
)

// Service runs builds one at a time and records them in the run log.
type Service struct {
	runner Runner
	store  *Store

	mu sync.Mutex
}

// NewService combines a runner with an optional run log.
func NewService(runner Runner, store *Store) *Service {
	return &Service{runner: runner, store: store}
}

// NewFromConfig picks the local or remote runner and opens the run log.
func NewFromConfig(cfg config.BuildConfig) (*Service, error) {
	var runner Runner
	if cfg.Remote() {
		runner = NewRemoteRunner(cfg.RunnerURL, cfg.RunnerToken, cfg.Timeout)
	} else {
		runner = &LocalRunner{
			Executable: cfg.Executable,
			ProjectDir: cfg.ProjectDir,
			Timeout:    cfg.Timeout,
			TailLines:  cfg.TailLines,
		}
	}

	var store *Store
	if cfg.LogDB != "" {
		var err error
		if store, err = OpenStore(cfg.LogDB); err != nil {
			return nil, err
		}
	}
	return NewService(runner, store), nil
}

// RunnerName reports the runner in use.
func (s *Service) RunnerName() string {
	return s.runner.Name()
}

// Run executes one build. It fails with ErrInProgress instead of queueing
// behind a running build.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	if !s.mu.TryLock() {
		return nil, ErrInProgress
	}
	defer s.mu.Unlock()

	slog.Info("build started", "runner", s.runner.Name())
	res, err := s.runner.Run(ctx)
	if res != nil && s.store != nil {
		if recErr := s.store.Record(context.WithoutCancel(ctx), res); recErr != nil {
			slog.Error("record build run failed", "run_id", res.RunID, "error", recErr)
		}
	}
	if err != nil {
		slog.Error("build failed to run", "runner", s.runner.Name(), "error", err)
		return res, err
	}

	slog.Info("build finished",
		"run_id", res.RunID,
		"ok", res.OK,
		"timeout", res.TimedOut,
		"duration_ms", res.Duration().Milliseconds(),
	)
	return res, nil
}

// Get returns a recorded run.
func (s *Service) Get(ctx context.Context, runID string) (*Result, error) {
	if s.store == nil {
		return nil, ErrNoRunLog
	}
	return s.store.Get(ctx, runID)
}

// List returns the most recent recorded runs.
func (s *Service) List(ctx context.Context, limit int) ([]*Result, error) {
	if s.store == nil {
		return nil, ErrNoRunLog
	}
	return s.store.List(ctx, limit)
}

// Close closes the run log.
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close run log: %w", err)
	}
	return nil
}
