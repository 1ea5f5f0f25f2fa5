// Package build triggers the downstream transformation build after a load
// and keeps a log of past runs.
//
// Builds run either in-process (LocalRunner, which shells out to the build
// tool) or on a separate runner service (RemoteRunner). Either way the
// outcome is a Result, recorded in a SQLite run log by Service.
package build

import (
	"context"
	"time"
)

// Runner executes one build.
//
// A build that ran but failed (non-zero exit, timeout) is reported through
// Result with a nil error. An error means the build could not be started or
// its outcome is unknown.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
	Name() string
}

// Result is the outcome of one build run.
type Result struct {
	RunID      string    `json:"run_id"`
	Runner     string    `json:"runner"`
	OK         bool      `json:"ok"`
	ExitCode   *int      `json:"exit_code"`
	Step       string    `json:"step,omitempty"`
	Tail       string    `json:"tail"`
	TimedOut   bool      `json:"timeout,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func intPtr(v int) *int { return &v }
