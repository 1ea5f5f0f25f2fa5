package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Step is one command of a local build, as arguments to the build tool.
type Step []string

func (s Step) String() string { return strings.Join(s, " ") }

// DefaultSteps installs packages and then builds, stopping at the first failure.
var DefaultSteps = []Step{
	{"deps"},
	{"build", "--fail-fast"},
}

// LocalRunner runs the build tool as a child process in the project directory.
type LocalRunner struct {
	Executable string
	ProjectDir string
	Steps      []Step
	Timeout    time.Duration
	TailLines  int
	// Env is appended to the current environment.
	Env []string
}

// Name implements Runner.
func (r *LocalRunner) Name() string { return "LOCAL" }

// Run executes every step in order. Output of all steps is merged into one
// tail, each step preceded by a "$ command" line. The first non-zero exit
// stops the run.
func (r *LocalRunner) Run(ctx context.Context) (*Result, error) {
	info, err := os.Stat(r.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("build project %s: %w", r.ProjectDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build project %s: not a directory", r.ProjectDir)
	}

	steps := r.Steps
	if len(steps) == 0 {
		steps = DefaultSteps
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	res := &Result{
		RunID:     uuid.NewString(),
		Runner:    r.Name(),
		StartedAt: time.Now().UTC(),
	}
	tail := newTailBuffer(r.TailLines)
	defer func() {
		res.Tail = tail.String()
		res.FinishedAt = time.Now().UTC()
	}()

	for _, step := range steps {
		command := r.Executable + " " + step.String()
		res.Step = command
		tail.Line("$ " + command)

		code, err := r.runStep(ctx, step, tail)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			slog.Warn("build step timed out", "run_id", res.RunID, "step", command, "timeout", r.Timeout)
			res.TimedOut = true
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err != nil {
			return res, fmt.Errorf("run %q: %w", command, err)
		}
		res.ExitCode = intPtr(code)
		if code != 0 {
			slog.Warn("build step failed", "run_id", res.RunID, "step", command, "exit_code", code)
			return res, nil
		}
	}

	res.OK = true
	res.Step = ""
	return res, nil
}

// runStep returns the exit code of one step. err is set only when the
// process could not be run at all.
func (r *LocalRunner) runStep(ctx context.Context, step Step, out *tailBuffer) (int, error) {
	cmd := exec.CommandContext(ctx, r.Executable, step...)
	cmd.Dir = r.ProjectDir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
