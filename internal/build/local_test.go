package build

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shRunner(t *testing.T, scripts ...string) *LocalRunner {
	t.Helper()
	steps := make([]Step, len(scripts))
	for i, s := range scripts {
		steps[i] = Step{"-c", s}
	}
	return &LocalRunner{
		Executable: "sh",
		ProjectDir: t.TempDir(),
		Steps:      steps,
		Timeout:    10 * time.Second,
		TailLines:  400,
	}
}

func TestLocalRunner_Success(t *testing.T) {
	r := shRunner(t, "echo installing", "echo building; echo done >&2")

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.OK)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.Empty(t, res.Step)
	assert.Equal(t, "LOCAL", res.Runner)
	assert.NotEmpty(t, res.RunID)
	assert.Contains(t, res.Tail, "$ sh -c echo installing")
	assert.Contains(t, res.Tail, "installing")
	assert.Contains(t, res.Tail, "done")
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestLocalRunner_StopsAtFirstFailure(t *testing.T) {
	r := shRunner(t, "echo deps; exit 3", "echo should-not-run")

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.OK)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
	assert.Equal(t, "sh -c echo deps; exit 3", res.Step)
	assert.NotContains(t, res.Tail, "should-not-run")
}

func TestLocalRunner_Timeout(t *testing.T) {
	r := shRunner(t, "exec sleep 5")
	r.Timeout = 100 * time.Millisecond

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.False(t, res.OK)
	assert.Nil(t, res.ExitCode)
}

func TestLocalRunner_MissingProject(t *testing.T) {
	r := shRunner(t, "true")
	r.ProjectDir = filepath.Join(t.TempDir(), "absent")

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build project")
}

func TestLocalRunner_MissingExecutable(t *testing.T) {
	r := shRunner(t, "true")
	r.Executable = "definitely-not-a-build-tool"

	res, err := r.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.OK)
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(2)
	_, err := tb.Write([]byte("a\nb\r\nc\npart"))
	require.NoError(t, err)
	_, err = tb.Write([]byte("ial"))
	require.NoError(t, err)

	assert.Equal(t, "c\npartial", tb.String())

	tb.Line("$ next")
	assert.Equal(t, []string{"partial", "$ next"}, strings.Split(tb.String(), "\n"))
}
