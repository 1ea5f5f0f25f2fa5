package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/salesstage/internal/build"
	"github.com/JonMunkholm/salesstage/internal/core"
)

func newBuildCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the downstream build and read its log",
	}
	cmd.AddCommand(newBuildRunCmd(o))
	cmd.AddCommand(newBuildLogsCmd(o))
	return cmd
}

func newBuildRunCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the build now",
		Long: `Run the build with the configured runner: in-process when DBT_RUNNER_URL
is empty or LOCAL, otherwise through the remote runner. Exits non-zero when
the build fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Builds.Run(core.ContextWithTrigger(cmd.Context(), "cli"))
			if err != nil {
				return err
			}
			if err := o.write(cmd.OutOrStdout(), res, func(w io.Writer) { renderRun(w, res) }); err != nil {
				return err
			}
			return buildOutcome(res)
		},
	}
}

// buildOutcome turns a failed result into an error for the exit code.
func buildOutcome(res *build.Result) error {
	switch {
	case res.OK:
		return nil
	case res.TimedOut:
		return fmt.Errorf("%w: timed out after %s", core.ErrBuildFailed, res.Duration().Round(time.Second))
	case res.ExitCode != nil:
		return fmt.Errorf("%w: %q exited with %d", core.ErrBuildFailed, res.Step, *res.ExitCode)
	default:
		return core.ErrBuildFailed
	}
}

func newBuildLogsCmd(o *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "List recent builds, or print one build's log",
		Example: `  stagectl build logs
  stagectl build logs 3f0c2a9e-5b1d-4f1e-9d6a-2c8e7b4a1f00`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				res, err := a.Builds.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return o.write(cmd.OutOrStdout(), res, func(w io.Writer) { renderRun(w, res) })
			}

			runs, err := a.Builds.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return o.write(cmd.OutOrStdout(), runs, func(w io.Writer) { renderRuns(w, runs) })
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}
