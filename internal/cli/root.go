// Package cli provides the stagectl command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/salesstage/internal/app"
	"github.com/JonMunkholm/salesstage/internal/config"
	"github.com/JonMunkholm/salesstage/internal/core"
	"github.com/JonMunkholm/salesstage/internal/logging"
)

// Version is set at build time.
var Version = "dev"

const (
	outputText = "text"
	outputJSON = "json"
)

// rootOptions holds the persistent flags and the loaded configuration.
type rootOptions struct {
	envFile  string
	output   string
	logLevel string

	cfg *config.Config
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	o := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "stagectl",
		Short: "Stage sales exports into the warehouse",
		Long: `stagectl loads sales exports (CSV, gzip or zstd CSV, xlsx) into the
warehouse staging table and runs the downstream build.

Configuration comes from the environment, optionally seeded from a .env file.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
				return nil
			}
			return o.load(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "dotenv file to read before the environment (missing is fine)")
	rootCmd.PersistentFlags().StringVarP(&o.output, "output", "o", outputText, "output format (text|json)")
	rootCmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{outputText, outputJSON}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newIngestCmd(o))
	rootCmd.AddCommand(newInspectCmd(o))
	rootCmd.AddCommand(newBuildCmd(o))
	rootCmd.AddCommand(newWatchCmd(o))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		return 1
	}
	return 0
}

// describe prefixes the technical error with its user-facing message when
// one applies.
func describe(err error) string {
	if core.IsUserFacing(err) {
		return core.FormatUserError(err) + "\n  " + err.Error()
	}
	return err.Error()
}

// load reads the dotenv file and the configuration, and sends logs to stderr
// so stdout carries only command output.
func (o *rootOptions) load(cmd *cobra.Command) error {
	if o.output != outputText && o.output != outputJSON {
		return fmt.Errorf("unknown output format %q", o.output)
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	logging.SetupWriter(cmd.ErrOrStderr(), level, cfg.Logging.Format)

	o.cfg = cfg
	return nil
}

// open wires the pipeline. Offline skips the warehouse.
func (o *rootOptions) open(ctx context.Context, offline bool) (*app.App, error) {
	return app.Open(ctx, o.cfg, app.Options{Offline: offline})
}

// write renders v as JSON or through text.
func (o *rootOptions) write(w io.Writer, v any, text func(io.Writer)) error {
	if o.output == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stagectl %s\n", Version)
		},
	}
}
