package cli

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/salesstage/internal/core"
	"github.com/JonMunkholm/salesstage/internal/inbox"
)

func newWatchCmd(o *rootOptions) *cobra.Command {
	var ro requestOptions

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Ingest every export dropped into a folder",
		Long: `Watch a folder (INBOX_DIR by default) and ingest each export once it stops
changing. Ingested files move to Processed/, failed ones to Failed/ next to a
.error file with the reason. Runs until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.cfg.Inbox
			if len(args) == 1 {
				cfg.Dir = args[0]
			}
			flags := cmd.Flags()
			if flags.Changed("mode") {
				cfg.Mode = ro.mode
			}
			if flags.Changed("date-format") {
				cfg.DateFormat = ro.dateFormat
			}
			if flags.Changed("run-build") {
				cfg.RunBuild = ro.runBuild
			}

			a, err := o.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := inbox.New(cfg, a.Ingest)
			if err != nil {
				return err
			}
			return w.Run(cmd.Context())
		},
	}

	addRequestFlags(cmd.Flags(), &ro, string(core.ModeFull))
	_ = cmd.Flags().MarkHidden("header-map")
	return cmd
}
