package cli

import (
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JonMunkholm/salesstage/internal/core"
)

// requestOptions are the flags shared by ingest and watch.
type requestOptions struct {
	mode       string
	dateFormat string
	headerMap  map[string]string
	runBuild   bool
}

func addRequestFlags(fs *pflag.FlagSet, ro *requestOptions, defaultMode string) {
	fs.StringVar(&ro.mode, "mode", defaultMode, "load mode: full clears the staging table first, anything else appends")
	fs.StringVar(&ro.dateFormat, "date-format", string(core.DateISO), "date format of the source (YYYY-MM-DD or DD/MM/YYYY)")
	fs.StringToStringVar(&ro.headerMap, "header-map", nil, "override header resolution, as column=Source Label (repeatable)")
	fs.BoolVar(&ro.runBuild, "run-build", false, "run the downstream build after a successful load")
}

func (ro requestOptions) request() (core.IngestRequest, error) {
	return core.NewIngestRequest(ro.mode, ro.dateFormat, ro.headerMap, ro.runBuild)
}

func newIngestCmd(o *rootOptions) *cobra.Command {
	var ro requestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file|url>",
		Short: "Stage one sales export",
		Long: `Stage one sales export into the staging table.

The source may be a local path or an http(s) URL. CSV, .csv.gz, .csv.zst and
.xlsx are accepted; the delimiter and header are detected.`,
		Example: `  # Replace the staging table with a local export
  stagectl ingest vendas.csv

  # Append a Brazilian-format export from a URL and build afterwards
  stagectl ingest https://example.com/vendas.csv.gz --mode incremental --date-format DD/MM/YYYY --run-build

  # Point a column at a header the aliases do not know
  stagectl ingest vendas.xlsx --header-map "qtde=Qtd. Vendida"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := ro.request()
			if err != nil {
				return err
			}

			a, err := o.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := core.ContextWithTrigger(cmd.Context(), "cli")
			var res *core.IngestionResult
			if isURL(args[0]) {
				res, err = a.Ingest.IngestURL(ctx, args[0], req)
			} else {
				res, err = a.Ingest.IngestFile(ctx, args[0], req)
			}
			if err != nil {
				return err
			}
			return o.write(cmd.OutOrStdout(), res, func(w io.Writer) { renderIngestion(w, res) })
		},
	}

	addRequestFlags(cmd.Flags(), &ro, string(core.ModeFull))
	return cmd
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
