package cli

import (
	"io"

	"github.com/spf13/cobra"
)

func newInspectCmd(o *rootOptions) *cobra.Command {
	var headerMap map[string]string

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show how a file's header resolves without loading it",
		Long: `Detect the dialect and header of a local export and show which source
column feeds each staging column. Nothing is written to the warehouse, so no
DATABASE_URL is needed.`,
		Example: `  stagectl inspect vendas.csv
  stagectl inspect vendas.xlsx --header-map "sku=Cod. Produto" -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			insp, err := a.Ingest.Inspect(cmd.Context(), args[0], headerMap)
			if err != nil {
				return err
			}
			cols := a.Ingest.Catalog().Columns()
			return o.write(cmd.OutOrStdout(), insp, func(w io.Writer) { renderInspection(w, insp, cols) })
		},
	}

	cmd.Flags().StringToStringVar(&headerMap, "header-map", nil, "override header resolution, as column=Source Label (repeatable)")
	return cmd
}
