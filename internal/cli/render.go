package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JonMunkholm/salesstage/internal/build"
	"github.com/JonMunkholm/salesstage/internal/core"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderIngestion(w io.Writer, res *core.IngestionResult) {
	t := newTable(w)
	t.SetTitle("Ingestion " + res.ID.String())
	t.AppendRows([]table.Row{
		{"source", res.Source},
		{"rows", res.Rows},
		{"mode", res.Mode},
		{"date format", res.DateFormat},
		{"delimiter", strconv.QuoteRune(res.Dialect.Delimiter)},
		{"staging table", res.StagingTable},
		{"cleared", clearLabel(res.Load)},
		{"duration", res.Duration.Round(time.Millisecond)},
	})
	switch {
	case res.Build != nil:
		t.AppendRow(table.Row{"build", runStatus(res.Build)})
	case res.BuildError != "":
		t.AppendRow(table.Row{"build", text.FgRed.Sprint(res.BuildError)})
	}
	t.Render()

	renderMapping(w, res.Mapping, res.Header, nil)
}

func clearLabel(s core.LoadStats) string {
	if !s.Cleared {
		return "no"
	}
	return "yes (" + string(s.ClearMethod) + ")"
}

func renderInspection(w io.Writer, insp *core.Inspection, columns []string) {
	fmt.Fprintf(w, "%s: delimiter %s, %d source columns\n",
		insp.Source, strconv.QuoteRune(insp.Dialect.Delimiter), len(insp.SourceHeader))

	var first []string
	if len(insp.Preview) > 0 {
		first = insp.Preview[0]
	}
	sample := make(map[string]string, len(insp.SourceHeader))
	for i, h := range insp.SourceHeader {
		if i < len(first) {
			sample[h] = first[i]
		}
	}
	renderMapping(w, insp.Mapping, columns, sample)
}

// renderMapping prints one row per staging column. sample, when set, maps a
// source label to its first value.
func renderMapping(w io.Writer, mapping map[string]string, columns []string, sample map[string]string) {
	t := newTable(w)
	header := table.Row{"column", "source header"}
	if sample != nil {
		header = append(header, "first value")
	}
	t.AppendHeader(header)

	for _, col := range columns {
		src, ok := mapping[col]
		row := table.Row{col, src}
		if !ok {
			row[1] = text.FgRed.Sprint("(missing)")
		}
		if sample != nil {
			row = append(row, sample[src])
		}
		t.AppendRow(row)
	}
	t.Render()
}

func renderRun(w io.Writer, res *build.Result) {
	t := newTable(w)
	t.SetTitle("Build " + res.RunID)
	t.AppendRows([]table.Row{
		{"runner", res.Runner},
		{"status", runStatus(res)},
		{"started", res.StartedAt.Local().Format(time.DateTime)},
		{"duration", res.Duration().Round(time.Millisecond)},
	})
	if res.Step != "" {
		t.AppendRow(table.Row{"step", res.Step})
	}
	t.Render()

	if tail := strings.TrimRight(res.Tail, "\n"); tail != "" {
		fmt.Fprintln(w, tail)
	}
}

func renderRuns(w io.Writer, runs []*build.Result) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "(no builds recorded)")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"run id", "runner", "status", "started", "duration", "step"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.RunID,
			r.Runner,
			runStatus(r),
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration().Round(time.Second),
			r.Step,
		})
	}
	t.Render()
}

func runStatus(r *build.Result) string {
	switch {
	case r.OK:
		return text.FgGreen.Sprint("ok")
	case r.TimedOut:
		return text.FgRed.Sprint("timed out")
	case r.ExitCode != nil:
		return text.FgRed.Sprintf("failed (exit %d)", *r.ExitCode)
	default:
		return text.FgRed.Sprint("failed")
	}
}
