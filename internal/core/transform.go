package core

// transform.go turns a source into the staged CSV the loader copies.
//
// The source is read twice. Prepare reads a sample to detect the dialect,
// then the header and a few preview rows, and resolves the header against the
// catalog. Transform re-reads the source from the start and writes the
// header of canonical columns followed by every normalized data row. No full
// file is ever held in memory.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/JonMunkholm/salesstage/internal/logging"
)

// ContextCheckInterval is how often (in rows) Transform checks for cancellation.
var ContextCheckInterval = 100

// TransformOptions tunes a Transformer. Zero values fall back to defaults.
type TransformOptions struct {
	SampleSize  int
	PreviewRows int
	FlushEvery  int
}

const (
	defaultSampleSize  = 10000
	defaultPreviewRows = 5
	defaultFlushEvery  = 50000
)

// Plan is the outcome of Prepare: everything needed to stage the source.
type Plan struct {
	Dialect Dialect
	Header  []string
	Mapping HeaderMapping
	Preview [][]string
}

// Transformer runs the two transform phases with a fixed catalog.
type Transformer struct {
	catalog *Catalog
	opts    TransformOptions
}

// NewTransformer creates a transformer for cat.
func NewTransformer(cat *Catalog, opts TransformOptions) *Transformer {
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSampleSize
	}
	if opts.PreviewRows < 0 {
		opts.PreviewRows = 0
	} else if opts.PreviewRows == 0 {
		opts.PreviewRows = defaultPreviewRows
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}
	return &Transformer{catalog: cat, opts: opts}
}

// Prepare detects the dialect, reads the header and preview rows, and
// resolves the header. overrides maps canonical columns to header labels.
func (t *Transformer) Prepare(src Source, overrides map[string]string) (*Plan, error) {
	sample, err := src.ReadSample(t.opts.SampleSize)
	if err != nil {
		return nil, err
	}
	dialect := DetectDialect(sample)

	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	cr := dialect.NewReader(rc)
	header, err := readRow(cr)
	if errors.Is(err, io.EOF) || (err == nil && isBlankRow(header)) {
		return nil, &FormatError{Reason: "no header", Err: ErrNoHeader}
	}
	if err != nil {
		return nil, err
	}
	header = slices.Clone(header)

	mapping, err := t.catalog.ResolveHeader(header, overrides)
	if err != nil {
		return nil, err
	}

	preview := make([][]string, 0, t.opts.PreviewRows)
	for len(preview) < t.opts.PreviewRows {
		row, err := readRow(cr)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		preview = append(preview, slices.Clone(row))
	}

	return &Plan{Dialect: dialect, Header: header, Mapping: mapping, Preview: preview}, nil
}

// Transform writes the staged CSV for src to w and returns the number of data
// rows written. Rows shorter than the header are padded; blank lines are
// skipped. Output is flushed every FlushEvery rows.
func (t *Transformer) Transform(ctx context.Context, src Source, plan *Plan, df DateFormat, w io.Writer) (int64, error) {
	rc, err := src.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	cr := plan.Dialect.NewReader(rc)
	if _, err := readRow(cr); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, &FormatError{Reason: "no header", Err: ErrNoHeader}
		}
		return 0, err
	}

	out := csv.NewWriter(w)
	if err := out.Write(t.catalog.Columns()); err != nil {
		return 0, fmt.Errorf("write staged header: %w", err)
	}

	norm := NewRowNormalizer(t.catalog, plan.Mapping, df)
	var rows int64
	for {
		if rows%int64(ContextCheckInterval) == 0 {
			if err := ctx.Err(); err != nil {
				return rows, err
			}
		}

		row, err := readRow(cr)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, err
		}
		if len(row) == 0 {
			continue
		}

		if err := out.Write(norm.Normalize(row)); err != nil {
			return rows, fmt.Errorf("write staged row: %w", err)
		}
		rows++

		if rows%int64(t.opts.FlushEvery) == 0 {
			out.Flush()
			if err := out.Error(); err != nil {
				return rows, fmt.Errorf("flush staged rows: %w", err)
			}
			logging.FromContext(ctx).Debug("staged rows flushed", "rows", rows)
		}
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return rows, fmt.Errorf("flush staged rows: %w", err)
	}
	return rows, nil
}

// readRow reads one record, mapping parse errors to FormatErrors and stream
// errors to corrupt-source errors.
func readRow(cr *csv.Reader) ([]string, error) {
	row, err := cr.Read()
	if err == nil || errors.Is(err, io.EOF) {
		return row, err
	}
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return nil, &FormatError{Reason: fmt.Sprintf("malformed csv at line %d", parseErr.Line), Err: err}
	}
	return nil, wrapStreamError(err)
}

func isBlankRow(row []string) bool {
	for _, f := range row {
		if f != "" {
			return false
		}
	}
	return true
}
