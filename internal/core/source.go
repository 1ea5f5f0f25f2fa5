package core

// source.go opens staged sources. A source is a local file that may be plain
// CSV, gzip or zstd compressed CSV, or an .xlsx workbook. Workbooks are
// converted to a CSV file once (first sheet only) so the two passes of the
// transform read the same bytes.

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"
)

// SourceKind is the container format of a source file.
type SourceKind string

const (
	KindCSV     SourceKind = "csv"
	KindGzipCSV SourceKind = "csv.gz"
	KindZstdCSV SourceKind = "csv.zst"
	KindXLSX    SourceKind = "xlsx"
)

// DetectSourceKind infers the kind from a file name or URL path.
func DetectSourceKind(name string) SourceKind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return KindGzipCSV
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		return KindZstdCSV
	case strings.HasSuffix(lower, ".xlsx"):
		return KindXLSX
	default:
		return KindCSV
	}
}

// Suffix returns the temp file suffix used for the kind.
func (k SourceKind) Suffix() string {
	return "." + string(k)
}

// Source is a local file to stage.
type Source struct {
	Path     string
	Name     string
	Kind     SourceKind
	Encoding SourceEncoding
}

// NewSource describes the file at path. Name is the caller-facing name used
// for kind detection and logging; it defaults to the base of path.
func NewSource(path, name string, enc SourceEncoding) Source {
	if name == "" {
		name = filepath.Base(path)
	}
	kind := DetectSourceKind(name)
	if kind == KindCSV {
		// Temp files keep the real suffix even when the caller's name has none.
		kind = DetectSourceKind(path)
	}
	return Source{Path: path, Name: name, Kind: kind, Encoding: enc}
}

// Open returns the decoded text of a CSV source. Closing the reader closes
// every layer.
func (s Source) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	var raw io.Reader = f
	closers := []io.Closer{f}

	switch s.Kind {
	case KindGzipCSV:
		zr, err := kgzip.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, &FormatError{Reason: "invalid gzip stream", Err: err}
		}
		raw = zr
		closers = append(closers, zr)
	case KindZstdCSV:
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, &FormatError{Reason: "invalid zstd stream", Err: err}
		}
		raw = zr
		closers = append(closers, zstdCloser{zr})
	case KindXLSX:
		f.Close()
		return nil, fmt.Errorf("open source: workbook %s must be converted first", s.Name)
	}

	return &layeredReader{Reader: NewTextReader(raw, s.Encoding), closers: closers}, nil
}

// ReadSample returns up to n characters from the start of the source.
func (s Source) ReadSample(n int) (string, error) {
	rc, err := s.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		r, _, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", wrapStreamError(err)
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// wrapStreamError turns corrupt-container errors into FormatErrors.
func wrapStreamError(err error) error {
	if errors.Is(err, kgzip.ErrChecksum) || errors.Is(err, kgzip.ErrHeader) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, zstd.ErrMagicMismatch) {
		return &FormatError{Reason: "corrupt compressed source", Err: err}
	}
	return fmt.Errorf("read source: %w", err)
}

// ConvertWorkbook writes the first sheet of the workbook at path to dst as
// comma-separated CSV.
func ConvertWorkbook(path string, dst io.Writer) error {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return &FormatError{Reason: "invalid xlsx workbook", Err: err}
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return &FormatError{Reason: "workbook has no sheets"}
	}

	rows, err := wb.Rows(sheets[0])
	if err != nil {
		return &FormatError{Reason: "read workbook sheet", Err: err}
	}
	defer rows.Close()

	w := csv.NewWriter(dst)
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return &FormatError{Reason: "read workbook row", Err: err}
		}
		if err := w.Write(cols); err != nil {
			return fmt.Errorf("write converted row: %w", err)
		}
	}
	if err := rows.Error(); err != nil {
		return &FormatError{Reason: "read workbook sheet", Err: err}
	}
	w.Flush()
	return w.Error()
}

// Materialize converts workbook sources to a CSV temp file in dir. The
// returned cleanup removes anything Materialize created.
func (s Source) Materialize(dir string) (Source, func(), error) {
	if s.Kind != KindXLSX {
		return s, func() {}, nil
	}

	out, err := os.CreateTemp(dir, "workbook-*.csv")
	if err != nil {
		return s, func() {}, fmt.Errorf("create workbook temp file: %w", err)
	}
	cleanup := func() { os.Remove(out.Name()) }

	if err := ConvertWorkbook(s.Path, out); err != nil {
		out.Close()
		cleanup()
		return s, func() {}, err
	}
	if err := out.Close(); err != nil {
		cleanup()
		return s, func() {}, fmt.Errorf("close workbook temp file: %w", err)
	}

	// Cell values are UTF-8 whatever the configured source encoding.
	return Source{Path: out.Name(), Name: s.Name, Kind: KindCSV, Encoding: EncodingUTF8}, cleanup, nil
}

type layeredReader struct {
	io.Reader
	closers []io.Closer
}

// Close closes layers outermost first.
func (l *layeredReader) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}
