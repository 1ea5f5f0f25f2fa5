package core

// streaming.go builds the reader stack every source passes through before
// CSV parsing. Nothing here buffers more than a read chunk:
//
//   - NewTextReader: strips a byte order mark and decodes the configured
//     source encoding to UTF-8. Invalid UTF-8 becomes U+FFFD.
//   - CountingReader: tracks bytes read and enforces an optional size cap.

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// SourceEncoding names the text encoding of an uploaded source.
type SourceEncoding string

const (
	EncodingUTF8        SourceEncoding = "utf-8"
	EncodingWindows1252 SourceEncoding = "windows-1252"
	EncodingLatin1      SourceEncoding = "latin1"
)

// ParseSourceEncoding accepts the usual spellings of the supported encodings.
// An empty string means UTF-8.
func ParseSourceEncoding(s string) (SourceEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "windows-1252", "cp1252":
		return EncodingWindows1252, nil
	case "latin1", "iso-8859-1":
		return EncodingLatin1, nil
	default:
		return "", &RequestError{Field: "encoding", Value: s, Reason: "must be utf-8, windows-1252 or latin1"}
	}
}

// NewTextReader returns r decoded to UTF-8 with any leading BOM removed.
func NewTextReader(r io.Reader, enc SourceEncoding) io.Reader {
	switch enc {
	case EncodingWindows1252:
		return transform.NewReader(r, charmap.Windows1252.NewDecoder())
	case EncodingLatin1:
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	default:
		// BOMOverride also honours UTF-16 BOMs from spreadsheet exports.
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	}
}

// ErrFileTooLarge is returned by a CountingReader that passed its limit.
var ErrFileTooLarge = errors.New("file too large")

// CountingReader wraps an io.Reader to track bytes read.
// When Limit is positive, reading more than Limit bytes fails with
// ErrFileTooLarge.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Limit     int64
}

// NewCountingReader creates a counting reader with an optional limit (0 disables it).
func NewCountingReader(r io.Reader, limit int64) *CountingReader {
	return &CountingReader{
		reader: r,
		Limit:  limit,
	}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.Limit > 0 && r.BytesRead > r.Limit {
		return n, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, r.Limit)
	}
	return n, err
}
