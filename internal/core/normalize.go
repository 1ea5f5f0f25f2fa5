package core

// normalize.go rewrites source values into the forms the warehouse casts
// reliably. Only two rewrites exist:
//
//   - Dates in DD/MM/YYYY become YYYY-MM-DD when the caller says so.
//   - pt-BR decimals ("1.234,56") become dot decimals ("1234.56") in
//     numeric columns.
//
// Anything that does not match is passed through untouched; type checking
// is left to the downstream build.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DateFormat is the caller-declared format of the date column.
type DateFormat string

const (
	DateISO DateFormat = "YYYY-MM-DD"
	DateBR  DateFormat = "DD/MM/YYYY"
)

// ParseDateFormat accepts the two supported format strings. An empty string
// means DateISO.
func ParseDateFormat(s string) (DateFormat, error) {
	switch DateFormat(strings.TrimSpace(s)) {
	case "", DateISO:
		return DateISO, nil
	case DateBR:
		return DateBR, nil
	default:
		return "", &RequestError{Field: "date_format", Value: s, Reason: fmt.Sprintf("must be %s or %s", DateISO, DateBR)}
	}
}

// ptBRDecimal matches "1.234,56", "-0,5" and "1234,5", but not "1234.5" or "1.234".
var ptBRDecimal = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})*,\d+$|^-?\d+,\d+$`)

// NormalizeDecimal trims v and converts a pt-BR decimal to dot notation.
// Other values come back trimmed, so " 12 " stages as "12". Empty input is
// returned as is.
func NormalizeDecimal(v string) string {
	if v == "" {
		return v
	}
	s := strings.TrimSpace(v)
	if ptBRDecimal.MatchString(s) {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return s
}

// NormalizeDate converts D/M/Y to Y-MM-DD when df is DateBR. The year is kept
// verbatim while day and month are zero padded. Values without three
// non-empty numeric parts are returned unchanged.
func NormalizeDate(v string, df DateFormat) string {
	if df != DateBR || !strings.Contains(v, "/") {
		return v
	}
	parts := strings.Split(v, "/")
	if len(parts) != 3 {
		return v
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return v
		}
	}
	day, err := strconv.Atoi(parts[0])
	if err != nil || day < 0 {
		return v
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 0 {
		return v
	}
	return fmt.Sprintf("%s-%02d-%02d", parts[2], month, day)
}

// RowNormalizer projects source rows onto the canonical columns.
type RowNormalizer struct {
	columns    []string
	indexes    []int
	numeric    []bool
	dateCol    int
	dateFormat DateFormat
	out        []string
}

// NewRowNormalizer prepares a normalizer for one resolved source header.
func NewRowNormalizer(cat *Catalog, mapping HeaderMapping, df DateFormat) *RowNormalizer {
	cols := cat.Columns()
	n := &RowNormalizer{
		columns:    cols,
		indexes:    make([]int, len(cols)),
		numeric:    make([]bool, len(cols)),
		dateCol:    -1,
		dateFormat: df,
		out:        make([]string, len(cols)),
	}
	for i, col := range cols {
		n.indexes[i] = mapping[col]
		n.numeric[i] = cat.IsNumeric(col)
		if col == "data" {
			n.dateCol = i
		}
	}
	return n
}

// Normalize returns the canonical row for a source row. The returned slice
// is reused by the next call.
func (n *RowNormalizer) Normalize(row []string) []string {
	for i, idx := range n.indexes {
		v := ""
		// Short rows read as padded with empty fields.
		if idx < len(row) {
			v = row[idx]
		}
		switch {
		case i == n.dateCol:
			v = NormalizeDate(v, n.dateFormat)
		case n.numeric[i]:
			v = NormalizeDecimal(v)
		}
		n.out[i] = v
	}
	return n.out
}
