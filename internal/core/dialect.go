package core

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// QuotingPolicy describes how fields are quoted in a source. Both policies
// read the same way; the policy is reported with the dialect.
type QuotingPolicy int

const (
	// QuoteMinimal quotes only fields that need it.
	QuoteMinimal QuotingPolicy = iota
	// QuoteAll quotes every field of every row.
	QuoteAll
)

func (q QuotingPolicy) String() string {
	if q == QuoteAll {
		return "all"
	}
	return "minimal"
}

// Dialect is the detected CSV format of a source.
type Dialect struct {
	Name             string
	Delimiter        rune
	Quote            rune
	Quoting          QuotingPolicy
	SkipInitialSpace bool
}

// ExcelDialect is the comma-separated default.
var ExcelDialect = Dialect{Name: "excel", Delimiter: ',', Quote: '"', Quoting: QuoteMinimal}

// SemicolonDialect is the usual export format of pt-BR spreadsheets.
var SemicolonDialect = Dialect{Name: "semicolon", Delimiter: ';', Quote: '"', Quoting: QuoteMinimal, SkipInitialSpace: true}

// Delimiters tried by the sniffer, in tie-break order.
var sniffDelimiters = []rune{',', ';', '\t', '|'}

// MarshalJSON renders runes as one-character strings.
func (d Dialect) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name             string `json:"name"`
		Delimiter        string `json:"delimiter"`
		Quote            string `json:"quotechar"`
		Quoting          string `json:"quoting"`
		SkipInitialSpace bool   `json:"skipinitialspace"`
	}{d.Name, string(d.Delimiter), string(d.Quote), d.Quoting.String(), d.SkipInitialSpace})
}

// NewReader returns a csv.Reader configured for the dialect. Rows may have
// any number of fields and stray quotes are kept as data.
func (d Dialect) NewReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = d.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = d.SkipInitialSpace
	cr.ReuseRecord = true
	return cr
}

// DetectDialect infers the dialect of a text sample.
//
// Each candidate delimiter is tried over the complete lines of the sample.
// A candidate qualifies when at least two records parse with the same field
// count greater than one. The qualifying candidate with the most fields wins.
// When none qualifies, the sample falls back to semicolon if it contains
// more ';' than ',', otherwise to excel. DetectDialect never fails.
func DetectDialect(sample string) Dialect {
	lines := completeLines(sample)

	best, bestFields := Dialect{}, 1
	for _, delim := range sniffDelimiters {
		if !strings.ContainsRune(lines, delim) {
			continue
		}
		if n, ok := consistentFields(lines, delim); ok && n > bestFields {
			best = Dialect{
				Name:             "sniffed",
				Delimiter:        delim,
				Quote:            '"',
				Quoting:          QuoteMinimal,
				SkipInitialSpace: skipsInitialSpace(lines, delim),
			}
			if quotesEveryField(lines, delim) {
				best.Quoting = QuoteAll
			}
			bestFields = n
		}
	}
	if bestFields > 1 {
		return best
	}

	if strings.Count(sample, ";") > strings.Count(sample, ",") {
		return SemicolonDialect
	}
	return ExcelDialect
}

// completeLines drops a trailing partial line when the sample was cut mid-row.
func completeLines(sample string) string {
	if strings.HasSuffix(sample, "\n") {
		return sample
	}
	if i := strings.LastIndexByte(sample, '\n'); i > 0 && strings.Count(sample[:i], "\n") >= 1 {
		return sample[:i+1]
	}
	return sample
}

// consistentFields parses lines with delim and reports the shared field count.
func consistentFields(lines string, delim rune) (int, bool) {
	cr := csv.NewReader(strings.NewReader(lines))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	fields, records := 0, 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, false
		}
		if records == 0 {
			fields = len(rec)
		} else if len(rec) != fields {
			return 0, false
		}
		records++
	}
	return fields, records >= 2 && fields > 1
}

// skipsInitialSpace reports whether every delimiter in the first line is
// followed by a space.
func skipsInitialSpace(lines string, delim rune) bool {
	first, _, _ := strings.Cut(lines, "\n")
	sep := string(delim)
	return strings.Count(first, sep) > 0 && strings.Count(first, sep) == strings.Count(first, sep+" ")
}

// quotesEveryField reports whether every line of the sample is a run of
// quoted fields. Quoted fields spanning lines make it false.
func quotesEveryField(lines string, delim rune) bool {
	seen := 0
	for _, line := range strings.Split(lines, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if !fieldsQuoted(line, delim) {
			return false
		}
		seen++
	}
	return seen > 0
}

// fieldsQuoted scans one line. Spaces before an opening quote are allowed;
// "" inside a quoted field is an escaped quote.
func fieldsQuoted(line string, delim rune) bool {
	start, quoted, closed := true, false, false
	for _, r := range line {
		switch {
		case start:
			if r == ' ' {
				continue
			}
			if r != '"' {
				return false
			}
			start, quoted, closed = false, true, false
		case quoted:
			if r == '"' {
				quoted, closed = false, true
			}
		case r == '"':
			quoted, closed = true, false
		case r == delim && closed:
			start = true
		default:
			return false
		}
	}
	return closed && !quoted && !start
}
