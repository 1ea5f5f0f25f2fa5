package core

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/salesstage/internal/build"
)

// StagingTx is the slice of a database transaction the loader needs.
// Satisfied by the pgx adapter in pg.go and by test fakes.
type StagingTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyCSV(ctx context.Context, r io.Reader, sql string) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// StagingDB starts staging transactions.
type StagingDB interface {
	Begin(ctx context.Context) (StagingTx, error)
}

// LoadMode selects whether the staging table is cleared before loading.
type LoadMode string

const (
	ModeFull        LoadMode = "full"
	ModeIncremental LoadMode = "incremental"
)

// ParseLoadMode maps a caller-supplied mode to a LoadMode. Any value starting
// with "full" (case-insensitive) is ModeFull; everything else, including the
// empty string, is ModeIncremental.
func ParseLoadMode(s string) LoadMode {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "full") {
		return ModeFull
	}
	return ModeIncremental
}

// ClearMethod records how a full load emptied the staging table.
type ClearMethod string

const (
	ClearNone     ClearMethod = ""
	ClearTruncate ClearMethod = "truncate"
	ClearDelete   ClearMethod = "delete"
)

// LoadStats describes a committed load.
type LoadStats struct {
	Mode        LoadMode    `json:"mode"`
	Cleared     bool        `json:"cleared"`
	ClearMethod ClearMethod `json:"clear_method,omitempty"`
	RowsCopied  int64       `json:"rows_copied"`
}

// IngestRequest carries the caller parameters shared by every entry point.
type IngestRequest struct {
	Mode       LoadMode
	DateFormat DateFormat
	HeaderMap  map[string]string
	RunBuild   bool
}

// NewIngestRequest validates raw caller parameters.
func NewIngestRequest(mode, dateFormat string, headerMap map[string]string, runBuild bool) (IngestRequest, error) {
	df, err := ParseDateFormat(dateFormat)
	if err != nil {
		return IngestRequest{}, err
	}
	return IngestRequest{
		Mode:       ParseLoadMode(mode),
		DateFormat: df,
		HeaderMap:  headerMap,
		RunBuild:   runBuild,
	}, nil
}

// IngestionResult is returned by a successful ingestion.
type IngestionResult struct {
	ID           uuid.UUID         `json:"id"`
	Source       string            `json:"source"`
	Rows         int64             `json:"rows"`
	Mode         LoadMode          `json:"mode"`
	DateFormat   DateFormat        `json:"date_format"`
	Dialect      Dialect           `json:"dialect"`
	Header       []string          `json:"header"`
	SourceHeader []string          `json:"source_header"`
	Mapping      map[string]string `json:"mapping"`
	Preview      [][]string        `json:"preview"`
	StagingTable string            `json:"staging_table"`
	Load         LoadStats         `json:"load"`
	Duration     time.Duration     `json:"duration_ns"`
	Build        *build.Result     `json:"build,omitempty"`
	BuildError   string            `json:"build_error,omitempty"`
}

// Inspection is the dry-run result of Inspect: the first phase only.
type Inspection struct {
	Source       string            `json:"source"`
	Dialect      Dialect           `json:"dialect"`
	SourceHeader []string          `json:"source_header"`
	Mapping      map[string]string `json:"mapping"`
	Preview      [][]string        `json:"preview"`
}
