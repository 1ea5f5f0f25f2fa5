package core

// loader.go loads a staged CSV into the staging table in one transaction.
//
// Full mode clears the table first. TRUNCATE runs inside a savepoint; when it
// fails with an error the fallback policy accepts, the savepoint is rolled
// back and DELETE FROM is used instead. Readers therefore never observe an
// empty table: either the old contents or the new load are visible.
//
//	BEGIN
//	  [SET LOCAL lock_timeout]
//	  SAVEPOINT staging_clear            -- full mode only
//	  TRUNCATE TABLE t                   -- or, on fallback:
//	  ROLLBACK TO SAVEPOINT staging_clear; DELETE FROM t
//	  RELEASE SAVEPOINT staging_clear
//	  COPY t (cols) FROM STDIN (FORMAT csv, HEADER true)
//	COMMIT

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/salesstage/internal/logging"
)

// FallbackScope selects which TRUNCATE failures are retried with DELETE.
type FallbackScope string

const (
	// FallbackLock retries only lock, in-use and unsupported failures.
	FallbackLock FallbackScope = "lock"
	// FallbackAny retries every TRUNCATE failure.
	FallbackAny FallbackScope = "any"
)

// ParseFallbackScope returns FallbackLock for anything but "any".
func ParseFallbackScope(s string) FallbackScope {
	if strings.EqualFold(strings.TrimSpace(s), string(FallbackAny)) {
		return FallbackAny
	}
	return FallbackLock
}

// SQLSTATEs that make a TRUNCATE eligible for the DELETE fallback in
// FallbackLock scope.
var lockFallbackCodes = map[string]bool{
	"55P03": true, // lock_not_available
	"55006": true, // object_in_use
	"2BP01": true, // dependent_objects_still_exist
	"0A000": true, // feature_not_supported (referenced by a foreign key)
	"40P01": true, // deadlock_detected
	"57014": true, // query_canceled (lock_timeout, statement_timeout)
}

// Allows reports whether a TRUNCATE failure may fall back to DELETE.
func (s FallbackScope) Allows(err error) bool {
	if s == FallbackAny {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return lockFallbackCodes[pgErr.Code]
	}
	return false
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Table is the staging table, optionally schema-qualified.
	Table string
	// Columns is the COPY column list, in staged CSV order.
	Columns []string
	// FallbackDelete enables DELETE FROM when TRUNCATE fails.
	FallbackDelete bool
	// FallbackScope limits which TRUNCATE failures fall back.
	FallbackScope FallbackScope
	// LockTimeout is set with SET LOCAL before clearing when positive.
	LockTimeout time.Duration
}

// Loader copies staged CSV files into the staging table.
type Loader struct {
	db   StagingDB
	opts LoaderOptions

	table   string
	copySQL string
}

// NewLoader validates opts and prepares the quoted statements.
func NewLoader(db StagingDB, opts LoaderOptions) (*Loader, error) {
	table, err := QuoteTable(opts.Table)
	if err != nil {
		return nil, err
	}
	if len(opts.Columns) == 0 {
		return nil, errors.New("loader needs at least one column")
	}
	if opts.FallbackScope == "" {
		opts.FallbackScope = FallbackLock
	}

	cols := make([]string, len(opts.Columns))
	for i, c := range opts.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}

	return &Loader{
		db:      db,
		opts:    opts,
		table:   table,
		copySQL: fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv, HEADER true)", table, strings.Join(cols, ", ")),
	}, nil
}

// QuoteTable quotes "table" or "schema.table" as a SQL identifier.
func QuoteTable(name string) (string, error) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("staging table %q: expected table or schema.table", name)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("staging table %q: empty identifier", name)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

// Table returns the configured (unquoted) staging table name.
func (l *Loader) Table() string {
	return l.opts.Table
}

// Load copies the staged CSV from r into the staging table. In ModeFull the
// table is cleared in the same transaction. On any error the transaction is
// rolled back and a *LoadError is returned.
func (l *Loader) Load(ctx context.Context, r io.Reader, mode LoadMode) (stats LoadStats, err error) {
	logger := logging.WithFields(ctx, "table", l.opts.Table, "mode", mode)
	stats.Mode = mode

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return stats, &LoadError{Stage: StageBegin, Err: err}
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	if l.opts.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.opts.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return stats, &LoadError{Stage: StagePrepare, Err: err}
		}
	}

	if mode == ModeFull {
		method, err := l.clear(ctx, tx, logger)
		if err != nil {
			return stats, &LoadError{Stage: StageClear, Err: err}
		}
		stats.Cleared = true
		stats.ClearMethod = method
	}

	n, err := tx.CopyCSV(ctx, r, l.copySQL)
	if err != nil {
		return stats, &LoadError{Stage: StageCopy, Err: err}
	}
	stats.RowsCopied = n

	if err := tx.Commit(ctx); err != nil {
		return stats, &LoadError{Stage: StageCommit, Err: err}
	}

	logger.Info("staging load committed",
		"rows", n,
		"cleared", stats.Cleared,
		"clear_method", stats.ClearMethod,
	)
	return stats, nil
}

// clear empties the staging table, falling back from TRUNCATE to DELETE
// according to the configured policy.
func (l *Loader) clear(ctx context.Context, tx StagingTx, logger *slog.Logger) (ClearMethod, error) {
	if _, err := tx.Exec(ctx, "SAVEPOINT staging_clear"); err != nil {
		return ClearNone, fmt.Errorf("savepoint: %w", err)
	}

	_, truncErr := tx.Exec(ctx, "TRUNCATE TABLE "+l.table)
	if truncErr == nil {
		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT staging_clear"); err != nil {
			return ClearNone, fmt.Errorf("release savepoint: %w", err)
		}
		return ClearTruncate, nil
	}

	if !l.opts.FallbackDelete || !l.opts.FallbackScope.Allows(truncErr) {
		return ClearNone, fmt.Errorf("truncate: %w", truncErr)
	}

	logger.Warn("truncate failed, falling back to delete", "error", truncErr)

	if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT staging_clear"); err != nil {
		return ClearNone, fmt.Errorf("rollback to savepoint: %w", errors.Join(err, truncErr))
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+l.table); err != nil {
		return ClearNone, fmt.Errorf("delete after truncate failure (%v): %w", truncErr, err)
	}
	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT staging_clear"); err != nil {
		return ClearNone, fmt.Errorf("release savepoint: %w", err)
	}
	return ClearDelete, nil
}
