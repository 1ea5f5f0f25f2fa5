package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const stagedTwoRows = "data,produto\n2024-03-05,Camisa\n2024-03-06,Calça\n"

func newTestLoader(t *testing.T, db StagingDB, mutate func(*LoaderOptions)) *Loader {
	t.Helper()
	opts := LoaderOptions{
		Table:          "staging.raw_vendas_achatado",
		Columns:        []string{"data", "produto"},
		FallbackDelete: true,
		FallbackScope:  FallbackLock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	l, err := NewLoader(db, opts)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	return l
}

func TestParseLoadMode(t *testing.T) {
	tests := []struct {
		in   string
		want LoadMode
	}{
		{"full", ModeFull},
		{"FULL", ModeFull},
		{"full_refresh", ModeFull},
		{" Full ", ModeFull},
		{"incremental", ModeIncremental},
		{"", ModeIncremental},
		{"append", ModeIncremental},
	}
	for _, tt := range tests {
		if got := ParseLoadMode(tt.in); got != tt.want {
			t.Errorf("ParseLoadMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteTable(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"staging.raw_vendas_achatado", `"staging"."raw_vendas_achatado"`, false},
		{"vendas", `"vendas"`, false},
		{"SllupMarket.Vendas", `"SllupMarket"."Vendas"`, false},
		{`x"; DROP TABLE y; --`, `"x""; DROP TABLE y; --"`, false},
		{"a.b.c", "", true},
		{"staging.", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := QuoteTable(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("QuoteTable(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("QuoteTable(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoader_CopySQL(t *testing.T) {
	l := newTestLoader(t, newFakeStagingDB(), nil)
	want := `COPY "staging"."raw_vendas_achatado" ("data", "produto") FROM STDIN WITH (FORMAT csv, HEADER true)`
	if l.copySQL != want {
		t.Errorf("copySQL = %s, want %s", l.copySQL, want)
	}
}

func TestLoader_Incremental(t *testing.T) {
	db := newFakeStagingDB([]string{"2024-01-01", "Antigo"})
	l := newTestLoader(t, db, nil)

	stats, err := l.Load(context.Background(), strings.NewReader(stagedTwoRows), ModeIncremental)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if stats.Cleared || stats.RowsCopied != 2 {
		t.Errorf("stats = %+v, want 2 rows without clear", stats)
	}
	if got := len(db.snapshot()); got != 3 {
		t.Errorf("table has %d rows, want 3", got)
	}
	if db.ran("TRUNCATE") || db.ran("SAVEPOINT") {
		t.Error("incremental load must not clear the table")
	}
}

func TestLoader_FullTruncate(t *testing.T) {
	db := newFakeStagingDB([]string{"2024-01-01", "Antigo"})
	l := newTestLoader(t, db, nil)

	stats, err := l.Load(context.Background(), strings.NewReader(stagedTwoRows), ModeFull)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if stats.ClearMethod != ClearTruncate || !stats.Cleared {
		t.Errorf("stats = %+v, want truncate", stats)
	}
	if db.rowsBeforeCopy != 0 {
		t.Errorf("table had %d rows at COPY time, want 0", db.rowsBeforeCopy)
	}
	rows := db.snapshot()
	if len(rows) != 2 || rows[0][1] != "Camisa" {
		t.Errorf("table = %v, want only the new rows", rows)
	}
}

func TestLoader_FullFallbackToDelete(t *testing.T) {
	db := newFakeStagingDB([]string{"2024-01-01", "Antigo"})
	db.truncateErr = &pgconn.PgError{Code: "55P03", Message: "could not obtain lock"}
	l := newTestLoader(t, db, nil)

	stats, err := l.Load(context.Background(), strings.NewReader(stagedTwoRows), ModeFull)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if stats.ClearMethod != ClearDelete {
		t.Errorf("ClearMethod = %q, want %q", stats.ClearMethod, ClearDelete)
	}
	if !db.ran("ROLLBACK TO SAVEPOINT") {
		t.Error("fallback must roll back to the savepoint before DELETE")
	}
	if db.rowsBeforeCopy != 0 {
		t.Errorf("table had %d rows at COPY time, want 0", db.rowsBeforeCopy)
	}
	if got := len(db.snapshot()); got != 2 {
		t.Errorf("table has %d rows, want 2", got)
	}
}

func TestLoader_FallbackDisabled(t *testing.T) {
	old := []string{"2024-01-01", "Antigo"}
	db := newFakeStagingDB(old)
	db.truncateErr = &pgconn.PgError{Code: "55P03", Message: "could not obtain lock"}
	l := newTestLoader(t, db, func(o *LoaderOptions) { o.FallbackDelete = false })

	_, err := l.Load(context.Background(), strings.NewReader(stagedTwoRows), ModeFull)

	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Stage != StageClear {
		t.Fatalf("expected clear-stage LoadError, got %v", err)
	}
	if db.ran("DELETE FROM") {
		t.Error("DELETE must not run when fallback is disabled")
	}
	rows := db.snapshot()
	if len(rows) != 1 || rows[0][1] != "Antigo" {
		t.Errorf("table = %v, prior contents must be untouched", rows)
	}
	if db.rollbacks != 1 {
		t.Errorf("rollbacks = %d, want 1", db.rollbacks)
	}
}

func TestLoader_FallbackScope(t *testing.T) {
	tests := []struct {
		name       string
		scope      FallbackScope
		truncErr   error
		wantMethod ClearMethod
		wantErr    bool
	}{
		{"lock scope retries lock timeout", FallbackLock, &pgconn.PgError{Code: "55P03"}, ClearDelete, false},
		{"lock scope retries fk reference", FallbackLock, &pgconn.PgError{Code: "0A000"}, ClearDelete, false},
		{"lock scope keeps permission error", FallbackLock, &pgconn.PgError{Code: "42501"}, "", true},
		{"lock scope keeps non-pg error", FallbackLock, errConnReset, "", true},
		{"any scope retries permission error", FallbackAny, &pgconn.PgError{Code: "42501"}, ClearDelete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newFakeStagingDB()
			db.truncateErr = tt.truncErr
			l := newTestLoader(t, db, func(o *LoaderOptions) { o.FallbackScope = tt.scope })

			stats, err := l.Load(context.Background(), strings.NewReader(stagedTwoRows), ModeFull)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && stats.ClearMethod != tt.wantMethod {
				t.Errorf("ClearMethod = %q, want %q", stats.ClearMethod, tt.wantMethod)
			}
			if err != nil && !errors.Is(err, tt.truncErr) {
				t.Errorf("error should wrap the truncate failure: %v", err)
			}
		})
	}
}

func TestLoader_CopyFailureRollsBack(t *testing.T) {
	old := []string{"2024-01-01", "Antigo"}
	db := newFakeStagingDB(old)
	db.copyErr = &pgconn.PgError{Code: "22P04", Message: "bad copy file format"}
	l := newTestLoader(t, db, nil)

	_, err := l.Load(context.Background(), strings.NewReader(stagedTwoRows), ModeFull)

	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Stage != StageCopy {
		t.Fatalf("expected copy-stage LoadError, got %v", err)
	}
	if Kind(err) != KindLoad {
		t.Errorf("Kind() = %q, want %q", Kind(err), KindLoad)
	}
	if rows := db.snapshot(); len(rows) != 1 {
		t.Errorf("table = %v, truncate must be rolled back with the failed copy", rows)
	}
}

func TestLoader_BeginAndCommitFailures(t *testing.T) {
	db := newFakeStagingDB()
	db.beginErr = errConnReset
	l := newTestLoader(t, db, nil)

	_, err := l.Load(context.Background(), strings.NewReader(stagedTwoRows), ModeIncremental)
	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Stage != StageBegin {
		t.Fatalf("expected begin-stage LoadError, got %v", err)
	}

	db = newFakeStagingDB()
	db.commitErr = errConnReset
	l = newTestLoader(t, db, nil)

	_, err = l.Load(context.Background(), strings.NewReader(stagedTwoRows), ModeIncremental)
	if !errors.As(err, &loadErr) || loadErr.Stage != StageCommit {
		t.Fatalf("expected commit-stage LoadError, got %v", err)
	}
}

func TestLoader_LockTimeout(t *testing.T) {
	db := newFakeStagingDB()
	l := newTestLoader(t, db, func(o *LoaderOptions) { o.LockTimeout = 5 * time.Second })

	if _, err := l.Load(context.Background(), strings.NewReader(stagedTwoRows), ModeFull); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !db.ran("SET LOCAL lock_timeout = '5000ms'") {
		t.Errorf("lock timeout not applied, statements: %v", db.statements)
	}
}
