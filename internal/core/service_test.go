package core

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kgzip "github.com/klauspost/compress/gzip"

	"github.com/JonMunkholm/salesstage/internal/build"
	"github.com/JonMunkholm/salesstage/internal/config"
)

type fakeBuilder struct {
	res   *build.Result
	err   error
	calls int
}

func (b *fakeBuilder) Run(ctx context.Context) (*build.Result, error) {
	b.calls++
	return b.res, b.err
}

func testServiceConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Ingest: config.IngestConfig{
			StagingTable:    "staging.raw_vendas_achatado",
			FallbackDelete:  true,
			FallbackScope:   "lock",
			SampleSize:      10000,
			PreviewRows:     5,
			FlushEvery:      1,
			DownloadTimeout: 5 * time.Second,
			SourceEncoding:  "utf-8",
			TempDir:         t.TempDir(),
		},
		Upload: config.UploadConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 1,
			MaxWaitTime:   50 * time.Millisecond,
		},
	}
}

func newTestService(t *testing.T, db StagingDB, builder Builder) (*Service, *config.Config) {
	t.Helper()
	cfg := testServiceConfig(t)
	svc, err := NewService(db, cfg, nil, builder)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, cfg
}

func req(t *testing.T, mode, df string) IngestRequest {
	t.Helper()
	r, err := NewIngestRequest(mode, df, nil, false)
	if err != nil {
		t.Fatalf("NewIngestRequest() error = %v", err)
	}
	return r
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := kgzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// assertNoTempFiles fails if the pipeline left anything in its temp dir.
func assertNoTempFiles(t *testing.T, cfg *config.Config) {
	t.Helper()
	entries, err := os.ReadDir(cfg.Ingest.TempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	for _, e := range entries {
		t.Errorf("temp file left behind: %s", e.Name())
	}
}

func TestService_IngestReader(t *testing.T) {
	db := newFakeStagingDB([]string{"2020-01-01", "Antigo"})
	svc, cfg := newTestService(t, db, nil)

	res, err := svc.IngestReader(context.Background(), "vendas.csv", strings.NewReader(semicolonExport), req(t, "full", "DD/MM/YYYY"))
	if err != nil {
		t.Fatalf("IngestReader() error = %v", err)
	}

	if res.Rows != 2 || res.Load.RowsCopied != 2 {
		t.Errorf("Rows = %d, RowsCopied = %d, want 2", res.Rows, res.Load.RowsCopied)
	}
	if res.Mode != ModeFull || res.Load.ClearMethod != ClearTruncate {
		t.Errorf("Mode = %q, ClearMethod = %q", res.Mode, res.Load.ClearMethod)
	}
	if res.Dialect.Delimiter != ';' {
		t.Errorf("Dialect.Delimiter = %q", res.Dialect.Delimiter)
	}
	if res.StagingTable != "staging.raw_vendas_achatado" {
		t.Errorf("StagingTable = %q", res.StagingTable)
	}
	if res.Mapping["preco_unit"] != "Preço Unit." {
		t.Errorf("Mapping[preco_unit] = %q", res.Mapping["preco_unit"])
	}
	if len(res.Header) != DefaultCatalog().Len() || res.Header[0] != "data" {
		t.Errorf("Header = %v", res.Header)
	}
	if res.ID.String() == "" || res.Build != nil {
		t.Errorf("unexpected result %+v", res)
	}

	rows := db.snapshot()
	if len(rows) != 2 {
		t.Fatalf("table has %d rows, want 2", len(rows))
	}
	if rows[0][0] != "2024-03-05" || rows[0][11] != "1234.50" {
		t.Errorf("first row = %v", rows[0])
	}
	if rows[1][15] != "" {
		t.Errorf("short row should be padded, got %v", rows[1])
	}
	assertNoTempFiles(t, cfg)
}

func TestService_IngestFileKeepsSource(t *testing.T) {
	db := newFakeStagingDB()
	svc, cfg := newTestService(t, db, nil)

	path := filepath.Join(t.TempDir(), "vendas.csv.gz")
	if err := os.WriteFile(path, gzipBytes(t, semicolonExport), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := svc.IngestFile(context.Background(), path, req(t, "incremental", "DD/MM/YYYY"))
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}
	if res.Rows != 2 || res.Load.Cleared {
		t.Errorf("result = %+v", res)
	}
	if res.Source != "vendas.csv.gz" {
		t.Errorf("Source = %q", res.Source)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("source file must be left in place: %v", err)
	}
	assertNoTempFiles(t, cfg)
}

func TestService_IngestFileMissing(t *testing.T) {
	svc, _ := newTestService(t, newFakeStagingDB(), nil)

	_, err := svc.IngestFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), req(t, "", ""))
	if Kind(err) != KindRequest {
		t.Errorf("Kind() = %q, want %q (err = %v)", Kind(err), KindRequest, err)
	}
}

func TestService_IngestURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/exports/vendas.csv":
			w.Write([]byte(semicolonExport))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	db := newFakeStagingDB()
	svc, cfg := newTestService(t, db, nil)

	res, err := svc.IngestURL(context.Background(), srv.URL+"/exports/vendas.csv?sig=abc", req(t, "full", "DD/MM/YYYY"))
	if err != nil {
		t.Fatalf("IngestURL() error = %v", err)
	}
	if res.Rows != 2 || res.Source != "vendas.csv" {
		t.Errorf("result = %+v", res)
	}

	_, err = svc.IngestURL(context.Background(), srv.URL+"/missing.csv", req(t, "full", ""))
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) || dlErr.Status != http.StatusNotFound {
		t.Errorf("expected 404 DownloadError, got %v", err)
	}

	_, err = svc.IngestURL(context.Background(), "ftp://example.com/x.csv", req(t, "full", ""))
	if Kind(err) != KindRequest {
		t.Errorf("non-http URL: Kind() = %q, want %q", Kind(err), KindRequest)
	}
	assertNoTempFiles(t, cfg)
}

func TestService_IngestURLUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	svc, _ := newTestService(t, newFakeStagingDB(), nil)
	_, err := svc.IngestURL(context.Background(), url+"/vendas.csv", req(t, "full", ""))
	if Kind(err) != KindDownload {
		t.Errorf("Kind() = %q, want %q (err = %v)", Kind(err), KindDownload, err)
	}
}

func TestService_TooLarge(t *testing.T) {
	svc, cfg := newTestService(t, newFakeStagingDB(), nil)
	svc.maxFileSize = 16

	_, err := svc.IngestReader(context.Background(), "vendas.csv", strings.NewReader(semicolonExport), req(t, "full", ""))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
	assertNoTempFiles(t, cfg)
}

func TestService_MissingColumnsLeavesTableUntouched(t *testing.T) {
	db := newFakeStagingDB([]string{"2020-01-01", "Antigo"})
	svc, cfg := newTestService(t, db, nil)

	_, err := svc.IngestReader(context.Background(), "x.csv", strings.NewReader("Data;Produto\n05/03/2024;Camisa\n"), req(t, "full", ""))

	var missing *MissingColumnsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingColumnsError, got %v", err)
	}
	if len(db.statements) != 0 {
		t.Errorf("no SQL may run for an invalid source, ran %v", db.statements)
	}
	assertNoTempFiles(t, cfg)
}

func TestService_LoadFailureCleansUp(t *testing.T) {
	db := newFakeStagingDB([]string{"2020-01-01", "Antigo"})
	db.copyErr = errConnReset
	svc, cfg := newTestService(t, db, nil)

	_, err := svc.IngestReader(context.Background(), "vendas.csv.gz", bytes.NewReader(gzipBytes(t, semicolonExport)), req(t, "full", "DD/MM/YYYY"))

	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Stage != StageCopy {
		t.Fatalf("expected copy-stage LoadError, got %v", err)
	}
	if rows := db.snapshot(); len(rows) != 1 || rows[0][1] != "Antigo" {
		t.Errorf("table = %v, prior contents must survive a failed copy", rows)
	}
	assertNoTempFiles(t, cfg)
}

func TestService_Busy(t *testing.T) {
	svc, _ := newTestService(t, newFakeStagingDB(), nil)
	if err := svc.limiter.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer svc.limiter.Release()

	_, err := svc.IngestReader(context.Background(), "vendas.csv", strings.NewReader(semicolonExport), req(t, "full", ""))
	if !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestService_RunBuild(t *testing.T) {
	t.Run("build result attached", func(t *testing.T) {
		b := &fakeBuilder{res: &build.Result{RunID: "r1", OK: true}}
		svc, _ := newTestService(t, newFakeStagingDB(), b)
		r := req(t, "full", "DD/MM/YYYY")
		r.RunBuild = true

		res, err := svc.IngestReader(context.Background(), "vendas.csv", strings.NewReader(semicolonExport), r)
		if err != nil {
			t.Fatalf("IngestReader() error = %v", err)
		}
		if b.calls != 1 || res.Build == nil || res.Build.RunID != "r1" || res.BuildError != "" {
			t.Errorf("build not attached: calls=%d result=%+v", b.calls, res)
		}
	})

	t.Run("build failure keeps load", func(t *testing.T) {
		db := newFakeStagingDB()
		b := &fakeBuilder{err: errors.New("runner down")}
		svc, _ := newTestService(t, db, b)
		r := req(t, "full", "DD/MM/YYYY")
		r.RunBuild = true

		res, err := svc.IngestReader(context.Background(), "vendas.csv", strings.NewReader(semicolonExport), r)
		if err != nil {
			t.Fatalf("IngestReader() error = %v", err)
		}
		if !strings.Contains(res.BuildError, "runner down") {
			t.Errorf("BuildError = %q", res.BuildError)
		}
		if db.commits != 1 {
			t.Errorf("commits = %d, want 1", db.commits)
		}
	})

	t.Run("no builder configured", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeStagingDB(), nil)
		r := req(t, "full", "DD/MM/YYYY")
		r.RunBuild = true

		res, err := svc.IngestReader(context.Background(), "vendas.csv", strings.NewReader(semicolonExport), r)
		if err != nil {
			t.Fatalf("IngestReader() error = %v", err)
		}
		if res.BuildError == "" {
			t.Error("BuildError should explain the missing runner")
		}
	})
}

func TestService_Inspect(t *testing.T) {
	db := newFakeStagingDB()
	svc, _ := newTestService(t, db, nil)

	src := writeSource(t, "vendas.csv", []byte(semicolonExport))
	insp, err := svc.Inspect(context.Background(), src.Path, map[string]string{"documento_fiscal": "Documento Fiscal"})
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if insp.Source != "vendas.csv" || len(insp.Preview) != 2 {
		t.Errorf("inspection = %+v", insp)
	}
	if insp.Mapping["documento_fiscal"] != "Documento Fiscal" {
		t.Errorf("Mapping = %v", insp.Mapping)
	}

	insp, err = svc.InspectReader(context.Background(), "upload.csv", strings.NewReader(semicolonExport), nil)
	if err != nil || insp.Dialect.Delimiter != ';' {
		t.Errorf("InspectReader() = %+v, %v", insp, err)
	}
	if len(db.statements) != 0 {
		t.Errorf("inspect must not touch the database, ran %v", db.statements)
	}
}

type pingDB struct {
	*fakeStagingDB
	err error
}

func (p pingDB) Ping(ctx context.Context) error { return p.err }

func TestService_Health(t *testing.T) {
	svc, _ := newTestService(t, pingDB{fakeStagingDB: newFakeStagingDB()}, nil)
	h := svc.Health(context.Background())
	if h.Status != "ok" || h.Database != "ok" || h.BuildRunner != "LOCAL" || !h.FallbackDelete {
		t.Errorf("Health() = %+v", h)
	}
	if h.Ingests.MaxConcurrent != 1 || h.Ingests.Available != 1 {
		t.Errorf("Ingests = %+v", h.Ingests)
	}

	svc, _ = newTestService(t, pingDB{fakeStagingDB: newFakeStagingDB(), err: errConnReset}, nil)
	if h := svc.Health(context.Background()); h.Status != "degraded" {
		t.Errorf("Health().Status = %q, want degraded", h.Status)
	}
}
