package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/salesstage/internal/build"
	"github.com/JonMunkholm/salesstage/internal/config"
	"github.com/JonMunkholm/salesstage/internal/logging"
)

// stagedBufferSize is the buffer used when writing and re-reading the staged file.
const stagedBufferSize = 1 << 20

// Builder runs the downstream build after a load.
type Builder interface {
	Run(ctx context.Context) (*build.Result, error)
}

// Service provides the staging pipeline to every entry point.
type Service struct {
	db          StagingDB
	catalog     *Catalog
	transformer *Transformer
	loader      *Loader
	limiter     *IngestLimiter
	builder     Builder
	client      *http.Client

	tempDir         string
	encoding        SourceEncoding
	maxFileSize     int64
	downloadTimeout time.Duration
	fallbackDelete  bool
	buildRunner     string
}

// NewService wires the pipeline from cfg. cat defaults to DefaultCatalog;
// builder may be nil when builds are never requested.
func NewService(db StagingDB, cfg *config.Config, cat *Catalog, builder Builder) (*Service, error) {
	if cat == nil {
		cat = DefaultCatalog()
	}
	enc, err := ParseSourceEncoding(cfg.Ingest.SourceEncoding)
	if err != nil {
		return nil, err
	}

	loader, err := NewLoader(db, LoaderOptions{
		Table:          cfg.Ingest.StagingTable,
		Columns:        cat.Columns(),
		FallbackDelete: cfg.Ingest.FallbackDelete,
		FallbackScope:  ParseFallbackScope(cfg.Ingest.FallbackScope),
		LockTimeout:    cfg.Ingest.LockTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		db:      db,
		catalog: cat,
		transformer: NewTransformer(cat, TransformOptions{
			SampleSize:  cfg.Ingest.SampleSize,
			PreviewRows: cfg.Ingest.PreviewRows,
			FlushEvery:  cfg.Ingest.FlushEvery,
		}),
		loader:          loader,
		limiter:         NewIngestLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		builder:         builder,
		client:          &http.Client{},
		tempDir:         cfg.Ingest.TempDir,
		encoding:        enc,
		maxFileSize:     cfg.Upload.MaxFileSize,
		downloadTimeout: cfg.Ingest.DownloadTimeout,
		fallbackDelete:  cfg.Ingest.FallbackDelete,
		buildRunner:     cfg.Build.RunnerName(),
	}, nil
}

// SetHTTPClient replaces the client used for downloads.
func (s *Service) SetHTTPClient(c *http.Client) {
	s.client = c
}

// Catalog returns the catalog headers are resolved against.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Health describes the service for the health endpoint.
type Health struct {
	Status         string        `json:"status"`
	StagingTable   string        `json:"staging_table"`
	FallbackDelete bool          `json:"fallback_delete"`
	BuildRunner    string        `json:"build_runner"`
	Database       string        `json:"database,omitempty"`
	Ingests        LimiterStatus `json:"ingests"`
}

// Health reports configuration and, when the database supports it, connectivity.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:         "ok",
		StagingTable:   s.loader.Table(),
		FallbackDelete: s.fallbackDelete,
		BuildRunner:    s.buildRunner,
		Ingests:        s.limiter.Status(),
	}
	if p, ok := s.db.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			h.Status = "degraded"
			h.Database = err.Error()
		} else {
			h.Database = "ok"
		}
	}
	return h
}

// WaitForDrain blocks until running ingestions finish or ctx is done.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// IngestURL downloads rawURL and stages it.
func (s *Service) IngestURL(ctx context.Context, rawURL string, req IngestRequest) (*IngestionResult, error) {
	ctx, id, release, err := s.begin(ctx, "url")
	if err != nil {
		return nil, err
	}
	defer release()

	src, err := s.downloadSource(ctx, rawURL)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	defer os.Remove(src.Path)

	return s.run(ctx, id, src, req)
}

// IngestReader stages an uploaded stream. name is the client file name and
// selects the container format.
func (s *Service) IngestReader(ctx context.Context, name string, r io.Reader, req IngestRequest) (*IngestionResult, error) {
	ctx, id, release, err := s.begin(ctx, "upload")
	if err != nil {
		return nil, err
	}
	defer release()

	src, err := s.spool(r, name, "upload")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	defer os.Remove(src.Path)

	return s.run(ctx, id, src, req)
}

// IngestFile stages a local file. The file is copied first, so it may be
// moved or rewritten once IngestFile returns and is never removed.
func (s *Service) IngestFile(ctx context.Context, path string, req IngestRequest) (*IngestionResult, error) {
	ctx, id, release, err := s.begin(ctx, "file")
	if err != nil {
		return nil, err
	}
	defer release()

	f, err := os.Open(path)
	if err != nil {
		return nil, s.fail(ctx, &RequestError{Field: "file", Value: path, Reason: err.Error()})
	}
	src, err := s.spool(f, filepath.Base(path), "file")
	f.Close()
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	defer os.Remove(src.Path)

	return s.run(ctx, id, src, req)
}

// Inspect runs the first transform phase over a local file without touching
// the database.
func (s *Service) Inspect(ctx context.Context, path string, overrides map[string]string) (*Inspection, error) {
	return s.inspect(ctx, NewSource(path, "", s.encoding), overrides)
}

// InspectReader is Inspect for an uploaded stream.
func (s *Service) InspectReader(ctx context.Context, name string, r io.Reader, overrides map[string]string) (*Inspection, error) {
	src, err := s.spool(r, name, "inspect")
	if err != nil {
		return nil, err
	}
	defer os.Remove(src.Path)

	return s.inspect(ctx, src, overrides)
}

func (s *Service) inspect(ctx context.Context, src Source, overrides map[string]string) (*Inspection, error) {
	src, cleanup, err := src.Materialize(s.tempDir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	plan, err := s.transformer.Prepare(src, overrides)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("source inspected", "source", src.Name, "dialect", plan.Dialect.Name)

	return &Inspection{
		Source:       src.Name,
		Dialect:      plan.Dialect,
		SourceHeader: plan.Header,
		Mapping:      plan.Mapping.Names(plan.Header),
		Preview:      plan.Preview,
	}, nil
}

// begin takes an ingestion slot and attaches the ingestion ID to ctx loggers.
func (s *Service) begin(ctx context.Context, origin string) (context.Context, uuid.UUID, func(), error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		logging.FromContext(ctx).Warn("ingestion rejected", "origin", origin, "error", err)
		return ctx, uuid.Nil, func() {}, err
	}
	id := uuid.New()
	fields := append([]any{"ingest_id", id.String(), "origin", origin}, requestAttrs(ctx)...)
	return logging.ContextWith(ctx, fields...), id, s.limiter.Release, nil
}

// fail logs a failed ingestion and returns err unchanged.
func (s *Service) fail(ctx context.Context, err error) error {
	logging.FromContext(ctx).Error("ingestion failed",
		"kind", Kind(err),
		"code", MapError(err).Code,
		"error", err,
	)
	return err
}

// spool copies r into a temp file whose suffix preserves the container
// format of name.
func (s *Service) spool(r io.Reader, name, prefix string) (Source, error) {
	f, err := os.CreateTemp(s.tempDir, prefix+"-*"+DetectSourceKind(name).Suffix())
	if err != nil {
		return Source{}, fmt.Errorf("create temp file: %w", err)
	}

	_, copyErr := io.CopyBuffer(f, NewCountingReader(r, s.maxFileSize), make([]byte, downloadChunkSize))
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(f.Name())
		if errors.Is(err, ErrFileTooLarge) {
			return Source{}, err
		}
		return Source{}, fmt.Errorf("store source: %w", err)
	}
	return NewSource(f.Name(), name, s.encoding), nil
}

// run is the pipeline shared by every ingestion: prepare, transform into a
// staged temp file, load, then optionally build.
func (s *Service) run(ctx context.Context, id uuid.UUID, src Source, req IngestRequest) (*IngestionResult, error) {
	start := time.Now()
	logger := logging.WithFields(ctx, "source", src.Name, "kind", src.Kind)
	logger.Info("ingestion started", "mode", req.Mode, "date_format", req.DateFormat)

	src, cleanup, err := src.Materialize(s.tempDir)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	defer cleanup()

	plan, err := s.transformer.Prepare(src, req.HeaderMap)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	logger.Info("source prepared",
		"dialect", plan.Dialect.Name,
		"delimiter", string(plan.Dialect.Delimiter),
		"source_columns", len(plan.Header),
		"overrides", len(req.HeaderMap),
	)

	staged, err := os.CreateTemp(s.tempDir, "staged-*.csv")
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("create staged file: %w", err))
	}
	defer os.Remove(staged.Name())
	defer staged.Close()

	bw := bufio.NewWriterSize(staged, stagedBufferSize)
	rows, err := s.transformer.Transform(ctx, src, plan, req.DateFormat, bw)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("rewind staged file: %w", err))
	}
	logger.Debug("source transformed", "rows", rows)

	stats, err := s.loader.Load(ctx, bufio.NewReaderSize(staged, stagedBufferSize), req.Mode)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	result := &IngestionResult{
		ID:           id,
		Source:       src.Name,
		Rows:         rows,
		Mode:         req.Mode,
		DateFormat:   req.DateFormat,
		Dialect:      plan.Dialect,
		Header:       s.catalog.Columns(),
		SourceHeader: plan.Header,
		Mapping:      plan.Mapping.Names(plan.Header),
		Preview:      plan.Preview,
		StagingTable: s.loader.Table(),
		Load:         stats,
	}

	if req.RunBuild {
		s.runBuild(ctx, result)
	}

	result.Duration = time.Since(start)
	logger.Info("ingestion completed",
		"rows", rows,
		"clear_method", stats.ClearMethod,
		"build_ok", result.Build != nil && result.Build.OK,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// runBuild triggers the build after a committed load. The load stays
// committed whatever happens here; failures are reported in the result.
func (s *Service) runBuild(ctx context.Context, result *IngestionResult) {
	logger := logging.FromContext(ctx)
	if s.builder == nil {
		result.BuildError = "build runner is not configured"
		logger.Warn("build requested but no runner is configured")
		return
	}

	res, err := s.builder.Run(ctx)
	result.Build = res
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrBuildFailed, err)
		result.BuildError = err.Error()
		logger.Error("build after load failed", "error", err)
		return
	}
	if !res.OK {
		logger.Warn("build after load finished with errors", "run_id", res.RunID, "timeout", res.TimedOut)
	}
}
