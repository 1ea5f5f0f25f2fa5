// Package inbox ingests exports dropped into a watched folder.
//
// Files are ingested one at a time once they have stopped changing for the
// settle period, then moved to Processed/ or Failed/. A failed file gets a
// sibling "<name>.error" with the reason.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/salesstage/internal/config"
	"github.com/JonMunkholm/salesstage/internal/core"
	"github.com/JonMunkholm/salesstage/internal/logging"
)

const (
	ProcessedDir = "Processed"
	FailedDir    = "Failed"
)

var extensions = []string{".csv", ".csv.gz", ".csv.zst", ".xlsx"}

// Ingester is the part of core.Service the watcher uses.
type Ingester interface {
	IngestFile(ctx context.Context, path string, req core.IngestRequest) (*core.IngestionResult, error)
}

// Watcher watches one folder.
type Watcher struct {
	dir      string
	settle   time.Duration
	req      core.IngestRequest
	ingester Ingester

	mu      sync.Mutex
	pending map[string]*time.Timer
	queue   chan string
}

// New validates cfg and returns a Watcher for cfg.Dir.
func New(cfg config.InboxConfig, ing Ingester) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("inbox: no directory configured")
	}
	req, err := core.NewIngestRequest(cfg.Mode, cfg.DateFormat, nil, cfg.RunBuild)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	return &Watcher{
		dir:      cfg.Dir,
		settle:   cfg.Settle,
		req:      req,
		ingester: ing,
		pending:  make(map[string]*time.Timer),
		queue:    make(chan string, 64),
	}, nil
}

// Eligible reports whether name is a source the inbox ingests.
func Eligible(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	lower := strings.ToLower(base)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Run watches until ctx is done. Files already in the folder are picked up
// at start.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = logging.ContextWith(ctx, "component", "inbox", "dir", w.dir)
	logger := logging.FromContext(ctx)

	for _, d := range []string{w.dir, filepath.Join(w.dir, ProcessedDir), filepath.Join(w.dir, FailedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("inbox: create %s: %w", d, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}

	if err := w.scan(ctx); err != nil {
		return err
	}
	logger.Info("inbox watching", "settle", w.settle, "mode", w.req.Mode)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case path := <-w.queue:
				w.Process(ctx, path)
			}
		}
	})
	g.Go(func() error {
		defer w.stopTimers()
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-fw.Events:
				if !ok {
					return nil
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if Eligible(event.Name) {
					w.schedule(ctx, event.Name)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return nil
				}
				logger.Error("inbox watcher error", "error", err)
			}
		}
	})
	return g.Wait()
}

// scan schedules the eligible files already in the folder.
func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("inbox: read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && Eligible(e.Name()) {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case w.queue <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// Process ingests one file and moves it out of the inbox. A file that is
// gone or no longer regular is skipped. When ctx ends mid-ingest the file
// stays where it is and is retried on the next start. A busy ingester
// leaves the file in place and reschedules it.
func (w *Watcher) Process(ctx context.Context, path string) {
	logger := logging.FromContext(ctx).With("file", filepath.Base(path))

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	res, err := w.ingester.IngestFile(core.ContextWithTrigger(ctx, "inbox"), path, w.req)
	if err != nil && ctx.Err() != nil {
		logger.Warn("inbox ingestion interrupted, file left in place", "error", err)
		return
	}

	if errors.Is(err, core.ErrBusy) {
		logger.Warn("inbox ingestion busy, retrying after settle", "error", err)
		w.schedule(ctx, path)
		return
	}

	if err != nil {
		logger.Error("inbox ingestion failed", "error", err, "code", core.MapError(err).Code)
		dest, moveErr := w.move(path, FailedDir)
		if moveErr != nil {
			logger.Error("inbox move failed", "error", moveErr)
			return
		}
		if writeErr := writeErrorFile(dest, err); writeErr != nil {
			logger.Error("inbox error file not written", "error", writeErr)
		}
		return
	}

	if _, err := w.move(path, ProcessedDir); err != nil {
		logger.Error("inbox move failed", "error", err)
		return
	}
	logger.Info("inbox file ingested", "ingest_id", res.ID, "rows", res.Rows, "mode", res.Mode)
}

// move renames path into sub, prefixing a timestamp when the name is taken.
func (w *Watcher) move(path, sub string) (string, error) {
	name := filepath.Base(path)
	dest := filepath.Join(w.dir, sub, name)
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(w.dir, sub, time.Now().UTC().Format("20060102T150405.000000000")+"-"+name)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move %s: %w", name, err)
	}
	return dest, nil
}

func writeErrorFile(dest string, cause error) error {
	ue := core.NewUserError(cause)
	body := fmt.Sprintf("code: %s\nmessage: %s\naction: %s\nerror: %v\n", ue.Code, ue.Message, ue.Action, ue.Err)
	return os.WriteFile(dest+".error", []byte(body), 0o644)
}
