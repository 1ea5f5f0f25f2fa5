package core

// download.go fetches remote sources into a temp file. The body is streamed
// in 1 MiB chunks and never held in memory.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/JonMunkholm/salesstage/internal/logging"
)

const downloadChunkSize = 1 << 20

// downloadSource streams rawURL into a temp file named after the URL path
// suffix. The caller removes the returned file.
func (s *Service) downloadSource(ctx context.Context, rawURL string) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Source{}, &RequestError{Field: "url", Value: rawURL, Reason: "must be an absolute http(s) URL"}
	}

	if s.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.downloadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Source{}, &DownloadError{URL: rawURL, Err: err}
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return Source{}, &DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Source{}, &DownloadError{URL: rawURL, Status: resp.StatusCode}
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = u.Host
	}
	kind := DetectSourceKind(u.Path)

	f, err := os.CreateTemp(s.tempDir, "download-*"+kind.Suffix())
	if err != nil {
		return Source{}, fmt.Errorf("create download temp file: %w", err)
	}

	body := NewCountingReader(resp.Body, s.maxFileSize)
	_, copyErr := io.CopyBuffer(f, body, make([]byte, downloadChunkSize))
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(f.Name())
		if errors.Is(err, ErrFileTooLarge) {
			return Source{}, err
		}
		return Source{}, &DownloadError{URL: rawURL, Err: err}
	}

	logging.FromContext(ctx).Info("source downloaded",
		"url", redactURL(u),
		"bytes", body.BytesRead,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return NewSource(f.Name(), name, s.encoding), nil
}

// redactURL drops credentials and the query string, which often carries
// signed tokens.
func redactURL(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}
