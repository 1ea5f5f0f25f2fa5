package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoHeader is wrapped by the FormatError returned for an empty source.
	ErrNoHeader = errors.New("source has no header row")

	// ErrBuildFailed is wrapped when the downstream build could not be run.
	ErrBuildFailed = errors.New("build failed")
)

// DownloadError reports a failed remote fetch.
type DownloadError struct {
	URL    string
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// FormatError reports a source that cannot be staged: no header, an unreadable
// container, malformed CSV, or missing required columns.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

// MissingColumnsError lists the canonical columns no header label resolved to.
// It is always wrapped in a FormatError.
type MissingColumnsError struct {
	Missing       []string
	Header        []string
	SluggedHeader []string
}

func (e *MissingColumnsError) Error() string {
	return "missing columns: " + strings.Join(e.Missing, ", ")
}

func newMissingColumnsError(missing, header []string) error {
	slugged := make([]string, len(header))
	for i, h := range header {
		slugged[i] = Slug(h)
	}
	return &FormatError{
		Reason: "missing required columns",
		Err: &MissingColumnsError{
			Missing:       missing,
			Header:        append([]string(nil), header...),
			SluggedHeader: slugged,
		},
	}
}

const (
	reasonNotStagingColumn = "not a staging column"
	reasonNotInHeader      = "not found in source header"
)

// MappingError reports a caller header override that cannot be honoured.
type MappingError struct {
	Canonical string
	Provided  string
	Reason    string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("header_map %s -> %q: %s", e.Canonical, e.Provided, e.Reason)
}

// LoadStage names the step of a load that failed.
type LoadStage string

const (
	StageBegin   LoadStage = "begin"
	StagePrepare LoadStage = "prepare"
	StageClear   LoadStage = "clear"
	StageCopy    LoadStage = "copy"
	StageCommit  LoadStage = "commit"
)

// LoadError reports a failed staging load. The transaction was rolled back.
type LoadError struct {
	Stage LoadStage
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load staging (%s): %v", e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RequestError reports an invalid ingestion parameter.
type RequestError struct {
	Field  string
	Value  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ErrorKind classifies errors for transport mapping.
type ErrorKind string

const (
	KindDownload ErrorKind = "download"
	KindFormat   ErrorKind = "format"
	KindMapping  ErrorKind = "mapping"
	KindLoad     ErrorKind = "load"
	KindRequest  ErrorKind = "request"
	KindBusy     ErrorKind = "busy"
	KindTooLarge ErrorKind = "too_large"
	KindInternal ErrorKind = "internal"
)

// Kind returns the classification of err.
func Kind(err error) ErrorKind {
	var (
		dlErr   *DownloadError
		fmtErr  *FormatError
		mapErr  *MappingError
		loadErr *LoadError
		reqErr  *RequestError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrFileTooLarge):
		return KindTooLarge
	case errors.As(err, &dlErr):
		return KindDownload
	case errors.As(err, &mapErr):
		return KindMapping
	case errors.As(err, &fmtErr):
		return KindFormat
	case errors.As(err, &loadErr):
		return KindLoad
	case errors.As(err, &reqErr):
		return KindRequest
	default:
		return KindInternal
	}
}
