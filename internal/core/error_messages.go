package core

// error_messages.go maps ingestion errors to user-facing messages with a
// support code. Typed errors are classified first; anything else falls back
// to substring patterns over the error text.
//
// # Error Codes Reference
//
//	DL001   - Download failed: the source URL could not be fetched
//	FMT001  - No header: the source is empty or has no header row
//	FMT002  - Missing columns: required columns could not be resolved
//	FMT003  - Unreadable source: corrupt archive, workbook or malformed CSV
//	MAP001  - Override not found: a header_map label is absent from the source
//	MAP002  - Unknown column: a header_map key is not a staging column
//	LOAD001 - Clear failed: the staging table could not be emptied
//	LOAD002 - Copy failed: the warehouse rejected the staged rows
//	LOAD003 - Commit failed: the load transaction did not commit
//	LOAD004 - Connection failed: the warehouse could not be reached
//	REQ001  - Invalid request: bad mode, date format or header_map
//	UPL002  - Busy: another ingestion is running
//	UPL004  - Cancelled: the request was cancelled
//	UPL005  - Timed out: the request ran past its deadline
//	FILE001 - File too large
//	FILE004 - No file: the upload had no file part
//	BLD001  - Build failed: the downstream build could not run
//	BLD002  - Build busy: another build is running
//	BLD003  - Build run not found: unknown run ID or no run log
//	RATE001 - Rate limited
//	ERR000  - Unknown error: check the server logs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/salesstage/internal/build"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgDownload = UserMessage{
		Message: "The source file could not be downloaded",
		Action:  "Check that the URL is reachable from the server and try again",
		Code:    "DL001",
	}
	msgNoHeader = UserMessage{
		Message: "The file has no header row",
		Action:  "Export the sales report again with column headers",
		Code:    "FMT001",
	}
	msgMissingColumns = UserMessage{
		Message: "Required columns are missing from the file",
		Action:  "Rename the columns or send a header_map for the missing ones",
		Code:    "FMT002",
	}
	msgUnreadable = UserMessage{
		Message: "The file could not be read",
		Action:  "Check that the file is a valid CSV, gzip, zstd or xlsx export",
		Code:    "FMT003",
	}
	msgOverrideNotFound = UserMessage{
		Message: "A header_map entry points to a column that is not in the file",
		Action:  "Use a column label exactly as it appears in the file header",
		Code:    "MAP001",
	}
	msgUnknownColumn = UserMessage{
		Message: "A header_map key is not a staging column",
		Action:  "Use only the staging column names as header_map keys",
		Code:    "MAP002",
	}
	msgClearFailed = UserMessage{
		Message: "The staging table could not be cleared",
		Action:  "Retry later or load in incremental mode",
		Code:    "LOAD001",
	}
	msgCopyFailed = UserMessage{
		Message: "The warehouse rejected the staged rows",
		Action:  "Check the staging table definition and the file contents",
		Code:    "LOAD002",
	}
	msgCommitFailed = UserMessage{
		Message: "The load could not be committed",
		Action:  "Please try again",
		Code:    "LOAD003",
	}
	msgConnection = UserMessage{
		Message: "Unable to connect to the warehouse",
		Action:  "Please try again in a few moments",
		Code:    "LOAD004",
	}
	msgRequest = UserMessage{
		Message: "The request parameters are invalid",
		Action:  "Check mode, date_format and header_map",
		Code:    "REQ001",
	}
	msgBusy = UserMessage{
		Message: "Another ingestion is in progress",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "UPL005",
	}
	msgTooLarge = UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Compress the file or split the export",
		Code:    "FILE001",
	}
	msgNoFile = UserMessage{
		Message: "No file was sent",
		Action:  "Send the export as the 'file' form field",
		Code:    "FILE004",
	}
	msgBuild = UserMessage{
		Message: "The downstream build could not be run",
		Action:  "Check the build logs and the runner configuration",
		Code:    "BLD001",
	}
	msgBuildBusy = UserMessage{
		Message: "A build is already running",
		Action:  "Wait for it to finish and check its log",
		Code:    "BLD002",
	}
	msgRunNotFound = UserMessage{
		Message: "Build run not found",
		Action:  "List recent runs to find a valid run ID",
		Code:    "BLD003",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are matched case-insensitively with strings.Contains after
// typed classification fails. The first match wins.
var errorPatterns = []errorPattern{
	{pattern: "connection refused", msg: msgConnection},
	{pattern: "no such host", msg: msgConnection},
	{pattern: "failed to connect", msg: msgConnection},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},
	{pattern: "context canceled", msg: msgCancelled},
	{pattern: "no file provided", msg: msgNoFile},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
// Support staff should check application logs for the original error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message.
//
// Example:
//
//	_, err := svc.IngestFile(ctx, path, req)
//	msg := MapError(err)
//	// msg.Code == "FMT002" when columns are missing
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		mapErr  *MappingError
		missErr *MissingColumnsError
		loadErr *LoadError
		reqErr  *RequestError
	)
	switch {
	case errors.Is(err, ErrBusy):
		return msgBusy
	case errors.Is(err, ErrFileTooLarge):
		return msgTooLarge
	case errors.Is(err, ErrNoHeader):
		return msgNoHeader
	case errors.As(err, &missErr):
		return msgMissingColumns
	case errors.As(err, &mapErr):
		if mapErr.Reason == reasonNotStagingColumn {
			return msgUnknownColumn
		}
		return msgOverrideNotFound
	case Kind(err) == KindDownload:
		return msgDownload
	case Kind(err) == KindFormat:
		return msgUnreadable
	case errors.As(err, &reqErr) && reqErr.Field == "file":
		return msgNoFile
	case Kind(err) == KindRequest:
		return msgRequest
	case errors.As(err, &loadErr):
		switch loadErr.Stage {
		case StageBegin:
			return msgConnection
		case StageClear:
			return msgClearFailed
		case StageCommit:
			return msgCommitFailed
		default:
			return msgCopyFailed
		}
	case errors.Is(err, build.ErrInProgress):
		return msgBuildBusy
	case errors.Is(err, build.ErrRunNotFound), errors.Is(err, build.ErrNoRunLog):
		return msgRunNotFound
	case errors.Is(err, ErrBuildFailed), errors.Is(err, build.ErrUnauthorized):
		return msgBuild
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, context.Canceled):
		return msgCancelled
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with its user-facing message.
type UserError struct {
	UserMessage
	Err error
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Err }

// NewUserError wraps err with its mapped message. It returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{UserMessage: MapError(err), Err: err}
}
