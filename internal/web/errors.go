package web

// errors.go provides unified error responses for the API.
//
// Every error is:
//   - Logged with full technical details and the request ID (server-side)
//   - Returned as JSON with a user-facing message, a support code and,
//     for caller mistakes, machine-readable detail
//
// The HTTP status follows the error kind: caller mistakes (download, format,
// mapping, request) are 400, an oversized source is 413, a busy pipeline is
// 429 and a failed load is 500.

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/salesstage/internal/build"
	"github.com/JonMunkholm/salesstage/internal/core"
)

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Detail  any    `json:"detail,omitempty"`
}

// missingColumnsDetail is the detail of a FMT002 error.
type missingColumnsDetail struct {
	Missing          []string `json:"missing"`
	Header           []string `json:"header"`
	NormalizedHeader []string `json:"normalized_header"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, build.ErrInProgress):
		return http.StatusTooManyRequests
	case errors.Is(err, build.ErrRunNotFound), errors.Is(err, build.ErrNoRunLog):
		return http.StatusNotFound
	case errors.Is(err, build.ErrUnauthorized):
		return http.StatusBadGateway
	case core.Kind(err) == core.KindDownload:
		// A download that ran past its timeout is still the caller's URL.
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch core.Kind(err) {
	case core.KindDownload, core.KindFormat, core.KindMapping, core.KindRequest:
		return http.StatusBadRequest
	case core.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case core.KindBusy:
		return http.StatusTooManyRequests
	default:
		if errors.Is(err, core.ErrBuildFailed) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

// detailFor returns caller-facing detail for err. Internal errors carry none.
func detailFor(err error) any {
	var missing *core.MissingColumnsError
	if errors.As(err, &missing) {
		return missingColumnsDetail{
			Missing:          missing.Missing,
			Header:           missing.Header,
			NormalizedHeader: missing.SluggedHeader,
		}
	}

	var loadErr *core.LoadError
	if errors.As(err, &loadErr) {
		return map[string]string{"stage": string(loadErr.Stage)}
	}

	switch core.Kind(err) {
	case core.KindDownload, core.KindFormat, core.KindMapping, core.KindRequest:
		return err.Error()
	}
	return nil
}

// respondError logs err and writes its JSON error response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)
	kind := core.Kind(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"kind", kind,
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeJSON(w, status, ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
		Kind:    string(kind),
		Detail:  detailFor(err),
	})
}

// writeError writes an error that did not come from the pipeline.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Message: message, Code: code})
}
