package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/salesstage/internal/core"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// handleBuildRun runs the downstream build and returns its result. A build
// that ran and failed is still a 200 with ok=false; errors mean the build
// could not be run at all.
func (s *Server) handleBuildRun(w http.ResponseWriter, r *http.Request) {
	if s.builds == nil {
		writeError(w, http.StatusServiceUnavailable, "build runner not configured", "BLD001")
		return
	}

	ctx := core.ContextWithTrigger(r.Context(), "http")
	res, err := s.builds.Run(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListRuns returns the most recent build runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.builds == nil {
		writeError(w, http.StatusServiceUnavailable, "build runner not configured", "BLD001")
		return
	}

	limit := min(parseIntParam(r, "limit", defaultRunLimit), maxRunLimit)
	runs, err := s.builds.List(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns one recorded run including its log tail.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.builds == nil {
		writeError(w, http.StatusServiceUnavailable, "build runner not configured", "BLD001")
		return
	}

	res, err := s.builds.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
