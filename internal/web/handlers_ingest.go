package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/salesstage/internal/build"
	"github.com/JonMunkholm/salesstage/internal/core"
)

// multipartMemory is how much of a multipart body is kept in memory; the
// rest spills to temp files.
const multipartMemory = 32 << 20

const (
	defaultMode       = "full"
	defaultDateFormat = "YYYY-MM-DD"
)

// IngestResponse is the body of a successful ingestion.
type IngestResponse struct {
	OK            bool              `json:"ok"`
	IngestID      string            `json:"ingest_id"`
	Source        string            `json:"source"`
	Rows          int64             `json:"rows"`
	Mode          core.LoadMode     `json:"mode"`
	DateFormat    core.DateFormat   `json:"date_format"`
	Dialect       core.Dialect      `json:"dialect"`
	Header        []string          `json:"header"`
	PreviewHeader []string          `json:"preview_header"`
	PreviewRows   [][]string        `json:"preview_rows"`
	Mapping       map[string]string `json:"mapping"`
	StagingTable  string            `json:"staging_table"`
	Load          core.LoadStats    `json:"load"`
	DurationMS    int64             `json:"duration_ms"`
	Build         *build.Result     `json:"build,omitempty"`
	BuildError    string            `json:"build_error,omitempty"`
}

func toIngestResponse(res *core.IngestionResult) IngestResponse {
	return IngestResponse{
		OK:            true,
		IngestID:      res.ID.String(),
		Source:        res.Source,
		Rows:          res.Rows,
		Mode:          res.Mode,
		DateFormat:    res.DateFormat,
		Dialect:       res.Dialect,
		Header:        res.Header,
		PreviewHeader: res.SourceHeader,
		PreviewRows:   res.Preview,
		Mapping:       res.Mapping,
		StagingTable:  res.StagingTable,
		Load:          res.Load,
		DurationMS:    res.Duration.Milliseconds(),
		Build:         res.Build,
		BuildError:    res.BuildError,
	}
}

// InspectResponse is the body of a dry run.
type InspectResponse struct {
	OK            bool              `json:"ok"`
	Source        string            `json:"source"`
	Dialect       core.Dialect      `json:"dialect"`
	PreviewHeader []string          `json:"preview_header"`
	PreviewRows   [][]string        `json:"preview_rows"`
	Mapping       map[string]string `json:"mapping"`
}

// ingestURLRequest is the body of POST /ingest/url.
type ingestURLRequest struct {
	URL        string            `json:"url"`
	Mode       string            `json:"mode"`
	DateFormat string            `json:"date_format"`
	HeaderMap  map[string]string `json:"header_map"`
	RunBuild   bool              `json:"run_build"`
}

// handleHealth reports configuration and database connectivity. It always
// answers 200; a failed ping shows up as status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ingester.Health(r.Context()))
}

// handleIngestURL downloads a remote export and stages it.
func (s *Server) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	body := ingestURLRequest{Mode: defaultMode, DateFormat: defaultDateFormat}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, r, &core.RequestError{Field: "body", Value: "", Reason: "must be a JSON object: " + err.Error()})
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		s.respondError(w, r, &core.RequestError{Field: "url", Value: "", Reason: "is required"})
		return
	}

	req, err := core.NewIngestRequest(body.Mode, body.DateFormat, body.HeaderMap, body.RunBuild)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.ingester.IngestURL(WithRequestMetadata(r.Context(), r), body.URL, req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIngestResponse(res))
}

// handleIngestUpload stages an uploaded export. Form fields: file, mode,
// date_format, header_map_json and run_build.
func (s *Server) handleIngestUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.parseUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	headerMap, err := parseHeaderMap(r.FormValue("header_map_json"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	runBuild, err := parseBool("run_build", r.FormValue("run_build"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	req, err := core.NewIngestRequest(
		formValue(r, "mode", defaultMode),
		formValue(r, "date_format", defaultDateFormat),
		headerMap,
		runBuild,
	)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	res, err := s.ingester.IngestReader(WithRequestMetadata(r.Context(), r), header.Filename, file, req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIngestResponse(res))
}

// handleInspect resolves an uploaded export without loading it.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.parseUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	headerMap, err := parseHeaderMap(r.FormValue("header_map_json"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	insp, err := s.ingester.InspectReader(WithRequestMetadata(r.Context(), r), header.Filename, file, headerMap)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, InspectResponse{
		OK:            true,
		Source:        insp.Source,
		Dialect:       insp.Dialect,
		PreviewHeader: insp.SourceHeader,
		PreviewRows:   insp.Preview,
		Mapping:       insp.Mapping,
	})
}

// parseUpload reads the multipart form and returns the "file" part.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	maxSize := s.cfg.Upload.MaxFileSize
	if maxSize > 0 {
		// Leave room for the other form fields.
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, fmt.Errorf("%w: more than %d bytes", core.ErrFileTooLarge, maxSize)
		}
		return nil, nil, &core.RequestError{Field: "form", Value: "", Reason: err.Error()}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, &core.RequestError{Field: "file", Value: "", Reason: "no file provided"}
	}
	return file, header, nil
}

// parseHeaderMap decodes header_map_json. Empty means no overrides.
func parseHeaderMap(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return nil, &core.RequestError{Field: "header_map_json", Value: raw, Reason: "must be a JSON object of column to header label"}
	}
	return m, nil
}

func parseBool(field, raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &core.RequestError{Field: field, Value: raw, Reason: "must be true or false"}
	}
	return v, nil
}

func formValue(r *http.Request, name, def string) string {
	if v := r.FormValue(name); v != "" {
		return v
	}
	return def
}
