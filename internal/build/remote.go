package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnauthorized is returned when the runner rejects the token.
var ErrUnauthorized = errors.New("build runner rejected the token")

// RemoteRunner asks a runner service to build via POST {BaseURL}/dbt/build.
type RemoteRunner struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewRemoteRunner creates a runner client. The HTTP timeout leaves the
// runner time to report its own build timeout.
func NewRemoteRunner(baseURL, token string, buildTimeout time.Duration) *RemoteRunner {
	return &RemoteRunner{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: buildTimeout + time.Minute},
	}
}

// Name implements Runner.
func (r *RemoteRunner) Name() string { return r.BaseURL }

type remoteResponse struct {
	RunID      string `json:"run_id"`
	ReturnCode *int   `json:"returncode"`
	Tail       string `json:"tail"`
	Timeout    bool   `json:"timeout"`
}

// Run implements Runner.
func (r *RemoteRunner) Run(ctx context.Context) (*Result, error) {
	started := time.Now().UTC()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/dbt/build", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.Token != "" {
		req.Header.Set("X-Token", r.Token)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call build runner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("build runner status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode build runner response: %w", err)
	}

	if out.RunID == "" {
		out.RunID = uuid.NewString()
	}

	return &Result{
		RunID:      out.RunID,
		Runner:     r.Name(),
		OK:         !out.Timeout && out.ReturnCode != nil && *out.ReturnCode == 0,
		ExitCode:   out.ReturnCode,
		Step:       "build",
		Tail:       out.Tail,
		TimedOut:   out.Timeout,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}, nil
}
