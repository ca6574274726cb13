package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient makes REST calls to the build server's side channel.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL
// (e.g. "http://127.0.0.1:8787").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// BuildTotals aggregates per-target build outcomes.
type BuildTotals struct {
	Builds     int `json:"builds"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Warnings   int `json:"warnings"`
	Errors     int `json:"errors"`
}

// BuildInfo is one target's latest build summary.
type BuildInfo struct {
	Name        string `json:"name"`
	Status      string `json:"status"` // "success", "warning", "failed", "building"
	Timestamp   string `json:"timestamp,omitempty"`
	Warnings    int    `json:"warnings"`
	Errors      int    `json:"errors"`
	DurationSec float64 `json:"duration_seconds,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
}

// BuildSummary is returned by /api/summary.
type BuildSummary struct {
	Timestamp   string      `json:"timestamp,omitempty"`
	Totals      BuildTotals `json:"totals"`
	Builds      []BuildInfo `json:"builds"`
	ProjectPath string      `json:"project_path,omitempty"`
}

// RunningBuild describes an in-flight build tracked by /api/status.
type RunningBuild struct {
	BuildID        string   `json:"build_id"`
	ProjectPath    string   `json:"project_path"`
	Targets        []string `json:"targets"`
	StartedAt      float64  `json:"started_at"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	ReturnCode     *int     `json:"return_code,omitempty"`
}

// ServerStatus is returned by /api/status.
type ServerStatus struct {
	Status          string         `json:"status"`
	RunningBuilds   []RunningBuild `json:"running_builds"`
	CompletedBuilds []RunningBuild `json:"completed_builds"`
	WSClients       int            `json:"ws_clients"`
}

// BuildStarted is returned by POST /api/build.
type BuildStarted struct {
	BuildID     string   `json:"build_id"`
	Status      string   `json:"status"`
	ProjectPath string   `json:"project_path"`
	Targets     []string `json:"targets"`
}

// LogQueryResult is returned by /api/logs/query.
type LogQueryResult struct {
	Logs   []LogEntry `json:"logs"`
	Total  int        `json:"total"`
	Stages []string   `json:"stages,omitempty"`
}

// GetSummary fetches the aggregated build summary for a project.
func (c *HTTPClient) GetSummary(projectPath string) (*BuildSummary, error) {
	var s BuildSummary
	path := "/api/summary?project_path=" + url.QueryEscape(projectPath)
	if err := c.get(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStatus fetches server status and running builds.
func (c *HTTPClient) GetStatus() (*ServerStatus, error) {
	var s ServerStatus
	if err := c.get("/api/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// StartBuild asks the server to build the given targets.
func (c *HTTPClient) StartBuild(projectPath string, targets []string) (*BuildStarted, error) {
	body := map[string]interface{}{"project_path": projectPath, "targets": targets}
	var out BuildStarted
	if err := c.post("/api/build", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelBuild cancels a running build.
func (c *HTTPClient) CancelBuild(buildID string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/api/build/"+url.PathEscape(buildID), nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel build %s: %d %s", buildID, resp.StatusCode, string(body))
	}
	return nil
}

// QueryLogs fetches historical logs for a build from the server's log store.
func (c *HTTPClient) QueryLogs(buildID string, levels, stages []string, limit, offset int) (*LogQueryResult, error) {
	q := url.Values{}
	q.Set("build_id", buildID)
	if len(levels) > 0 {
		q.Set("levels", strings.Join(levels, ","))
	}
	if len(stages) > 0 {
		q.Set("stages", strings.Join(stages, ","))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", offset))
	}

	var out LogQueryResult
	if err := c.get("/api/logs/query?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) post(path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: %d %s", path, resp.StatusCode, string(respBody))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
