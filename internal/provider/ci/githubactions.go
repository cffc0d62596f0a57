package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zjjiang/opd/internal/capability"
)

const defaultAPIBase = "https://api.github.com"

// GitHubActionsSchema is the config schema for the github_actions provider.
var GitHubActionsSchema = []capability.ConfigField{
	{Name: "token", Label: "Access token", Type: capability.FieldPassword, Required: true},
	{Name: "base_url", Label: "API base URL", Type: capability.FieldText},
	{Name: "workflow_file", Label: "Workflow file", Type: capability.FieldText, Default: "ci.yml"},
}

// GitHubActions drives workflow runs through the GitHub Actions REST API.
type GitHubActions struct {
	config   map[string]string
	token    string
	baseURL  string
	workflow string
	client   *http.Client
}

// NewGitHubActions builds a GitHubActions provider from config.
func NewGitHubActions(config map[string]string) (capability.Provider, error) {
	if config == nil {
		config = map[string]string{}
	}
	base := config["base_url"]
	if base == "" {
		base = defaultAPIBase
	}
	workflow := config["workflow_file"]
	if workflow == "" {
		workflow = "ci.yml"
	}
	return &GitHubActions{
		config:   config,
		token:    config["token"],
		baseURL:  strings.TrimRight(base, "/"),
		workflow: workflow,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// ProviderName identifies this implementation in the registry catalog.
func (g *GitHubActions) ProviderName() string { return "github_actions" }

// Config returns the raw provider config.
func (g *GitHubActions) Config() map[string]string { return g.config }

func (g *GitHubActions) Initialize(ctx context.Context) error {
	if g.token == "" {
		return fmt.Errorf("github_actions: token is required")
	}
	return nil
}

func (g *GitHubActions) Cleanup(ctx context.Context) error { return nil }

// HealthCheck probes the rate-limit endpoint, which is cheap and
// token-authenticated.
func (g *GitHubActions) HealthCheck(ctx context.Context) capability.HealthStatus {
	start := time.Now()
	status := capability.HealthStatus{CheckedAt: start}
	if g.token == "" {
		status.Message = "token not configured"
		return status
	}
	err := g.api(ctx, http.MethodGet, "/rate_limit", nil, nil)
	status.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		status.Message = err.Error()
		return status
	}
	status.Healthy = true
	return status
}

func (g *GitHubActions) api(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github_actions: encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("github_actions: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("github_actions: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("github_actions: %s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("github_actions: decoding response: %w", err)
		}
	}
	return nil
}

// TriggerPipeline dispatches the configured workflow on a branch. The
// dispatch endpoint returns no body, so the run is reported as queued with
// the branch as its handle.
func (g *GitHubActions) TriggerPipeline(ctx context.Context, repo, branch string) (*Pipeline, error) {
	path := fmt.Sprintf("/repos/%s/actions/workflows/%s/dispatches", repo, g.workflow)
	payload := map[string]string{"ref": branch}
	if err := g.api(ctx, http.MethodPost, path, payload, nil); err != nil {
		return nil, err
	}
	return &Pipeline{ID: branch, Status: PipelineQueued}, nil
}

// GetPipelineStatus reads the latest workflow run for the branch handle.
func (g *GitHubActions) GetPipelineStatus(ctx context.Context, repo, pipelineID string) (PipelineStatus, error) {
	var runs struct {
		WorkflowRuns []struct {
			Status     string `json:"status"`
			Conclusion string `json:"conclusion"`
		} `json:"workflow_runs"`
	}
	path := fmt.Sprintf("/repos/%s/actions/runs?branch=%s&per_page=1", repo, pipelineID)
	if err := g.api(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return PipelineUnknown, err
	}
	if len(runs.WorkflowRuns) == 0 {
		return PipelineUnknown, nil
	}
	run := runs.WorkflowRuns[0]
	switch run.Status {
	case "queued":
		return PipelineQueued, nil
	case "in_progress":
		return PipelineRunning, nil
	case "completed":
		if run.Conclusion == "success" {
			return PipelineSucceeded, nil
		}
		return PipelineFailed, nil
	}
	return PipelineUnknown, nil
}

// GetPipelineLogs summarizes the jobs of the latest run for the branch.
// Full log archives are zip downloads; the job/step conclusions are what
// the verification stage needs.
func (g *GitHubActions) GetPipelineLogs(ctx context.Context, repo, pipelineID string) (string, error) {
	var runs struct {
		WorkflowRuns []struct {
			ID int64 `json:"id"`
		} `json:"workflow_runs"`
	}
	path := fmt.Sprintf("/repos/%s/actions/runs?branch=%s&per_page=1", repo, pipelineID)
	if err := g.api(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return "", err
	}
	if len(runs.WorkflowRuns) == 0 {
		return "", fmt.Errorf("github_actions: no runs for branch %q", pipelineID)
	}

	var jobs struct {
		Jobs []struct {
			Name       string `json:"name"`
			Conclusion string `json:"conclusion"`
			Steps      []struct {
				Name       string `json:"name"`
				Conclusion string `json:"conclusion"`
			} `json:"steps"`
		} `json:"jobs"`
	}
	path = fmt.Sprintf("/repos/%s/actions/runs/%d/jobs", repo, runs.WorkflowRuns[0].ID)
	if err := g.api(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, job := range jobs.Jobs {
		fmt.Fprintf(&b, "job %s: %s\n", job.Name, job.Conclusion)
		for _, step := range job.Steps {
			fmt.Fprintf(&b, "  step %s: %s\n", step.Name, step.Conclusion)
		}
	}
	return b.String(), nil
}
