package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/zjjiang/opd/internal/capability"
)

const defaultAPIBase = "https://api.github.com"

// GitHubSchema is the config schema for the github provider.
var GitHubSchema = []capability.ConfigField{
	{Name: "token", Label: "Access token", Type: capability.FieldPassword, Required: true},
	{Name: "base_url", Label: "API base URL", Type: capability.FieldText},
	{Name: "webhook_secret", Label: "Webhook secret", Type: capability.FieldPassword},
}

// GitHub implements the SCM contract against the GitHub REST API, with
// local git operations shelled out with explicit timeouts.
type GitHub struct {
	config  map[string]string
	token   string
	baseURL string
	client  *http.Client
}

// NewGitHub builds a GitHub provider from config.
func NewGitHub(config map[string]string) (capability.Provider, error) {
	if config == nil {
		config = map[string]string{}
	}
	base := config["base_url"]
	if base == "" {
		base = defaultAPIBase
	}
	return &GitHub{
		config:  config,
		token:   config["token"],
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// ProviderName identifies this implementation in the registry catalog.
func (g *GitHub) ProviderName() string { return "github" }

// Config returns the raw provider config.
func (g *GitHub) Config() map[string]string { return g.config }

// Initialize validates that a token is configured. The token itself is
// verified lazily by HealthCheck and PreflightCheck.
func (g *GitHub) Initialize(ctx context.Context) error {
	if g.token == "" {
		return fmt.Errorf("github: token is required (set GITHUB_TOKEN or configure the provider)")
	}
	return nil
}

// Cleanup releases nothing.
func (g *GitHub) Cleanup(ctx context.Context) error { return nil }

// HealthCheck calls /user to verify the token is valid.
func (g *GitHub) HealthCheck(ctx context.Context) capability.HealthStatus {
	start := time.Now()
	status := capability.HealthStatus{CheckedAt: start}
	if g.token == "" {
		status.Message = "token not configured"
		return status
	}
	var user struct {
		Login string `json:"login"`
	}
	err := g.api(ctx, http.MethodGet, "/user", nil, &user)
	status.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		status.Message = err.Error()
		return status
	}
	status.Healthy = true
	status.Message = fmt.Sprintf("authenticated as %s", user.Login)
	return status
}

// --- Local git operations ---

// authedURL injects the token into HTTPS git URLs for authentication.
func (g *GitHub) authedURL(url string) string {
	if g.token == "" {
		return url
	}
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(url, prefix) {
			return prefix + "x-access-token:" + g.token + "@" + url[len(prefix):]
		}
	}
	return url
}

// runGit executes a git subcommand in dir with a timeout, surfacing stderr
// in the error.
func runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("git %s: %s", args[0], msg)
	}
	return nil
}

func (g *GitHub) CloneRepo(ctx context.Context, repoURL, targetDir string) error {
	return runGit(ctx, "", 120*time.Second, "clone", g.authedURL(repoURL), targetDir)
}

func (g *GitHub) CreateBranch(ctx context.Context, repoDir, branchName string) error {
	return runGit(ctx, repoDir, 10*time.Second, "checkout", "-b", branchName)
}

func (g *GitHub) CommitChanges(ctx context.Context, repoDir, message string) error {
	if err := runGit(ctx, repoDir, 30*time.Second, "add", "-A"); err != nil {
		return err
	}
	return runGit(ctx, repoDir, 30*time.Second, "commit", "-m", message)
}

func (g *GitHub) PushBranch(ctx context.Context, repoDir, branchName string) error {
	return runGit(ctx, repoDir, 60*time.Second, "push", "-u", "origin", branchName)
}

// --- Remote API operations ---

// api performs one authenticated JSON request against the GitHub API.
func (g *GitHub) api(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("github: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("github: %s %s: %s", method, path, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("github: decoding response: %w", err)
		}
	}
	return nil
}

func (g *GitHub) CreatePullRequest(ctx context.Context, repo, title, body, head, base string) (*PullRequest, error) {
	var created struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
		Title   string `json:"title"`
	}
	payload := map[string]string{"title": title, "body": body, "head": head, "base": base}
	if err := g.api(ctx, http.MethodPost, "/repos/"+repo+"/pulls", payload, &created); err != nil {
		return nil, err
	}
	return &PullRequest{
		ID:    created.Number,
		URL:   created.HTMLURL,
		State: created.State,
		Title: created.Title,
	}, nil
}

func (g *GitHub) GetReviewComments(ctx context.Context, repo string, prNumber int) ([]ReviewComment, error) {
	var raw []struct {
		ID   int64 `json:"id"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
		Body  string `json:"body"`
		Path  string `json:"path"`
		Line  int    `json:"line"`
		State string `json:"state"`
	}
	path := fmt.Sprintf("/repos/%s/pulls/%d/comments", repo, prNumber)
	if err := g.api(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	comments := make([]ReviewComment, 0, len(raw))
	for _, c := range raw {
		comments = append(comments, ReviewComment{
			ID: c.ID, User: c.User.Login, Body: c.Body,
			Path: c.Path, Line: c.Line, State: c.State,
		})
	}
	return comments, nil
}

func (g *GitHub) UpdatePullRequest(ctx context.Context, repo string, prNumber int, title, body string) error {
	payload := map[string]string{}
	if title != "" {
		payload["title"] = title
	}
	if body != "" {
		payload["body"] = body
	}
	path := fmt.Sprintf("/repos/%s/pulls/%d", repo, prNumber)
	return g.api(ctx, http.MethodPatch, path, payload, nil)
}

func (g *GitHub) MergePullRequest(ctx context.Context, repo string, prNumber int) error {
	path := fmt.Sprintf("/repos/%s/pulls/%d/merge", repo, prNumber)
	return g.api(ctx, http.MethodPut, path, map[string]string{}, nil)
}

func (g *GitHub) GetPRStatus(ctx context.Context, repo string, prNumber int) (string, error) {
	var pr struct {
		State  string `json:"state"`
		Merged bool   `json:"merged"`
	}
	path := fmt.Sprintf("/repos/%s/pulls/%d", repo, prNumber)
	if err := g.api(ctx, http.MethodGet, path, nil, &pr); err != nil {
		return "", err
	}
	if pr.Merged {
		return "merged", nil
	}
	return pr.State, nil
}

// PreflightCheck validates the token and push permission on a repository.
func (g *GitHub) PreflightCheck(ctx context.Context, repo string) PreflightStatus {
	status := PreflightStatus{Errors: []string{}}
	if g.token == "" {
		status.Errors = append(status.Errors, "token not configured")
		return status
	}
	var info struct {
		Permissions struct {
			Push bool `json:"push"`
		} `json:"permissions"`
	}
	if err := g.api(ctx, http.MethodGet, "/repos/"+repo, nil, &info); err != nil {
		status.Errors = append(status.Errors, err.Error())
		return status
	}
	if !info.Permissions.Push {
		status.Errors = append(status.Errors, fmt.Sprintf("token has no push permission on %s", repo))
		return status
	}
	status.OK = true
	return status
}
