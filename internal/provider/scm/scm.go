// Package scm defines the source-control capability contract and its
// provider implementations.
package scm

import (
	"context"

	"github.com/zjjiang/opd/internal/capability"
)

// PullRequest is the provider-neutral view of a remote pull request.
type PullRequest struct {
	ID    int    `json:"id"`
	URL   string `json:"url"`
	State string `json:"state"`
	Title string `json:"title"`
}

// ReviewComment is one review comment on a pull request.
type ReviewComment struct {
	ID    int64  `json:"id"`
	User  string `json:"user"`
	Body  string `json:"body"`
	Path  string `json:"path,omitempty"`
	Line  int    `json:"line,omitempty"`
	State string `json:"state,omitempty"`
}

// PreflightStatus reports whether the provider can push to a repository.
type PreflightStatus struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

// Provider is the SCM capability method set. Repo arguments are
// "owner/name" slugs; repo_dir arguments are local checkouts.
type Provider interface {
	capability.Provider

	CloneRepo(ctx context.Context, repoURL, targetDir string) error
	CreateBranch(ctx context.Context, repoDir, branchName string) error
	CommitChanges(ctx context.Context, repoDir, message string) error
	PushBranch(ctx context.Context, repoDir, branchName string) error

	CreatePullRequest(ctx context.Context, repo, title, body, head, base string) (*PullRequest, error)
	GetReviewComments(ctx context.Context, repo string, prNumber int) ([]ReviewComment, error)
	UpdatePullRequest(ctx context.Context, repo string, prNumber int, title, body string) error
	MergePullRequest(ctx context.Context, repo string, prNumber int) error
	GetPRStatus(ctx context.Context, repo string, prNumber int) (string, error)

	PreflightCheck(ctx context.Context, repo string) PreflightStatus
}
