// Package ci defines the CI capability contract and its provider
// implementations.
package ci

import (
	"context"

	"github.com/zjjiang/opd/internal/capability"
)

// PipelineStatus is the provider-neutral pipeline state.
type PipelineStatus string

const (
	PipelineQueued    PipelineStatus = "queued"
	PipelineRunning   PipelineStatus = "running"
	PipelineSucceeded PipelineStatus = "succeeded"
	PipelineFailed    PipelineStatus = "failed"
	PipelineUnknown   PipelineStatus = "unknown"
)

// Pipeline is one triggered CI run.
type Pipeline struct {
	ID     string         `json:"id"`
	Status PipelineStatus `json:"status"`
}

// Provider is the CI capability method set.
type Provider interface {
	capability.Provider

	TriggerPipeline(ctx context.Context, repo, branch string) (*Pipeline, error)
	GetPipelineStatus(ctx context.Context, repo, pipelineID string) (PipelineStatus, error)
	GetPipelineLogs(ctx context.Context, repo, pipelineID string) (string, error)
}
