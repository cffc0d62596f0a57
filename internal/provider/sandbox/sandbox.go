// Package sandbox defines the sandbox capability contract and its provider
// implementations: isolated command execution for verification runs.
package sandbox

import (
	"context"

	"github.com/zjjiang/opd/internal/capability"
)

// RunResult is the outcome of one sandboxed command.
type RunResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Provider is the sandbox capability method set.
type Provider interface {
	capability.Provider

	Run(ctx context.Context, workDir string, command []string) (*RunResult, error)
}
