package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/zjjiang/opd/internal/capability"
)

// DockerLocalSchema is the config schema for the docker_local provider.
var DockerLocalSchema = []capability.ConfigField{
	{Name: "image", Label: "Image", Type: capability.FieldText, Required: true, Default: "ubuntu:24.04"},
	{Name: "timeout_seconds", Label: "Run timeout (s)", Type: capability.FieldText, Default: "600"},
}

// DockerLocal runs commands inside a local docker container with the work
// directory bind-mounted at /work.
type DockerLocal struct {
	config  map[string]string
	image   string
	timeout time.Duration
}

// NewDockerLocal builds a DockerLocal provider from config.
func NewDockerLocal(config map[string]string) (capability.Provider, error) {
	if config == nil {
		config = map[string]string{}
	}
	image := config["image"]
	if image == "" {
		image = "ubuntu:24.04"
	}
	timeout := 600 * time.Second
	if raw := config["timeout_seconds"]; raw != "" {
		d, err := time.ParseDuration(raw + "s")
		if err != nil {
			return nil, fmt.Errorf("docker_local: invalid timeout_seconds %q", raw)
		}
		timeout = d
	}
	return &DockerLocal{config: config, image: image, timeout: timeout}, nil
}

// ProviderName identifies this implementation in the registry catalog.
func (d *DockerLocal) ProviderName() string { return "docker_local" }

// Config returns the raw provider config.
func (d *DockerLocal) Config() map[string]string { return d.config }

func (d *DockerLocal) Initialize(ctx context.Context) error { return nil }

func (d *DockerLocal) Cleanup(ctx context.Context) error { return nil }

// HealthCheck probes the docker daemon.
func (d *DockerLocal) HealthCheck(ctx context.Context) capability.HealthStatus {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := exec.CommandContext(probeCtx, "docker", "version", "--format", "{{.Server.Version}}").Run()
	status := capability.HealthStatus{
		LatencyMS: time.Since(start).Milliseconds(),
		CheckedAt: start,
	}
	if err != nil {
		status.Message = fmt.Sprintf("docker daemon unreachable: %v", err)
		return status
	}
	status.Healthy = true
	return status
}

// Run executes a command inside a fresh container. The container is
// removed afterwards; only stdout/stderr and the exit code come back.
func (d *DockerLocal) Run(ctx context.Context, workDir string, command []string) (*RunResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("docker_local: empty command")
	}
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := []string{"run", "--rm", "-v", workDir + ":/work", "-w", "/work", d.image}
	args = append(args, command...)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	result := &RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("docker_local: running %s: %w", strings.Join(command, " "), err)
	}
	return result, nil
}
