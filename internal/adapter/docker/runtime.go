// Package docker implements the container runtime port using the docker CLI.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Strob0t/ChainForge/internal/port/containerruntime"
)

// Runtime drives sandbox containers through the docker command line.
type Runtime struct{}

// New returns a docker CLI runtime.
func New() *Runtime {
	return &Runtime{}
}

// Create provisions a long-lived sandbox container. The container idles on
// sleep so repeated Exec calls reuse the same environment; /workspace and
// /tmp are writable tmpfs, everything else is read-only.
func (r *Runtime) Create(ctx context.Context, spec containerruntime.CreateSpec) (string, error) {
	args := []string{
		"create",
		"--name", spec.Name,
		fmt.Sprintf("--memory=%dm", spec.Limits.MemoryMB),
		fmt.Sprintf("--cpus=%.2f", float64(spec.Limits.CPUQuota)/1000),
		fmt.Sprintf("--pids-limit=%d", spec.Limits.PidsLimit),
	}

	if spec.Limits.NetworkMode != "" {
		args = append(args, fmt.Sprintf("--network=%s", spec.Limits.NetworkMode))
	}

	args = append(args,
		"--read-only",
		"--tmpfs", "/workspace:rw,size=256m",
		"--tmpfs", "/tmp:rw,size=64m",
		"--workdir", "/workspace",
		"--security-opt=no-new-privileges",
		"--cap-drop=ALL",
		spec.Image,
		"sleep", "infinity",
	)

	output, err := runDocker(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("docker create: %w", err)
	}
	return strings.TrimSpace(output), nil
}

// Start starts a created or stopped container.
func (r *Runtime) Start(ctx context.Context, containerID string) error {
	if _, err := runDocker(ctx, "start", containerID); err != nil {
		return fmt.Errorf("docker start: %w", err)
	}
	return nil
}

// Exec runs a command inside the container bounded by timeout. A non-zero
// exit or a timeout ends up in the result, not the error return.
func (r *Runtime) Exec(ctx context.Context, containerID string, command []string, timeout time.Duration) (*containerruntime.ExecResult, error) {
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append([]string{"exec", containerID}, command...)
	cmd := exec.CommandContext(execCtx, "docker", args...) //nolint:gosec // G204: docker args are constructed internally, not from user input

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &containerruntime.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if execCtx.Err() != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("docker exec: %w", err)
	}
	return result, nil
}

// Stop stops a running container.
func (r *Runtime) Stop(ctx context.Context, containerID string) error {
	if _, err := runDocker(ctx, "stop", "-t", "10", containerID); err != nil {
		return fmt.Errorf("docker stop: %w", err)
	}
	return nil
}

// Remove force-removes a container. A missing container is not an error.
func (r *Runtime) Remove(ctx context.Context, containerID string) error {
	if _, err := runDocker(ctx, "rm", "-f", containerID); err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return nil
		}
		return fmt.Errorf("docker rm: %w", err)
	}
	return nil
}

// runDocker executes a docker command and returns stdout.
func runDocker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...) //nolint:gosec // G204: docker args are constructed internally, not from user input

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
