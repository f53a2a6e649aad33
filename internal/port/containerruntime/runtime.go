// Package containerruntime defines the port for the container engine that
// backs user sandboxes.
package containerruntime

import (
	"context"
	"time"

	"github.com/Strob0t/ChainForge/internal/domain/resource"
)

// CreateSpec describes a sandbox container to provision.
type CreateSpec struct {
	Name   string
	Image  string
	Limits resource.Limits
}

// ExecResult is the raw outcome of a command run inside a container.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runtime provisions and drives sandbox containers.
type Runtime interface {
	// Create provisions a container and returns its id. The container is
	// created stopped.
	Create(ctx context.Context, spec CreateSpec) (string, error)

	// Start starts a created or stopped container.
	Start(ctx context.Context, containerID string) error

	// Exec runs a command inside a running container, bounded by timeout.
	// A non-zero exit or a timeout is reported in the result, not as an error.
	Exec(ctx context.Context, containerID string, command []string, timeout time.Duration) (*ExecResult, error)

	// Stop stops a running container.
	Stop(ctx context.Context, containerID string) error

	// Remove force-removes a container. Removing a missing container is not
	// an error.
	Remove(ctx context.Context, containerID string) error
}
