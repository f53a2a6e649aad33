package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/ChainForge/internal/config"
	"github.com/Strob0t/ChainForge/internal/domain"
	"github.com/Strob0t/ChainForge/internal/domain/resource"
	"github.com/Strob0t/ChainForge/internal/domain/sandbox"
	"github.com/Strob0t/ChainForge/internal/port/broadcast"
	"github.com/Strob0t/ChainForge/internal/port/containerruntime"
	"github.com/Strob0t/ChainForge/internal/port/database"
	"github.com/Strob0t/ChainForge/internal/port/messagequeue"
)

// SandboxService manages one isolated execution environment per user.
// Acquire is idempotent: a live sandbox is always reused, enforced by the
// store's unique live-row-per-user constraint.
type SandboxService struct {
	store   database.Store
	runtime containerruntime.Runtime
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	cfg     config.Sandbox

	mu       sync.Mutex
	inFlight map[string]int // sandbox id -> running executions
}

// NewSandboxService creates a SandboxService.
func NewSandboxService(store database.Store, rt containerruntime.Runtime, queue messagequeue.Queue, hub broadcast.Broadcaster, cfg config.Sandbox) *SandboxService {
	return &SandboxService{
		store:    store,
		runtime:  rt,
		queue:    queue,
		hub:      hub,
		cfg:      cfg,
		inFlight: make(map[string]int),
	}
}

// defaultLimits builds resource limits from service configuration.
func (s *SandboxService) defaultLimits() resource.Limits {
	return resource.Limits{
		MemoryMB:    s.cfg.MemoryMB,
		CPUQuota:    s.cfg.CPUQuota,
		PidsLimit:   s.cfg.PidsLimit,
		ExecTimeout: s.cfg.ExecTimeout,
		NetworkMode: s.cfg.NetworkMode,
	}
}

// Acquire returns the user's sandbox, provisioning one on first use. A
// stopped sandbox is restarted; a live one just gets its access time bumped.
func (s *SandboxService) Acquire(ctx context.Context, userID string) (*sandbox.UserSandbox, error) {
	sb, err := s.store.GetSandboxByUser(ctx, userID)
	switch {
	case err == nil:
		return s.reuse(ctx, sb)
	case errors.Is(err, domain.ErrNotFound):
		return s.provision(ctx, userID)
	default:
		return nil, err
	}
}

func (s *SandboxService) reuse(ctx context.Context, sb *sandbox.UserSandbox) (*sandbox.UserSandbox, error) {
	if sb.Status == sandbox.StatusStopped || sb.Status == sandbox.StatusCreated {
		if err := s.runtime.Start(ctx, sb.ContainerID); err != nil {
			return nil, fmt.Errorf("restart sandbox %s: %w", sb.ID, err)
		}
		if err := s.store.UpdateSandboxStatus(ctx, sb.ID, sandbox.StatusRunning); err != nil {
			return nil, err
		}
		sb.Status = sandbox.StatusRunning
		s.broadcastStatus(ctx, sb)
	}

	if err := s.store.TouchSandbox(ctx, sb.ID, time.Now()); err != nil {
		slog.Debug("sandbox touch failed", "sandbox", sb.ID, "error", err)
	}
	sb.LastAccessed = time.Now()
	return sb, nil
}

func (s *SandboxService) provision(ctx context.Context, userID string) (*sandbox.UserSandbox, error) {
	limits := s.defaultLimits()
	name := containerName(userID)

	containerID, err := s.runtime.Create(ctx, containerruntime.CreateSpec{
		Name:   name,
		Image:  s.cfg.Image,
		Limits: limits,
	})
	if err != nil {
		return nil, fmt.Errorf("provision sandbox for %s: %w", userID, err)
	}

	sb := &sandbox.UserSandbox{
		UserID:        userID,
		ContainerName: name,
		ContainerID:   containerID,
		Status:        sandbox.StatusCreated,
		Limits:        limits,
	}
	if err := s.store.CreateSandbox(ctx, sb); err != nil {
		// A concurrent Acquire for the same user won the race. Discard our
		// container and reuse the winner's row.
		_ = s.runtime.Remove(ctx, containerID)
		existing, getErr := s.store.GetSandboxByUser(ctx, userID)
		if getErr != nil {
			return nil, err
		}
		return s.reuse(ctx, existing)
	}

	if err := s.runtime.Start(ctx, containerID); err != nil {
		_ = s.store.UpdateSandboxStatus(ctx, sb.ID, sandbox.StatusError)
		return nil, fmt.Errorf("start sandbox %s: %w", sb.ID, err)
	}
	if err := s.store.UpdateSandboxStatus(ctx, sb.ID, sandbox.StatusRunning); err != nil {
		return nil, err
	}
	sb.Status = sandbox.StatusRunning

	slog.Info("sandbox provisioned", "sandbox", sb.ID, "user", userID, "container", name)
	s.broadcastStatus(ctx, sb)
	return sb, nil
}

// Execute runs code inside the user's sandbox. Timeouts and resource
// overruns are recoverable results; the sandbox and session stay usable.
func (s *SandboxService) Execute(ctx context.Context, sb *sandbox.UserSandbox, code, language string) (*sandbox.ExecutionResult, error) {
	command, err := execCommand(code, language)
	if err != nil {
		return nil, err
	}

	timeout := sb.Limits.ExecTimeout
	if timeout <= 0 {
		timeout = s.cfg.ExecTimeout
	}

	s.mu.Lock()
	s.inFlight[sb.ID]++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight[sb.ID]--
		s.mu.Unlock()
	}()

	raw, err := s.runtime.Exec(ctx, sb.ContainerID, command, timeout)
	if err != nil {
		return nil, fmt.Errorf("sandbox exec: %w", err)
	}

	if touchErr := s.store.TouchSandbox(ctx, sb.ID, time.Now()); touchErr != nil {
		slog.Debug("sandbox touch failed", "sandbox", sb.ID, "error", touchErr)
	}

	result := &sandbox.ExecutionResult{
		Stdout:   raw.Stdout,
		Stderr:   raw.Stderr,
		ExitCode: raw.ExitCode,
		Duration: raw.Duration,
	}
	switch {
	case raw.TimedOut:
		result.Outcome = sandbox.OutcomeTimeout
	case raw.ExitCode == 137:
		// SIGKILL from the memory controller.
		result.Outcome = sandbox.OutcomeResourceExceeded
	case raw.ExitCode != 0:
		result.Outcome = sandbox.OutcomeError
	default:
		result.Outcome = sandbox.OutcomeOK
	}
	return result, nil
}

// Reap removes sandboxes idle past the threshold. Sandboxes with an
// execution in flight are skipped and picked up on a later pass.
func (s *SandboxService) Reap(ctx context.Context, idleThreshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-idleThreshold)
	idle, err := s.store.ListIdleSandboxes(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for i := range idle {
		sb := &idle[i]

		s.mu.Lock()
		busy := s.inFlight[sb.ID] > 0
		s.mu.Unlock()
		if busy {
			slog.Debug("sandbox reap deferred, execution in flight", "sandbox", sb.ID)
			continue
		}

		if err := s.runtime.Remove(ctx, sb.ContainerID); err != nil {
			slog.Warn("sandbox container remove failed", "sandbox", sb.ID, "error", err)
			continue
		}
		if err := s.store.UpdateSandboxStatus(ctx, sb.ID, sandbox.StatusRemoved); err != nil {
			slog.Warn("sandbox status update failed", "sandbox", sb.ID, "error", err)
			continue
		}
		sb.Status = sandbox.StatusRemoved
		reaped++

		slog.Info("sandbox reaped", "sandbox", sb.ID, "user", sb.UserID, "idle_since", sb.LastAccessed)
		s.broadcastStatus(ctx, sb)
		if s.queue != nil {
			payload, _ := json.Marshal(map[string]string{"sandbox_id": sb.ID, "user_id": sb.UserID})
			if err := s.queue.Publish(ctx, messagequeue.SubjectSandboxReaped, payload); err != nil {
				slog.Warn("sandbox reap event publish failed", "sandbox", sb.ID, "error", err)
			}
		}
	}
	return reaped, nil
}

// RunReaper runs the reap loop until ctx is cancelled. The idle threshold is
// re-read from settings each pass so runtime changes take effect.
func (s *SandboxService) RunReaper(ctx context.Context, interval time.Duration, threshold func(context.Context) time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reap(ctx, threshold(ctx)); err != nil {
				slog.Error("sandbox reap pass failed", "error", err)
			}
		}
	}
}

// Get returns the user's live sandbox, or domain.ErrNotFound when none exists.
func (s *SandboxService) Get(ctx context.Context, userID string) (*sandbox.UserSandbox, error) {
	return s.store.GetSandboxByUser(ctx, userID)
}

func (s *SandboxService) broadcastStatus(ctx context.Context, sb *sandbox.UserSandbox) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, "sandbox.status", map[string]string{
		"sandbox_id": sb.ID,
		"user_id":    sb.UserID,
		"status":     string(sb.Status),
	})
}

// execCommand maps a language to the interpreter invocation inside the container.
func execCommand(code, language string) ([]string, error) {
	switch strings.ToLower(language) {
	case "python", "python3", "":
		return []string{"python3", "-c", code}, nil
	case "bash", "sh", "shell":
		return []string{"sh", "-c", code}, nil
	default:
		return nil, fmt.Errorf("unsupported language %q: %w", language, domain.ErrValidation)
	}
}

// containerName derives a stable docker-safe name from the user id.
func containerName(userID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, userID)
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return "chainforge-sbx-" + sanitized
}
