package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	cfotel "github.com/Strob0t/ChainForge/internal/adapter/otel"
	"github.com/Strob0t/ChainForge/internal/adapter/ws"
	"github.com/Strob0t/ChainForge/internal/domain"
	"github.com/Strob0t/ChainForge/internal/domain/session"
	"github.com/Strob0t/ChainForge/internal/port/broadcast"
	"github.com/Strob0t/ChainForge/internal/port/database"
	"github.com/Strob0t/ChainForge/internal/port/messagequeue"
)

// SchedulerService is the single entry point for starting sessions. It
// enforces the per-user concurrency cap, snapshots chain and settings at
// start, and owns the lifetime of the goroutine driving each session.
type SchedulerService struct {
	store    database.Store
	settings *SettingsService
	loop     *LoopService
	queue    messagequeue.Queue
	hub      broadcast.Broadcaster
	metrics  *cfotel.Metrics

	mu      sync.Mutex
	sems    map[string]*semaphore.Weighted
	cancels sync.Map // session id -> context.CancelFunc
	wg      sync.WaitGroup
}

// NewSchedulerService creates a SchedulerService.
func NewSchedulerService(store database.Store, settingsSvc *SettingsService, loop *LoopService, queue messagequeue.Queue, hub broadcast.Broadcaster) *SchedulerService {
	return &SchedulerService{
		store:    store,
		settings: settingsSvc,
		loop:     loop,
		queue:    queue,
		hub:      hub,
		sems:     make(map[string]*semaphore.Weighted),
	}
}

// SetMetrics attaches metric instruments. Optional; nil disables recording.
func (s *SchedulerService) SetMetrics(m *cfotel.Metrics) {
	s.metrics = m
}

// StartSession validates the request, snapshots the chain and settings, and
// starts the loop in its own goroutine. The returned session is already
// running; progress arrives over the WebSocket hub and NATS.
func (s *SchedulerService) StartSession(ctx context.Context, req session.StartRequest) (*session.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Settings and chain definition are read once here; mid-session changes
	// never affect a running session.
	snap := s.settings.Snapshot(ctx)
	ch, err := s.store.GetChain(ctx, req.ChainSlug)
	if err != nil {
		return nil, fmt.Errorf("resolve chain %q: %w", req.ChainSlug, err)
	}
	if !ch.Enabled {
		return nil, fmt.Errorf("chain %q is disabled: %w", req.ChainSlug, domain.ErrValidation)
	}

	sem := s.userSemaphore(req.UserID, int64(snap.MaxSessionsPerUser))
	if !sem.TryAcquire(1) {
		return nil, fmt.Errorf("user %s already runs %d sessions: %w", req.UserID, snap.MaxSessionsPerUser, domain.ErrConflict)
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = session.TriggerChat
	}
	sess := &session.Session{
		ChainSlug:    ch.Slug,
		ChainVersion: ch.Version,
		UserID:       req.UserID,
		Trigger:      trigger,
		Status:       session.StatusRunning,
		StartedAt:    time.Now(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		sem.Release(1)
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.Info("session started",
		"session", sess.ID, "chain", ch.Slug, "user", req.UserID, "trigger", trigger)
	if s.metrics != nil {
		s.metrics.SessionsStarted.Add(ctx, 1)
	}
	s.announceStarted(ctx, sess)

	// The session outlives the HTTP request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancels.Store(sess.ID, cancel)

	input := renderInput(req)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sem.Release(1)
		defer s.cancels.Delete(sess.ID)
		defer cancel()

		if err := s.loop.RunChain(runCtx, sess, ch, input, snap); err != nil {
			slog.Error("session loop failed", "session", sess.ID, "error", err)
		}
	}()

	return sess, nil
}

// Cancel requests cooperative cancellation of a running session. The loop
// notices at its next blocking point and records the cancelled status.
func (s *SchedulerService) Cancel(ctx context.Context, sessionID string) error {
	if cancel, ok := s.cancels.Load(sessionID); ok {
		cancel.(context.CancelFunc)()
		return nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return fmt.Errorf("session %s already %s: %w", sessionID, sess.Status, domain.ErrConflict)
	}
	// Running according to the store but not owned by this process; likely a
	// crash leftover. Mark it cancelled directly.
	return s.store.CompleteSession(ctx, sessionID, session.StatusCancelled, "", "", "cancelled")
}

// Get returns one session by id.
func (s *SchedulerService) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.store.GetSession(ctx, id)
}

// List returns recent sessions, optionally filtered by user.
func (s *SchedulerService) List(ctx context.Context, userID string, limit int) ([]session.Session, error) {
	sessions, err := s.store.ListSessions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Transcript returns the ordered step list for a session.
func (s *SchedulerService) Transcript(ctx context.Context, sessionID string) (*session.Transcript, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetTranscript(ctx, sessionID)
}

// SubscribeTriggers wires the external trigger subject to StartSession so
// schedulers and cron services can start sessions through NATS.
func (s *SchedulerService) SubscribeTriggers(ctx context.Context) (func(), error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectTriggerFire, func(ctx context.Context, _ string, data []byte) error {
		var payload messagequeue.TriggerFirePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode trigger payload: %w", err)
		}
		_, err := s.StartSession(ctx, session.StartRequest{
			ChainSlug: payload.ChainSlug,
			UserID:    payload.UserID,
			Trigger:   session.TriggerScheduled,
			Input:     payload.Input,
			Params:    payload.Params,
		})
		if err != nil {
			slog.Error("trigger-fired session rejected",
				"chain", payload.ChainSlug, "user", payload.UserID, "error", err)
		}
		return nil
	})
}

// Shutdown cancels all running sessions and waits for their loops to record
// terminal status, bounded by ctx.
func (s *SchedulerService) Shutdown(ctx context.Context) error {
	s.cancels.Range(func(_, cancel any) bool {
		cancel.(context.CancelFunc)()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session shutdown: %w", ctx.Err())
	}
}

func (s *SchedulerService) userSemaphore(userID string, capacity int64) *semaphore.Weighted {
	if capacity < 1 {
		capacity = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[userID]
	if !ok {
		sem = semaphore.NewWeighted(capacity)
		s.sems[userID] = sem
	}
	return sem
}

func (s *SchedulerService) announceStarted(ctx context.Context, sess *session.Session) {
	s.hub.BroadcastEvent(ctx, ws.EventSessionStatus, ws.SessionStatusEvent{
		SessionID: sess.ID,
		ChainSlug: sess.ChainSlug,
		UserID:    sess.UserID,
		Status:    string(sess.Status),
	})
	payload, _ := json.Marshal(messagequeue.SessionLifecyclePayload{
		SessionID: sess.ID,
		ChainSlug: sess.ChainSlug,
		UserID:    sess.UserID,
		Status:    string(sess.Status),
	})
	if err := s.queue.Publish(ctx, messagequeue.SubjectSessionStarted, payload); err != nil {
		slog.Warn("session start publish failed", "session", sess.ID, "error", err)
	}
}

// renderInput folds request parameters into the user input text.
func renderInput(req session.StartRequest) string {
	if len(req.Params) == 0 {
		return req.Input
	}
	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(req.Input)
	b.WriteString("\n\nParameters:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, req.Params[k])
	}
	return b.String()
}
