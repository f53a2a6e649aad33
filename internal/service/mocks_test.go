package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/ChainForge/internal/domain"
	"github.com/Strob0t/ChainForge/internal/domain/agent"
	"github.com/Strob0t/ChainForge/internal/domain/artifact"
	"github.com/Strob0t/ChainForge/internal/domain/chain"
	"github.com/Strob0t/ChainForge/internal/domain/sandbox"
	"github.com/Strob0t/ChainForge/internal/domain/session"
	"github.com/Strob0t/ChainForge/internal/domain/settings"
	"github.com/Strob0t/ChainForge/internal/port/completion"
	"github.com/Strob0t/ChainForge/internal/port/containerruntime"
	"github.com/Strob0t/ChainForge/internal/port/messagequeue"
)

// --- Shared in-memory mocks ---

var errMockNotFound = fmt.Errorf("mock: %w", domain.ErrNotFound)

// memStore is an in-memory database.Store good enough for service tests.
type memStore struct {
	mu            sync.Mutex
	chains        map[string]chain.Chain
	chainVersions map[string][]chain.Version
	agents        map[string]agent.Definition
	agentVersions map[string][]agent.Version
	sessions      map[string]session.Session
	steps         []session.Step
	artifacts     map[string]artifact.Artifact
	sandboxes     []sandbox.UserSandbox
	settings      map[string]json.RawMessage

	nextSession int
}

func newMemStore() *memStore {
	return &memStore{
		chains:        make(map[string]chain.Chain),
		chainVersions: make(map[string][]chain.Version),
		agents:        make(map[string]agent.Definition),
		agentVersions: make(map[string][]agent.Version),
		sessions:      make(map[string]session.Session),
		artifacts:     make(map[string]artifact.Artifact),
		settings:      make(map[string]json.RawMessage),
	}
}

func (m *memStore) ListChains(_ context.Context) ([]chain.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chain.Chain, 0, len(m.chains))
	for _, c := range m.chains {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) GetChain(_ context.Context, slug string) (*chain.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[slug]
	if !ok {
		return nil, errMockNotFound
	}
	return &c, nil
}

func (m *memStore) UpsertChain(_ context.Context, c *chain.Chain, author, reason string) (*chain.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *c
	if prev, ok := m.chains[c.Slug]; ok {
		saved.Version = prev.Version + 1
		saved.CreatedAt = prev.CreatedAt
	} else {
		saved.Version = 1
		saved.CreatedAt = time.Now()
	}
	saved.UpdatedAt = time.Now()
	m.chains[c.Slug] = saved
	snapshot, _ := json.Marshal(saved)
	m.chainVersions[c.Slug] = append([]chain.Version{{
		ID: fmt.Sprintf("cv-%d", saved.Version), ChainSlug: c.Slug,
		Number: saved.Version, Snapshot: snapshot, Author: author, Reason: reason,
		CreatedAt: time.Now(),
	}}, m.chainVersions[c.Slug]...)
	return &saved, nil
}

func (m *memStore) ListChainVersions(_ context.Context, slug string) ([]chain.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainVersions[slug], nil
}

func (m *memStore) GetChainVersion(_ context.Context, slug string, number int) (*chain.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.chainVersions[slug] {
		if v.Number == number {
			return &v, nil
		}
	}
	return nil, errMockNotFound
}

func (m *memStore) ListAgents(_ context.Context) ([]agent.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.Definition, 0, len(m.agents))
	for _, d := range m.agents {
		out = append(out, d)
	}
	return out, nil
}

func (m *memStore) GetAgent(_ context.Context, id string) (*agent.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.agents[id]
	if !ok {
		return nil, errMockNotFound
	}
	return &d, nil
}

func (m *memStore) UpsertAgent(_ context.Context, d *agent.Definition, author, reason string) (*agent.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *d
	if prev, ok := m.agents[d.ID]; ok {
		saved.Version = prev.Version + 1
	} else {
		saved.Version = 1
	}
	saved.UpdatedAt = time.Now()
	m.agents[d.ID] = saved
	snapshot, _ := json.Marshal(saved)
	m.agentVersions[d.ID] = append([]agent.Version{{
		ID: fmt.Sprintf("av-%d", saved.Version), AgentID: d.ID,
		Number: saved.Version, Snapshot: snapshot, Author: author, Reason: reason,
		CreatedAt: time.Now(),
	}}, m.agentVersions[d.ID]...)
	return &saved, nil
}

func (m *memStore) ListAgentVersions(_ context.Context, id string) ([]agent.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agentVersions[id], nil
}

func (m *memStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSession++
	if s.ID == "" {
		s.ID = fmt.Sprintf("sess-%d", m.nextSession)
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	m.sessions[s.ID] = *s
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errMockNotFound
	}
	return &s, nil
}

func (m *memStore) ListSessions(_ context.Context, userID string, _ int) ([]session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []session.Session
	for _, s := range m.sessions {
		if userID == "" || s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) UpdateSessionProgress(_ context.Context, id string, iterations int, tokensIn, tokensOut int64, costUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errMockNotFound
	}
	s.Iterations = iterations
	s.TokensIn = tokensIn
	s.TokensOut = tokensOut
	s.CostUSD = costUSD
	m.sessions[id] = s
	return nil
}

func (m *memStore) CompleteSession(_ context.Context, id string, status session.Status, reason session.FailureReason, output, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errMockNotFound
	}
	if s.CompletedAt != nil {
		return nil // already terminal, mirror the store's WHERE clause
	}
	now := time.Now()
	s.Status = status
	s.FailureReason = reason
	s.Output = output
	s.Error = errMsg
	s.CompletedAt = &now
	m.sessions[id] = s
	return nil
}

func (m *memStore) AppendStep(_ context.Context, step *session.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step.ID = fmt.Sprintf("step-%d", len(m.steps)+1)
	step.CreatedAt = time.Now()
	m.steps = append(m.steps, *step)
	return nil
}

func (m *memStore) GetTranscript(_ context.Context, sessionID string) (*session.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &session.Transcript{SessionID: sessionID}
	for _, s := range m.steps {
		if s.SessionID == sessionID {
			t.Steps = append(t.Steps, s)
		}
	}
	return t, nil
}

func (m *memStore) SessionDepth(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	depth := 0
	for {
		s, ok := m.sessions[id]
		if !ok || s.ParentSessionID == "" {
			return depth, nil
		}
		depth++
		id = s.ParentSessionID
	}
}

func (m *memStore) CreateArtifact(_ context.Context, a *artifact.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Version = 1
	a.IsLatest = true
	a.CreatedAt = time.Now()
	m.artifacts[a.ID] = *a
	return nil
}

func (m *memStore) CreateArtifactVersion(_ context.Context, lineageRoot string, a *artifact.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxVersion := 0
	found := false
	for id, existing := range m.artifacts {
		if id == lineageRoot || existing.ParentID == lineageRoot {
			found = true
			if existing.Version > maxVersion {
				maxVersion = existing.Version
			}
			existing.IsLatest = false
			m.artifacts[id] = existing
		}
	}
	if !found {
		return errMockNotFound
	}
	a.Version = maxVersion + 1
	a.IsLatest = true
	a.ParentID = lineageRoot
	a.CreatedAt = time.Now()
	m.artifacts[a.ID] = *a
	return nil
}

func (m *memStore) GetArtifact(_ context.Context, id string) (*artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, errMockNotFound
	}
	return &a, nil
}

func (m *memStore) ListArtifacts(_ context.Context, filter artifact.ListFilter) ([]artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []artifact.Artifact
	for _, a := range m.artifacts {
		if a.Status == artifact.StatusDeleted {
			continue
		}
		if filter.SessionID != "" && a.SessionID != filter.SessionID {
			continue
		}
		if filter.LatestOnly && !a.IsLatest {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) ListArtifactLineage(_ context.Context, lineageRoot string) ([]artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []artifact.Artifact
	for v := 1; ; v++ {
		found := false
		for id, a := range m.artifacts {
			if (id == lineageRoot || a.ParentID == lineageRoot) && a.Version == v {
				out = append(out, a)
				found = true
			}
		}
		if !found {
			return out, nil
		}
	}
}

func (m *memStore) TouchArtifact(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return errMockNotFound
	}
	a.AccessedAt = at
	m.artifacts[id] = a
	return nil
}

func (m *memStore) UpdateArtifactStatus(_ context.Context, id string, status artifact.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return errMockNotFound
	}
	a.Status = status
	m.artifacts[id] = a
	return nil
}

func (m *memStore) DeleteArtifact(_ context.Context, id string) error {
	return m.UpdateArtifactStatus(context.Background(), id, artifact.StatusDeleted)
}

func (m *memStore) GetSandboxByUser(_ context.Context, userID string) (*sandbox.UserSandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sandboxes {
		if m.sandboxes[i].UserID == userID && m.sandboxes[i].Status != sandbox.StatusRemoved {
			sb := m.sandboxes[i]
			return &sb, nil
		}
	}
	return nil, errMockNotFound
}

func (m *memStore) CreateSandbox(_ context.Context, sb *sandbox.UserSandbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sandboxes {
		if m.sandboxes[i].UserID == sb.UserID && m.sandboxes[i].Status != sandbox.StatusRemoved {
			return fmt.Errorf("mock: live sandbox exists: %w", domain.ErrConflict)
		}
	}
	sb.ID = fmt.Sprintf("sbx-%d", len(m.sandboxes)+1)
	sb.LastAccessed = time.Now()
	sb.CreatedAt = time.Now()
	m.sandboxes = append(m.sandboxes, *sb)
	return nil
}

func (m *memStore) UpdateSandboxStatus(_ context.Context, id string, status sandbox.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sandboxes {
		if m.sandboxes[i].ID == id {
			m.sandboxes[i].Status = status
			return nil
		}
	}
	return errMockNotFound
}

func (m *memStore) TouchSandbox(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sandboxes {
		if m.sandboxes[i].ID == id {
			m.sandboxes[i].LastAccessed = at
			return nil
		}
	}
	return errMockNotFound
}

func (m *memStore) ListIdleSandboxes(_ context.Context, olderThan time.Time) ([]sandbox.UserSandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sandbox.UserSandbox
	for _, sb := range m.sandboxes {
		if sb.Status == sandbox.StatusRunning && sb.LastAccessed.Before(olderThan) {
			out = append(out, sb)
		}
	}
	return out, nil
}

func (m *memStore) ListSettings(_ context.Context) ([]settings.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []settings.Setting
	for k, v := range m.settings {
		out = append(out, settings.Setting{Key: k, Value: v})
	}
	return out, nil
}

func (m *memStore) GetSetting(_ context.Context, key string) (*settings.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	if !ok {
		return nil, errMockNotFound
	}
	return &settings.Setting{Key: key, Value: v}, nil
}

func (m *memStore) UpsertSetting(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// mockRuntime records container operations and returns scripted exec results.
type mockRuntime struct {
	mu       sync.Mutex
	created  []containerruntime.CreateSpec
	started  []string
	removed  []string
	execs    [][]string
	result   containerruntime.ExecResult
	createID string
}

func (m *mockRuntime) Create(_ context.Context, spec containerruntime.CreateSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, spec)
	if m.createID != "" {
		return m.createID, nil
	}
	return fmt.Sprintf("ctr-%d", len(m.created)), nil
}

func (m *mockRuntime) Start(_ context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, containerID)
	return nil
}

func (m *mockRuntime) Exec(_ context.Context, _ string, command []string, _ time.Duration) (*containerruntime.ExecResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, command)
	r := m.result
	return &r, nil
}

func (m *mockRuntime) Stop(_ context.Context, _ string) error { return nil }

func (m *mockRuntime) Remove(_ context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, containerID)
	return nil
}

// captureQueue records published messages.
type captureQueue struct {
	mu        sync.Mutex
	published []publishedMsg
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (q *captureQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (q *captureQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *captureQueue) Drain() error      { return nil }
func (q *captureQueue) Close() error      { return nil }
func (q *captureQueue) IsConnected() bool { return true }

func (q *captureQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, p := range q.published {
		out[i] = p.subject
	}
	return out
}

// captureHub records broadcast events.
type captureHub struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	eventType string
	payload   any
}

func (h *captureHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, capturedEvent{eventType: eventType, payload: payload})
}

func (h *captureHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, e := range h.events {
		out[i] = e.eventType
	}
	return out
}

// memObjects is an in-memory objectstore.Store.
type memObjects struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{blobs: make(map[string][]byte)}
}

func (o *memObjects) Put(_ context.Context, key string, content []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blobs[key] = append([]byte(nil), content...)
	return key, nil
}

func (o *memObjects) Get(_ context.Context, path string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.blobs[path]
	if !ok {
		return nil, errMockNotFound
	}
	return b, nil
}

func (o *memObjects) Delete(_ context.Context, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.blobs, path)
	return nil
}

// memCache is an in-memory cache.Cache without TTL expiry.
type memCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// scriptedProvider returns predefined actions in order. Stream emits the
// action's text as two fragments before the terminal delta.
type scriptedProvider struct {
	mu       sync.Mutex
	actions  []*completion.Action
	err      error
	requests []completion.Request
}

func (p *scriptedProvider) next() (*completion.Action, error) {
	if p.err != nil {
		return nil, p.err
	}
	if len(p.actions) == 0 {
		return nil, fmt.Errorf("scripted provider exhausted")
	}
	a := p.actions[0]
	p.actions = p.actions[1:]
	return a, nil
}

func (p *scriptedProvider) Complete(_ context.Context, req completion.Request) (*completion.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return p.next()
}

func (p *scriptedProvider) Stream(_ context.Context, req completion.Request, onDelta func(completion.Delta)) (*completion.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	a, err := p.next()
	if err != nil {
		return nil, err
	}
	if a.FinalText != "" && onDelta != nil {
		half := len(a.FinalText) / 2
		onDelta(completion.Delta{Text: a.FinalText[:half]})
		onDelta(completion.Delta{Text: a.FinalText[half:]})
	}
	if onDelta != nil {
		onDelta(completion.Delta{Terminal: true, Action: a})
	}
	return a, nil
}

func textAction(text string, usage completion.Usage) *completion.Action {
	return &completion.Action{FinalText: text, Usage: usage}
}

func toolAction(id, name, args string, usage completion.Usage) *completion.Action {
	return &completion.Action{
		ToolCall: &completion.ToolCall{ID: id, Name: name, Args: json.RawMessage(args)},
		Usage:    usage,
	}
}
