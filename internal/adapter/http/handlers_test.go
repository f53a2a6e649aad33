package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	cfhttp "github.com/Strob0t/ChainForge/internal/adapter/http"
	"github.com/Strob0t/ChainForge/internal/adapter/ws"
	"github.com/Strob0t/ChainForge/internal/config"
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
	"github.com/Strob0t/ChainForge/internal/service"
)

var errNotFound = fmt.Errorf("mock: %w", domain.ErrNotFound)

// mockStore implements database.Store for handler tests.
type mockStore struct {
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

func newMockStore() *mockStore {
	return &mockStore{
		chains:        make(map[string]chain.Chain),
		chainVersions: make(map[string][]chain.Version),
		agents:        make(map[string]agent.Definition),
		agentVersions: make(map[string][]agent.Version),
		sessions:      make(map[string]session.Session),
		artifacts:     make(map[string]artifact.Artifact),
		settings:      make(map[string]json.RawMessage),
	}
}

func (m *mockStore) ListChains(_ context.Context) ([]chain.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chain.Chain, 0, len(m.chains))
	for _, c := range m.chains {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockStore) GetChain(_ context.Context, slug string) (*chain.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[slug]
	if !ok {
		return nil, errNotFound
	}
	return &c, nil
}

func (m *mockStore) UpsertChain(_ context.Context, c *chain.Chain, author, reason string) (*chain.Chain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *c
	if prev, ok := m.chains[c.Slug]; ok {
		saved.Version = prev.Version + 1
	} else {
		saved.Version = 1
	}
	saved.UpdatedAt = time.Now()
	m.chains[c.Slug] = saved
	snapshot, _ := json.Marshal(saved)
	m.chainVersions[c.Slug] = append([]chain.Version{{
		ID: fmt.Sprintf("cv-%d", saved.Version), ChainSlug: c.Slug,
		Number: saved.Version, Snapshot: snapshot, Author: author, Reason: reason,
	}}, m.chainVersions[c.Slug]...)
	return &saved, nil
}

func (m *mockStore) ListChainVersions(_ context.Context, slug string) ([]chain.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainVersions[slug], nil
}

func (m *mockStore) GetChainVersion(_ context.Context, slug string, number int) (*chain.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.chainVersions[slug] {
		if v.Number == number {
			return &v, nil
		}
	}
	return nil, errNotFound
}

func (m *mockStore) ListAgents(_ context.Context) ([]agent.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.Definition, 0, len(m.agents))
	for _, d := range m.agents {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.agents[id]
	if !ok {
		return nil, errNotFound
	}
	return &d, nil
}

func (m *mockStore) UpsertAgent(_ context.Context, d *agent.Definition, author, reason string) (*agent.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *d
	if prev, ok := m.agents[d.ID]; ok {
		saved.Version = prev.Version + 1
	} else {
		saved.Version = 1
	}
	m.agents[d.ID] = saved
	snapshot, _ := json.Marshal(saved)
	m.agentVersions[d.ID] = append([]agent.Version{{
		ID: fmt.Sprintf("av-%d", saved.Version), AgentID: d.ID,
		Number: saved.Version, Snapshot: snapshot, Author: author, Reason: reason,
	}}, m.agentVersions[d.ID]...)
	return &saved, nil
}

func (m *mockStore) ListAgentVersions(_ context.Context, id string) ([]agent.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agentVersions[id], nil
}

func (m *mockStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSession++
	if s.ID == "" {
		s.ID = fmt.Sprintf("sess-%d", m.nextSession)
	}
	s.CreatedAt = time.Now()
	m.sessions[s.ID] = *s
	return nil
}

func (m *mockStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errNotFound
	}
	return &s, nil
}

func (m *mockStore) ListSessions(_ context.Context, userID string, _ int) ([]session.Session, error) {
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

func (m *mockStore) UpdateSessionProgress(_ context.Context, id string, iterations int, tokensIn, tokensOut int64, costUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errNotFound
	}
	s.Iterations = iterations
	s.TokensIn = tokensIn
	s.TokensOut = tokensOut
	s.CostUSD = costUSD
	m.sessions[id] = s
	return nil
}

func (m *mockStore) CompleteSession(_ context.Context, id string, status session.Status, reason session.FailureReason, output, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errNotFound
	}
	if s.CompletedAt != nil {
		return nil
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

func (m *mockStore) AppendStep(_ context.Context, step *session.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step.ID = fmt.Sprintf("step-%d", len(m.steps)+1)
	m.steps = append(m.steps, *step)
	return nil
}

func (m *mockStore) GetTranscript(_ context.Context, sessionID string) (*session.Transcript, error) {
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

func (m *mockStore) SessionDepth(_ context.Context, id string) (int, error) {
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

func (m *mockStore) CreateArtifact(_ context.Context, a *artifact.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Version = 1
	a.IsLatest = true
	m.artifacts[a.ID] = *a
	return nil
}

func (m *mockStore) CreateArtifactVersion(_ context.Context, lineageRoot string, a *artifact.Artifact) error {
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
		return errNotFound
	}
	a.Version = maxVersion + 1
	a.IsLatest = true
	a.ParentID = lineageRoot
	m.artifacts[a.ID] = *a
	return nil
}

func (m *mockStore) GetArtifact(_ context.Context, id string) (*artifact.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, errNotFound
	}
	return &a, nil
}

func (m *mockStore) ListArtifacts(_ context.Context, filter artifact.ListFilter) ([]artifact.Artifact, error) {
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
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.LatestOnly && !a.IsLatest {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *mockStore) ListArtifactLineage(_ context.Context, lineageRoot string) ([]artifact.Artifact, error) {
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

func (m *mockStore) TouchArtifact(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return errNotFound
	}
	a.AccessedAt = at
	m.artifacts[id] = a
	return nil
}

func (m *mockStore) UpdateArtifactStatus(_ context.Context, id string, status artifact.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return errNotFound
	}
	a.Status = status
	m.artifacts[id] = a
	return nil
}

func (m *mockStore) DeleteArtifact(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return errNotFound
	}
	a.Status = artifact.StatusDeleted
	m.artifacts[id] = a
	return nil
}

func (m *mockStore) GetSandboxByUser(_ context.Context, userID string) (*sandbox.UserSandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sandboxes {
		if m.sandboxes[i].UserID == userID && m.sandboxes[i].Status != sandbox.StatusRemoved {
			sb := m.sandboxes[i]
			return &sb, nil
		}
	}
	return nil, errNotFound
}

func (m *mockStore) CreateSandbox(_ context.Context, sb *sandbox.UserSandbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb.ID = fmt.Sprintf("sbx-%d", len(m.sandboxes)+1)
	sb.LastAccessed = time.Now()
	m.sandboxes = append(m.sandboxes, *sb)
	return nil
}

func (m *mockStore) UpdateSandboxStatus(_ context.Context, id string, status sandbox.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sandboxes {
		if m.sandboxes[i].ID == id {
			m.sandboxes[i].Status = status
			return nil
		}
	}
	return errNotFound
}

func (m *mockStore) TouchSandbox(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sandboxes {
		if m.sandboxes[i].ID == id {
			m.sandboxes[i].LastAccessed = at
			return nil
		}
	}
	return errNotFound
}

func (m *mockStore) ListIdleSandboxes(_ context.Context, olderThan time.Time) ([]sandbox.UserSandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sandbox.UserSandbox
	for _, sb := range m.sandboxes {
		if sb.Status != sandbox.StatusRemoved && sb.LastAccessed.Before(olderThan) {
			out = append(out, sb)
		}
	}
	return out, nil
}

func (m *mockStore) ListSettings(_ context.Context) ([]settings.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []settings.Setting
	for k, v := range m.settings {
		out = append(out, settings.Setting{Key: k, Value: v})
	}
	return out, nil
}

func (m *mockStore) GetSetting(_ context.Context, key string) (*settings.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	if !ok {
		return nil, errNotFound
	}
	return &settings.Setting{Key: key, Value: v}, nil
}

func (m *mockStore) UpsertSetting(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// mockQueue discards published messages.
type mockQueue struct{}

func (q *mockQueue) Publish(_ context.Context, _ string, _ []byte) error { return nil }
func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// mockObjects keeps artifact content in memory.
type mockObjects struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMockObjects() *mockObjects {
	return &mockObjects{blobs: make(map[string][]byte)}
}

func (o *mockObjects) Put(_ context.Context, key string, content []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blobs[key] = content
	return key, nil
}

func (o *mockObjects) Get(_ context.Context, path string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.blobs[path]
	if !ok {
		return nil, errNotFound
	}
	return b, nil
}

func (o *mockObjects) Delete(_ context.Context, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.blobs, path)
	return nil
}

// mockCache is a TTL-less in-memory cache.
type mockCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// mockRuntime pretends every container operation succeeds.
type mockRuntime struct{}

func (r *mockRuntime) Create(_ context.Context, _ containerruntime.CreateSpec) (string, error) {
	return "ctr-1", nil
}
func (r *mockRuntime) Start(_ context.Context, _ string) error { return nil }
func (r *mockRuntime) Exec(_ context.Context, _ string, _ []string, _ time.Duration) (*containerruntime.ExecResult, error) {
	return &containerruntime.ExecResult{Stdout: "ok"}, nil
}
func (r *mockRuntime) Stop(_ context.Context, _ string) error   { return nil }
func (r *mockRuntime) Remove(_ context.Context, _ string) error { return nil }

// finalProvider answers every completion with a fixed final text.
type finalProvider struct {
	text string
}

func (p *finalProvider) Complete(_ context.Context, _ completion.Request) (*completion.Action, error) {
	return &completion.Action{FinalText: p.text, Usage: completion.Usage{TokensIn: 10, TokensOut: 5}}, nil
}

func (p *finalProvider) Stream(ctx context.Context, req completion.Request, onDelta func(completion.Delta)) (*completion.Action, error) {
	action, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	onDelta(completion.Delta{Text: action.FinalText})
	onDelta(completion.Delta{Terminal: true, Action: action})
	return action, nil
}

type testEnv struct {
	router    chi.Router
	store     *mockStore
	artifacts *service.ArtifactService
}

func newTestEnv() *testEnv {
	store := newMockStore()
	queue := &mockQueue{}
	hub := ws.NewHub()
	objects := newMockObjects()

	settingsSvc := service.NewSettingsService(store, newMockCache(), time.Minute)
	artifactSvc := service.NewArtifactService(store, objects, queue, hub)
	sandboxSvc := service.NewSandboxService(store, &mockRuntime{}, queue, hub, config.Sandbox{
		Image:       "chainforge/sandbox:latest",
		MemoryMB:    512,
		ExecTimeout: 5 * time.Second,
	})
	registry := service.NewToolRegistry()
	delegationSvc := service.NewDelegationService(store)
	loopSvc := service.NewLoopService(store, &finalProvider{text: "done"}, registry, delegationSvc, queue, hub, config.Engine{ProviderRetries: 1})
	schedulerSvc := service.NewSchedulerService(store, settingsSvc, loopSvc, queue, hub)

	handlers := &cfhttp.Handlers{
		Chains:    service.NewChainService(store),
		Agents:    service.NewAgentService(store),
		Sessions:  schedulerSvc,
		Artifacts: artifactSvc,
		Settings:  settingsSvc,
		Sandboxes: sandboxSvc,
	}

	r := chi.NewRouter()
	cfhttp.MountRoutes(r, handlers)
	return &testEnv{router: r, store: store, artifacts: artifactSvc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		e.router.ServeHTTP(w, req)
		return w
	}
	req := httptest.NewRequest(method, path, http.NoBody)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestListChainsEmpty(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "GET", "/api/v1/chains", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if chains := decode[[]chain.Chain](t, w); len(chains) != 0 {
		t.Fatalf("expected empty list, got %d", len(chains))
	}
}

func TestUpsertAndGetChain(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "PUT", "/api/v1/chains/researcher", chain.UpsertRequest{
		Name:         "Researcher",
		Handler:      chain.HandlerAdaptive,
		SystemPrompt: "You research things.",
		Author:       "alice",
		Reason:       "initial",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[chain.Chain](t, w)
	if created.Slug != "researcher" || created.Version != 1 {
		t.Fatalf("unexpected chain: %+v", created)
	}
	if !created.Enabled {
		t.Fatal("chains should default to enabled")
	}

	w = env.do(t, "GET", "/api/v1/chains/researcher", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/chains/researcher/versions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if versions := decode[[]chain.Version](t, w); len(versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(versions))
	}
}

func TestUpsertChainValidation(t *testing.T) {
	env := newTestEnv()

	// Team handler without members.
	w := env.do(t, "PUT", "/api/v1/chains/crew", chain.UpsertRequest{
		Name:    "Crew",
		Handler: chain.HandlerTeam,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetChainNotFound(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "GET", "/api/v1/chains/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestChainRollback(t *testing.T) {
	env := newTestEnv()

	for _, prompt := range []string{"first prompt", "second prompt"} {
		w := env.do(t, "PUT", "/api/v1/chains/helper", chain.UpsertRequest{
			Name:         "Helper",
			Handler:      chain.HandlerAdaptive,
			SystemPrompt: prompt,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("upsert failed: %d", w.Code)
		}
	}

	w := env.do(t, "POST", "/api/v1/chains/helper/rollback", map[string]any{"version": 1, "author": "ops"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	restored := decode[chain.Chain](t, w)
	if restored.SystemPrompt != "first prompt" {
		t.Fatalf("expected rollback to restore prompt, got %q", restored.SystemPrompt)
	}
	if restored.Version != 3 {
		t.Fatalf("rollback should append a new version, got %d", restored.Version)
	}

	w = env.do(t, "POST", "/api/v1/chains/helper/rollback", map[string]any{"version": 99})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown version, got %d", w.Code)
	}
}

func TestUpsertAndListAgents(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "PUT", "/api/v1/agents/researcher", agent.UpsertRequest{
		Name:        "Researcher",
		Role:        "Finds and summarizes sources.",
		InheritCore: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/api/v1/agents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if agents := decode[[]agent.Definition](t, w); len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents))
	}
}

func TestUpsertAgentMissingRole(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "PUT", "/api/v1/agents/researcher", agent.UpsertRequest{Name: "Researcher"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStartSessionRunsToCompletion(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "PUT", "/api/v1/chains/helper", chain.UpsertRequest{
		Name:         "Helper",
		Handler:      chain.HandlerAdaptive,
		SystemPrompt: "You help.",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("seed chain failed: %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/sessions", session.StartRequest{
		ChainSlug: "helper",
		UserID:    "alice",
		Input:     "hello",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	started := decode[session.Session](t, w)
	if started.Status != session.StatusRunning {
		t.Fatalf("expected running, got %s", started.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		w = env.do(t, "GET", "/api/v1/sessions/"+started.ID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		sess := decode[session.Session](t, w)
		if sess.Status == session.StatusCompleted {
			if sess.Output != "done" {
				t.Fatalf("expected output %q, got %q", "done", sess.Output)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never completed, status %s", sess.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = env.do(t, "GET", "/api/v1/sessions/"+started.ID+"/transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	transcript := decode[session.Transcript](t, w)
	if len(transcript.Steps) == 0 {
		t.Fatal("expected at least one transcript step")
	}
}

func TestStartSessionValidation(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "POST", "/api/v1/sessions", session.StartRequest{UserID: "alice", Input: "hi"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing chain_slug, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/sessions", session.StartRequest{
		ChainSlug: "missing", UserID: "alice", Input: "hi",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown chain, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCancelUnknownSession(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "POST", "/api/v1/sessions/nope/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestArtifactContentAndView(t *testing.T) {
	env := newTestEnv()

	a, err := env.artifacts.Create(context.Background(), artifact.CreateRequest{
		Type:     artifact.TypeHTML,
		Name:     "report.html",
		MimeType: "text/html",
		Source:   artifact.SourceToolExecution,
		Content:  []byte("<h1>Quarterly report</h1>"),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/api/v1/artifacts/"+a.ID+"/content", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="report.html"` {
		t.Fatalf("unexpected disposition %q", got)
	}

	w = env.do(t, "GET", "/api/v1/artifacts/"+a.ID+"/view", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	csp := w.Header().Get("Content-Security-Policy")
	if csp == "" || !bytes.Contains([]byte(csp), []byte("sandbox")) {
		t.Fatalf("view must carry a sandboxing CSP, got %q", csp)
	}
	if w.Body.String() != "<h1>Quarterly report</h1>" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}

func TestDeleteArtifactSoftThenList(t *testing.T) {
	env := newTestEnv()

	a, err := env.artifacts.Create(context.Background(), artifact.CreateRequest{
		Type:     artifact.TypeDocument,
		Name:     "notes.md",
		MimeType: "text/markdown",
		Source:   artifact.SourceToolExecution,
		Content:  []byte("notes"),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "DELETE", "/api/v1/artifacts/"+a.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/artifacts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if artifacts := decode[[]artifact.Artifact](t, w); len(artifacts) != 0 {
		t.Fatalf("soft-deleted artifact still listed: %d", len(artifacts))
	}

	// Metadata remains readable after a soft delete.
	w = env.do(t, "GET", "/api/v1/artifacts/"+a.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestListArtifactsRejectsUnknownType(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "GET", "/api/v1/artifacts?type=hologram", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSettingsUpdateAndGet(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "PUT", "/api/v1/settings", settings.UpdateRequest{
		Settings: map[string]json.RawMessage{
			settings.KeyRepetitionThreshold: json.RawMessage(`5`),
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	effective := decode[settings.Snapshot](t, w)
	if effective.RepetitionThreshold != 5 {
		t.Fatalf("expected threshold 5, got %d", effective.RepetitionThreshold)
	}

	w = env.do(t, "GET", "/api/v1/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUpdateSettingsEmptyBody(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "PUT", "/api/v1/settings", settings.UpdateRequest{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetUserSandboxNotFound(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "GET", "/api/v1/sandboxes/alice", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestForceReapEmpty(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, "POST", "/api/v1/sandboxes/reap", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if result := decode[map[string]int](t, w); result["reaped"] != 0 {
		t.Fatalf("expected 0 reaped, got %d", result["reaped"])
	}
}
