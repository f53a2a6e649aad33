package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/ChainForge/internal/domain/agent"
)

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Agents.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if agents == nil {
		agents = []agent.Definition{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	def, err := h.Agents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// UpsertAgent handles PUT /api/v1/agents/{id}
func (h *Handlers) UpsertAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.UpsertRequest](w, r)
	if !ok {
		return
	}
	req.ID = urlParam(r, "id")

	def, err := h.Agents.Upsert(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// ListAgentVersions handles GET /api/v1/agents/{id}/versions
func (h *Handlers) ListAgentVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.Agents.Versions(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	if versions == nil {
		versions = []agent.Version{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// RollbackAgent handles POST /api/v1/agents/{id}/rollback
func (h *Handlers) RollbackAgent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	body, ok := readJSON[struct {
		Version int    `json:"version"`
		Author  string `json:"author"`
	}](w, r)
	if !ok {
		return
	}
	if body.Version <= 0 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}

	def, err := h.Agents.Rollback(r.Context(), id, body.Version, body.Author)
	if err != nil {
		writeDomainError(w, err, "agent version "+id+"@"+strconv.Itoa(body.Version)+" not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}
