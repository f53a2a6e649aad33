package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/ChainForge/internal/domain/artifact"
)

// ListArtifacts handles GET /api/v1/artifacts with optional query filters.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := artifact.ListFilter{
		SessionID:  q.Get("session"),
		AgentID:    q.Get("agent"),
		Type:       artifact.Type(q.Get("type")),
		Source:     artifact.Source(q.Get("source")),
		LatestOnly: q.Get("latest") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if filter.Type != "" && !artifact.ValidType(string(filter.Type)) {
		writeError(w, http.StatusBadRequest, "unknown artifact type")
		return
	}

	artifacts, err := h.Artifacts.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []artifact.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

// GetArtifact handles GET /api/v1/artifacts/{id} (metadata only).
func (h *Handlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := h.Artifacts.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetArtifactContent handles GET /api/v1/artifacts/{id}/content (raw download).
func (h *Handlers) GetArtifactContent(w http.ResponseWriter, r *http.Request) {
	a, content, err := h.Artifacts.GetContent(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}

	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// ViewArtifact handles GET /api/v1/artifacts/{id}/view. Content is served
// inline under a sandboxing CSP so generated HTML cannot run scripts or
// reach beyond itself.
func (h *Handlers) ViewArtifact(w http.ResponseWriter, r *http.Request) {
	a, content, err := h.Artifacts.GetContent(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}

	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("Content-Disposition", `inline; filename="`+a.Name+`"`)
	w.Header().Set("Content-Security-Policy", "sandbox; default-src 'none'; img-src data:; style-src 'unsafe-inline'")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// GetArtifactLineage handles GET /api/v1/artifacts/{id}/lineage.
func (h *Handlers) GetArtifactLineage(w http.ResponseWriter, r *http.Request) {
	lineage, err := h.Artifacts.Lineage(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}

// DeleteArtifact handles DELETE /api/v1/artifacts/{id}. Soft delete by
// default, permanent with ?hard=true.
func (h *Handlers) DeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	var err error
	if r.URL.Query().Get("hard") == "true" {
		err = h.Artifacts.HardDelete(r.Context(), id)
	} else {
		err = h.Artifacts.SoftDelete(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, err, "artifact not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
