package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/ChainForge/internal/domain/chain"
)

// ListChains handles GET /api/v1/chains
func (h *Handlers) ListChains(w http.ResponseWriter, r *http.Request) {
	chains, err := h.Chains.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if chains == nil {
		chains = []chain.Chain{}
	}
	writeJSON(w, http.StatusOK, chains)
}

// GetChain handles GET /api/v1/chains/{slug}
func (h *Handlers) GetChain(w http.ResponseWriter, r *http.Request) {
	slug := urlParam(r, "slug")
	ch, err := h.Chains.Get(r.Context(), slug)
	if err != nil {
		writeDomainError(w, err, "chain not found")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// UpsertChain handles PUT /api/v1/chains/{slug}
func (h *Handlers) UpsertChain(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[chain.UpsertRequest](w, r)
	if !ok {
		return
	}
	req.Slug = urlParam(r, "slug")

	ch, err := h.Chains.Upsert(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "chain not found")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// ListChainVersions handles GET /api/v1/chains/{slug}/versions
func (h *Handlers) ListChainVersions(w http.ResponseWriter, r *http.Request) {
	slug := urlParam(r, "slug")
	versions, err := h.Chains.Versions(r.Context(), slug)
	if err != nil {
		writeDomainError(w, err, "chain not found")
		return
	}
	if versions == nil {
		versions = []chain.Version{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// RollbackChain handles POST /api/v1/chains/{slug}/rollback
func (h *Handlers) RollbackChain(w http.ResponseWriter, r *http.Request) {
	slug := urlParam(r, "slug")

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

	ch, err := h.Chains.Rollback(r.Context(), slug, body.Version, body.Author)
	if err != nil {
		writeDomainError(w, err, "chain version "+slug+"@"+strconv.Itoa(body.Version)+" not found")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}
