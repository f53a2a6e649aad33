package http

import (
	"net/http"

	"github.com/Strob0t/ChainForge/internal/domain/settings"
)

// GetSettings handles GET /api/v1/settings. Stored overrides only; keys
// absent here fall back to engine defaults.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := h.Settings.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if stored == nil {
		stored = []settings.Setting{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings":  stored,
		"effective": h.Settings.Snapshot(r.Context()),
	})
}

// UpdateSettings handles PUT /api/v1/settings
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[settings.UpdateRequest](w, r)
	if !ok {
		return
	}
	if len(req.Settings) == 0 {
		writeError(w, http.StatusBadRequest, "settings map is required")
		return
	}

	if err := h.Settings.Update(r.Context(), req); err != nil {
		writeDomainError(w, err, "settings not found")
		return
	}
	writeJSON(w, http.StatusOK, h.Settings.Snapshot(r.Context()))
}
