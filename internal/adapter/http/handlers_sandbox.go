package http

import (
	"net/http"
)

// GetUserSandbox handles GET /api/v1/sandboxes/{userId}
func (h *Handlers) GetUserSandbox(w http.ResponseWriter, r *http.Request) {
	sb, err := h.Sandboxes.Get(r.Context(), urlParam(r, "userId"))
	if err != nil {
		writeDomainError(w, err, "no sandbox for this user")
		return
	}
	writeJSON(w, http.StatusOK, sb)
}

// ReapSandboxes handles POST /api/v1/sandboxes/reap. Forces an immediate
// idle sweep instead of waiting for the background reaper tick.
func (h *Handlers) ReapSandboxes(w http.ResponseWriter, r *http.Request) {
	threshold := h.Settings.Snapshot(r.Context()).SandboxIdleThreshold

	reaped, err := h.Sandboxes.Reap(r.Context(), threshold)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reaped": reaped})
}
