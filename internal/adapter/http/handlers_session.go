package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/ChainForge/internal/domain/session"
)

// StartSession handles POST /api/v1/sessions
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[session.StartRequest](w, r)
	if !ok {
		return
	}

	sess, err := h.Sessions.StartSession(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "chain not found")
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// ListSessions handles GET /api/v1/sessions?user=<id>&limit=<n>
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	sessions, err := h.Sessions.List(r.Context(), userID, limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetSessionTranscript handles GET /api/v1/sessions/{id}/transcript
func (h *Handlers) GetSessionTranscript(w http.ResponseWriter, r *http.Request) {
	transcript, err := h.Sessions.Transcript(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

// CancelSession handles POST /api/v1/sessions/{id}/cancel
func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Sessions.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "session_id": id})
}
