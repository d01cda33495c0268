// Package handlers holds the gateway's plain HTTP endpoints: session
// lifecycle, tool listing, and health.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/counselhub/voice-agent/pkg/gateway/session"
	"github.com/counselhub/voice-agent/pkg/gateway/tools"
)

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type createSessionRequest struct {
	UserID     string              `json:"userId"`
	RagContext *session.RagContext `json:"ragContext"`
}

type sessionResponse struct {
	SessionID  string              `json:"sessionId"`
	CreatedAt  time.Time           `json:"createdAt"`
	ExpiresAt  time.Time           `json:"expiresAt"`
	RagContext *session.RagContext `json:"ragContext,omitempty"`
}

// SessionsHandler serves POST /api/voice/session, GET /api/voice/sessions,
// and DELETE /api/voice/session/{id}.
type SessionsHandler struct {
	Store  *session.Store
	Logger *slog.Logger
}

func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}

	var req createSessionRequest
	if r.Body != nil {
		// An empty body is fine; the widget may create bare sessions.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json body"})
			return
		}
	}
	if req.RagContext != nil && strings.TrimSpace(req.RagContext.CohortKey) == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "ragContext.cohortKey is required"})
		return
	}

	sess := h.Store.Create(req.UserID, req.RagContext)
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID:  sess.ID,
		CreatedAt:  sess.CreatedAt,
		ExpiresAt:  sess.ExpiresAt,
		RagContext: sess.RagContext,
	})
}

func (h SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}
	id := r.PathValue("id")
	if !h.Store.Delete(id) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}
	sessions := h.Store.List()
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			SessionID: sess.ID,
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(out),
		"sessions": out,
	})
}

// ToolsHandler serves GET /api/voice/tools: the registered tool surface,
// minus handlers.
type ToolsHandler struct {
	Registry *tools.Registry
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

func (h ToolsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}
	defs := h.Registry.All()
	out := make([]toolInfo, 0, len(defs))
	for _, def := range defs {
		out = append(out, toolInfo{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

// ConfigHandler serves GET /api/voice/config: the public client parameters.
type ConfigHandler struct {
	WSPath               string
	AudioInSampleRateHz  int
	AudioOutSampleRateHz int
}

func (h ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wsPath":          h.WSPath,
		"audioInRateHz":   h.AudioInSampleRateHz,
		"audioOutRateHz":  h.AudioOutSampleRateHz,
		"audioInFormat":   "pcm16",
		"audioOutFormat":  "pcm16",
		"sessionIDParam":  "sessionId",
		"protocolVersion": 1,
	})
}
