// Package server exposes the RAG backend over HTTP: session creation for
// the chat widget and the cohort chat endpoint the voice gateway's
// cohort_chat tool calls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/counselhub/voice-agent/pkg/gateway/mw"
	"github.com/counselhub/voice-agent/pkg/rag/chat"
	"github.com/counselhub/voice-agent/pkg/rag/config"
	"github.com/counselhub/voice-agent/pkg/rag/store"
)

var cohortKeyRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,256}$`)

// Chatter answers one question inside a session.
type Chatter interface {
	Ask(ctx context.Context, cohortKey, sessionID, question string) (string, error)
}

// SessionCreator persists a new chat session and its lead.
type SessionCreator interface {
	CreateSessionWithLead(ctx context.Context, sess store.ChatSession, lead store.Lead) error
}

type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	mux      *http.ServeMux
	chatter  Chatter
	sessions SessionCreator
	now      func() time.Time
}

func New(cfg config.Config, chatter Chatter, sessions SessionCreator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		chatter:  chatter,
		sessions: sessions,
		now:      time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("POST /api/createSession/{cohortKey}", s.auth(http.HandlerFunc(s.createSession)))
	s.mux.Handle("POST /api/chat/cohort/{cohortKey}", s.auth(http.HandlerFunc(s.chatCohort)))
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// auth requires the shared bearer key on every /api route.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		if raw == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
			return
		}
		token := strings.TrimPrefix(raw, "Bearer ")
		if token != s.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type createSessionRequest struct {
	FullName           string `json:"fullName"`
	Email              string `json:"email"`
	CurrentDesignation string `json:"currentDesignation"`
	PhoneNumber        string `json:"phoneNumber"`
	CountryCode        string `json:"countryCode"`
	Source             string `json:"source"`
}

func (r createSessionRequest) validate() string {
	switch {
	case strings.TrimSpace(r.FullName) == "":
		return "Full name is required"
	case !strings.Contains(r.Email, "@"):
		return "Invalid email format"
	case strings.TrimSpace(r.CurrentDesignation) == "":
		return "Current designation is required"
	case strings.TrimSpace(r.PhoneNumber) == "":
		return "Phone number is required"
	}
	return ""
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	cohortKey := r.PathValue("cohortKey")
	if !cohortKeyRe.MatchString(cohortKey) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid cohortKey", Code: "validation_error"})
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body", Code: "validation_error"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "validation_error"})
		return
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "chatbot"
	}

	sessionID := uuid.NewString()
	expiresAt := s.now().Add(s.cfg.SessionTTL)

	err := s.sessions.CreateSessionWithLead(r.Context(),
		store.ChatSession{
			ID:                 sessionID,
			CohortKey:          cohortKey,
			FullName:           req.FullName,
			Email:              req.Email,
			CurrentDesignation: req.CurrentDesignation,
			PhoneNumber:        strings.TrimSpace(req.PhoneNumber),
			CountryCode:        req.CountryCode,
			ExpiresAt:          expiresAt,
		},
		store.Lead{
			CohortKey:          cohortKey,
			FullName:           req.FullName,
			Email:              req.Email,
			PhoneNumber:        strings.TrimSpace(req.PhoneNumber),
			CountryCode:        req.CountryCode,
			CurrentDesignation: req.CurrentDesignation,
			Source:             source,
		})
	if err != nil {
		s.logger.Error("create session failed", "cohort_key", cohortKey, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to create session and lead"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"expiresAt": expiresAt,
	})
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
	// Mode is informational ("voice" from the gateway tool, empty from the
	// widget); it does not change the flow.
	Mode string `json:"mode"`
}

func (s *Server) chatCohort(w http.ResponseWriter, r *http.Request) {
	cohortKey := r.PathValue("cohortKey")
	if !cohortKeyRe.MatchString(cohortKey) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid cohortKey", Code: "validation_error"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body", Code: "validation_error"})
		return
	}
	if _, err := uuid.Parse(req.SessionID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid session ID format", Code: "validation_error"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Question is required and must be a non-empty string", Code: "validation_error"})
		return
	}

	answer, err := s.chatter.Ask(r.Context(), cohortKey, req.SessionID, req.Question)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Chat session not found", Code: "not_found"})
	case errors.Is(err, chat.ErrWrongCohort):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Session does not belong to this cohort", Code: "not_found"})
	case errors.Is(err, chat.ErrNoCollection):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Knowledge base for this cohort does not exist", Code: "not_found"})
	default:
		s.logger.Error("chat failed", "cohort_key", cohortKey, "session_id", req.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to answer question"})
	}
}
