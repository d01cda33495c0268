package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/counselhub/voice-agent/pkg/rag/chat"
	"github.com/counselhub/voice-agent/pkg/rag/config"
	"github.com/counselhub/voice-agent/pkg/rag/store"
)

type fakeChatter struct {
	answer    string
	err       error
	cohortKey string
	sessionID string
	question  string
}

func (f *fakeChatter) Ask(_ context.Context, cohortKey, sessionID, question string) (string, error) {
	f.cohortKey = cohortKey
	f.sessionID = sessionID
	f.question = question
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakeSessions struct {
	sess store.ChatSession
	lead store.Lead
	err  error
}

func (f *fakeSessions) CreateSessionWithLead(_ context.Context, sess store.ChatSession, lead store.Lead) error {
	f.sess = sess
	f.lead = lead
	return f.err
}

type serverFixture struct {
	srv      *Server
	chatter  *fakeChatter
	sessions *fakeSessions
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	f := &serverFixture{
		chatter:  &fakeChatter{answer: "the answer"},
		sessions: &fakeSessions{},
	}
	cfg := config.Config{
		APIKey:     "secret-key",
		SessionTTL: 30 * time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.srv = New(cfg, f.chatter, f.sessions, logger)
	return f
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	f := newServerFixture(t)

	rr := doJSON(t, f.srv.Handler(), http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestAuth_RejectsMissingAndWrongToken(t *testing.T) {
	f := newServerFixture(t)
	h := f.srv.Handler()
	body := `{"sessionId":"6f7a1f6a-18a1-4f2e-9f86-35a5df9ce8aa","question":"q"}`

	rr := doJSON(t, h, http.MethodPost, "/api/chat/cohort/c1", "", body)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status=%d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/chat/cohort/c1", "wrong", body)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d", rr.Code)
	}
}

func TestCreateSession(t *testing.T) {
	f := newServerFixture(t)

	rr := doJSON(t, f.srv.Handler(), http.MethodPost, "/api/createSession/cohort-a", "secret-key",
		`{"fullName":"Pat Doe","email":"pat@example.com","currentDesignation":"VP","phoneNumber":"555-0100"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		SessionID string    `json:"sessionId"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("empty sessionId")
	}
	if resp.ExpiresAt.IsZero() {
		t.Fatalf("zero expiresAt")
	}

	if f.sessions.sess.CohortKey != "cohort-a" || f.sessions.sess.FullName != "Pat Doe" {
		t.Fatalf("stored session = %+v", f.sessions.sess)
	}
	if f.sessions.lead.Source != "chatbot" {
		t.Fatalf("lead source = %q, want default chatbot", f.sessions.lead.Source)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	f := newServerFixture(t)
	h := f.srv.Handler()

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"email":"a@b.c","currentDesignation":"VP","phoneNumber":"1"}`},
		{"bad email", `{"fullName":"P","email":"nope","currentDesignation":"VP","phoneNumber":"1"}`},
		{"missing phone", `{"fullName":"P","email":"a@b.c","currentDesignation":"VP"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, h, http.MethodPost, "/api/createSession/cohort-a", "secret-key", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCreateSession_InvalidCohortKey(t *testing.T) {
	f := newServerFixture(t)

	rr := doJSON(t, f.srv.Handler(), http.MethodPost, "/api/createSession/bad%20key", "secret-key",
		`{"fullName":"P","email":"a@b.c","currentDesignation":"VP","phoneNumber":"1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestChatCohort(t *testing.T) {
	f := newServerFixture(t)

	rr := doJSON(t, f.srv.Handler(), http.MethodPost, "/api/chat/cohort/cohort-a", "secret-key",
		`{"sessionId":"6f7a1f6a-18a1-4f2e-9f86-35a5df9ce8aa","question":"What is the fee?","mode":"voice"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"answer":"the answer"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if f.chatter.cohortKey != "cohort-a" || f.chatter.question != "What is the fee?" {
		t.Fatalf("chatter got %q %q", f.chatter.cohortKey, f.chatter.question)
	}
}

func TestChatCohort_Validation(t *testing.T) {
	f := newServerFixture(t)
	h := f.srv.Handler()

	rr := doJSON(t, h, http.MethodPost, "/api/chat/cohort/cohort-a", "secret-key",
		`{"sessionId":"not-a-uuid","question":"q"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid status=%d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/chat/cohort/cohort-a", "secret-key",
		`{"sessionId":"6f7a1f6a-18a1-4f2e-9f86-35a5df9ce8aa","question":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty question status=%d", rr.Code)
	}
}

func TestChatCohort_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"session not found", store.ErrNotFound, http.StatusNotFound},
		{"wrong cohort", chat.ErrWrongCohort, http.StatusNotFound},
		{"no collection", chat.ErrNoCollection, http.StatusNotFound},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServerFixture(t)
			f.chatter.err = tc.err

			rr := doJSON(t, f.srv.Handler(), http.MethodPost, "/api/chat/cohort/cohort-a", "secret-key",
				`{"sessionId":"6f7a1f6a-18a1-4f2e-9f86-35a5df9ce8aa","question":"q"}`)
			if rr.Code != tc.status {
				t.Fatalf("status=%d, want %d", rr.Code, tc.status)
			}
		})
	}
}
