package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestCohortChatTool_PostsQuestionAndParsesAnswer(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody cohortChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"answer": "Week one covers onboarding."})
	}))
	defer srv.Close()

	def := NewCohortChatTool(CohortChatConfig{APIKey: "rag-key"})
	out, err := def.Handler(context.Background(), map[string]any{
		"baseUrl":   srv.URL,
		"cohortKey": "cohort-a",
		"question":  "What is week one?",
		"sessionId": "rag-sess-1",
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	if gotPath != "/api/chat/cohort/cohort-a" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer rag-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody.Question != "What is week one?" || gotBody.SessionID != "rag-sess-1" || gotBody.Mode != "voice" {
		t.Fatalf("request body = %+v", gotBody)
	}

	res, ok := out.(map[string]any)
	if !ok || res["response"] != "Week one covers onboarding." {
		t.Fatalf("result = %v", out)
	}
}

func TestCohortChatTool_FallsBackToResponseField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "from response field"})
	}))
	defer srv.Close()

	def := NewCohortChatTool(CohortChatConfig{})
	out, err := def.Handler(context.Background(), map[string]any{
		"baseUrl": srv.URL, "cohortKey": "c", "question": "q",
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if res := out.(map[string]any); res["response"] != "from response field" {
		t.Fatalf("result = %v", out)
	}
}

func TestCohortChatTool_MissingConfig(t *testing.T) {
	def := NewCohortChatTool(CohortChatConfig{})

	cases := []struct {
		name string
		args map[string]any
	}{
		{"no base url", map[string]any{"cohortKey": "c", "question": "q"}},
		{"no cohort key", map[string]any{"baseUrl": "https://x", "question": "q"}},
		{"no question", map[string]any{"baseUrl": "https://x", "cohortKey": "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := def.Handler(context.Background(), tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCohortChatTool_QuestionFallbacks(t *testing.T) {
	var gotQuestion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req cohortChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotQuestion = req.Question
		_ = json.NewEncoder(w).Encode(map[string]string{"answer": "ok"})
	}))
	defer srv.Close()

	def := NewCohortChatTool(CohortChatConfig{})
	if _, err := def.Handler(context.Background(), map[string]any{
		"baseUrl": srv.URL, "cohortKey": "c", "query": "from query arg",
	}); err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if gotQuestion != "from query arg" {
		t.Fatalf("question = %q", gotQuestion)
	}
}

func TestCohortChatTool_HTTPErrorNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "session not found", http.StatusNotFound)
	}))
	defer srv.Close()

	def := NewCohortChatTool(CohortChatConfig{RetryAttempts: 3})
	_, err := def.Handler(context.Background(), map[string]any{
		"baseUrl": srv.URL, "cohortKey": "c", "question": "q",
	})
	if err == nil {
		t.Fatalf("expected error for 404")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1 (no retry on http status)", hits.Load())
	}
}

func TestCohortChatTool_TransportErrorRetries(t *testing.T) {
	// Point at a closed listener so every dial fails.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	def := NewCohortChatTool(CohortChatConfig{RetryAttempts: 2})
	if _, err := def.Handler(context.Background(), map[string]any{
		"baseUrl": addr, "cohortKey": "c", "question": "q",
	}); err == nil {
		t.Fatalf("expected transport error")
	}
}
