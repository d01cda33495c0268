package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/counselhub/voice-agent/pkg/gateway/config"
	"github.com/counselhub/voice-agent/pkg/gateway/live"
	"github.com/counselhub/voice-agent/pkg/gateway/tools"
)

type stubModelClient struct{}

func (stubModelClient) Connect(context.Context, live.ConnectConfig) (live.ModelConn, error) {
	return nil, errors.New("not dialed in tests")
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg)

	return New(config.Config{
		Addr:                 ":0",
		GeminiAPIKey:         "test-key",
		LiveModel:            "gemini-2.5-flash-native-audio-preview-09-2025",
		VoiceName:            "Puck",
		SessionTTL:           time.Hour,
		SweepEvery:           time.Hour,
		MemoryLimit:          50,
		ToolCacheTTL:         15 * time.Second,
		AudioInSampleRateHz:  16000,
		AudioOutSampleRateHz: 24000,
		WSMaxMessageBytes:    1 << 20,
		WSWriteTimeout:       5 * time.Second,
		CORSAllowedOrigins:   map[string]struct{}{"http://localhost:3000": {}},
	}, stubModelClient{}, reg, logger)
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestServer_SessionLifecycleRoutes(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/voice/session", strings.NewReader(`{"userId":"u1"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/voice/sessions", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"count":1`) {
		t.Fatalf("list = %d %q", rr.Code, rr.Body.String())
	}
}

func TestServer_ToolsAndConfigRoutes(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/voice/tools", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "get_weather") {
		t.Fatalf("tools = %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/voice/config", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"wsPath":"/api/voice/ws"`) {
		t.Fatalf("config = %d %q", rr.Code, rr.Body.String())
	}
}

func TestServer_RequestIDAndCORSAttached(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got == "" {
		t.Fatalf("missing X-Request-ID")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestServer_WSRouteReachable(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/voice/ws", nil))
	if rr.Code == http.StatusNotFound {
		t.Fatalf("/api/voice/ws unexpectedly returned 404")
	}
}
