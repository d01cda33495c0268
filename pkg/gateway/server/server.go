// Package server wires the voice gateway's HTTP surface: session
// management endpoints, the realtime WebSocket, and health.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/counselhub/voice-agent/pkg/gateway/config"
	"github.com/counselhub/voice-agent/pkg/gateway/handlers"
	"github.com/counselhub/voice-agent/pkg/gateway/live"
	"github.com/counselhub/voice-agent/pkg/gateway/mw"
	"github.com/counselhub/voice-agent/pkg/gateway/realtime"
	"github.com/counselhub/voice-agent/pkg/gateway/session"
	"github.com/counselhub/voice-agent/pkg/gateway/tools"
)

const wsPath = "/api/voice/ws"

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store     *session.Store
	registry  *tools.Registry
	connector *live.Connector
	tracker   *realtime.Tracker
}

// New assembles the gateway around an already-dialed model client. The
// registry must carry every tool the model is allowed to call.
func New(cfg config.Config, client live.ModelClient, registry *tools.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	store := session.NewStore(session.StoreConfig{
		TTL:         cfg.SessionTTL,
		SweepEvery:  cfg.SweepEvery,
		MemoryLimit: cfg.MemoryLimit,
		Logger:      logger,
	})
	coord := tools.NewCoordinator(registry, cfg.ToolCacheTTL)
	connector := live.NewConnector(client, registry, coord, store, live.Config{
		Model:          cfg.LiveModel,
		VoiceName:      cfg.VoiceName,
		RagBaseURL:     cfg.RagBaseURL,
		InSampleRateHz: cfg.AudioInSampleRateHz,
	}, logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		store:     store,
		registry:  registry,
		connector: connector,
		tracker:   realtime.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	sessions := handlers.SessionsHandler{Store: s.store, Logger: s.logger}

	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.HandleFunc("POST /api/voice/session", sessions.Create)
	s.mux.HandleFunc("DELETE /api/voice/session/{id}", sessions.Delete)
	s.mux.HandleFunc("GET /api/voice/sessions", sessions.List)
	s.mux.Handle("GET /api/voice/tools", handlers.ToolsHandler{Registry: s.registry})
	s.mux.Handle("GET /api/voice/config", handlers.ConfigHandler{
		WSPath:               wsPath,
		AudioInSampleRateHz:  s.cfg.AudioInSampleRateHz,
		AudioOutSampleRateHz: s.cfg.AudioOutSampleRateHz,
	})
	s.mux.Handle(wsPath, &realtime.Handler{
		Store:     s.store,
		Connector: s.connector,
		Tracker:   s.tracker,
		Config:    s.cfg,
		Logger:    s.logger,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Store exposes the session store so the process can run its sweep loop.
func (s *Server) Store() *session.Store { return s.store }

// WarnRealtimeSessions tells every attached client the gateway is draining.
func (s *Server) WarnRealtimeSessions(code, message string) {
	s.tracker.WarnAll(code, message)
}

// WaitRealtimeSessions blocks until every realtime connection has detached.
// Returns false if ctx expired first.
func (s *Server) WaitRealtimeSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelRealtimeSessions force-closes every realtime connection.
func (s *Server) CancelRealtimeSessions() {
	s.tracker.CancelAll()
}
