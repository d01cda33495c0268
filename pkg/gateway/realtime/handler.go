// Package realtime carries the browser-facing WebSocket endpoint: frame
// decoding, session attachment, and the relay between client audio and the
// live model connection.
package realtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/counselhub/voice-agent/pkg/gateway/config"
	"github.com/counselhub/voice-agent/pkg/gateway/live"
	"github.com/counselhub/voice-agent/pkg/gateway/session"
)

type Handler struct {
	Store     *session.Store
	Connector *live.Connector
	Tracker   *Tracker
	Config    config.Config
	Logger    *slog.Logger
}

func (h Handler) upgrader() websocket.Upgrader {
	allowed := h.Config.CORSAllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))

	var sess *session.Session
	if sessionID == "" {
		// Clients may attach without pre-creating a session over HTTP.
		sess = h.Store.Create("", nil)
	} else {
		var ok bool
		sess, ok = h.Store.Get(sessionID)
		if !ok {
			up := h.upgrader()
			ws, err := up.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			// Unknown ids get a policy-violation close, not a silent drop,
			// so the widget can distinguish expiry from network failure.
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = ws.Close()
			logger.Warn("rejected unknown session", "session_id", sessionID)
			return
		}
	}

	up := h.upgrader()
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", "error", err)
		return
	}
	if h.Config.WSMaxMessageBytes > 0 {
		ws.SetReadLimit(h.Config.WSMaxMessageBytes)
	}

	c := &client{
		sessionID:    sess.ID,
		ws:           ws,
		store:        h.Store,
		connector:    h.Connector,
		logger:       logger,
		writeTimeout: h.Config.WSWriteTimeout,
		outMIMEType:  fmt.Sprintf("audio/pcm;rate=%d", h.Config.AudioOutSampleRateHz),
	}
	c.unregister = h.Tracker.Register(sess.ID, Handle{
		Cancel: c.cleanup,
		Warn:   c.warn,
	})

	logger.Info("client attached", "session_id", sess.ID)
	go c.run()
}
