package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/counselhub/voice-agent/pkg/gateway/live"
	"github.com/counselhub/voice-agent/pkg/gateway/protocol"
	"github.com/counselhub/voice-agent/pkg/gateway/session"
)

// client is one attached WebSocket. The read loop owns inbound frames; a
// relay goroutine per live connection forwards model events out. All writes
// go through writeJSON, serialized by writeMu.
type client struct {
	sessionID string
	ws        *websocket.Conn

	store     *session.Store
	connector *live.Connector
	logger    *slog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration
	outMIMEType  string

	mu   sync.Mutex
	conn *live.Conn

	cleanupOnce sync.Once
	unregister  func()
}

func (c *client) run() {
	defer c.cleanup()

	c.send(protocol.NewStatus(protocol.StatusConnecting, ""))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			// Bad frames are reported, not fatal.
			c.sendDecodeError(err)
			continue
		}
		switch m := msg.(type) {
		case protocol.ClientConnect:
			c.handleConnect()
		case protocol.ClientAudio:
			c.handleAudio(m)
		case protocol.ClientDisconnect:
			c.handleDisconnect()
		case protocol.ClientPing:
			c.send(protocol.NewPong())
		}
	}
}

func (c *client) handleConnect() {
	sess, ok := c.store.Get(c.sessionID)
	if !ok {
		c.send(protocol.NewError("session_expired", "session no longer exists", ""))
		c.send(protocol.NewStatus(protocol.StatusError, "session expired"))
		return
	}

	c.send(protocol.NewStatus(protocol.StatusConnecting, ""))

	conn, err := c.connector.Connect(context.Background(), sess)
	if err != nil {
		c.logger.Warn("live connect failed", "session_id", c.sessionID, "error", err)
		code := "connect_failed"
		if live.IsCredentialError(err.Error()) {
			code = "credential_error"
		}
		c.send(protocol.NewError(code, err.Error(), ""))
		c.send(protocol.NewStatus(protocol.StatusError, "failed to connect to model"))
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.relay(conn)
}

func (c *client) handleAudio(m protocol.ClientAudio) {
	conn := c.liveConn()
	if conn == nil {
		c.send(protocol.NewError("not_connected", "send connect before audio", ""))
		return
	}
	pcm, err := m.PCM()
	if err != nil {
		c.sendDecodeError(err)
		return
	}
	if err := conn.SendAudio(pcm, m.Data.MIMEType); err != nil {
		c.send(protocol.NewError("audio_failed", err.Error(), ""))
	}
}

func (c *client) handleDisconnect() {
	if conn := c.takeConn(); conn != nil {
		_ = conn.Close()
	}
	c.send(protocol.NewStatus(protocol.StatusDisconnected, ""))
}

// relay pumps one live connection's events to the socket until the event
// channel closes.
func (c *client) relay(conn *live.Conn) {
	for ev := range conn.Events() {
		switch ev.Type {
		case live.EventOpen:
			c.send(protocol.NewStatus(protocol.StatusConnected, ""))
		case live.EventAudio:
			c.send(protocol.NewAudioChunk(ev.Audio, c.outMIMEType))
		case live.EventInterrupted:
			c.send(protocol.NewInterrupt())
		case live.EventTranscript:
			c.send(protocol.NewTranscription(ev.Text, ev.IsUser, ev.IsFinal))
			if ev.IsFinal && ev.Text != "" {
				role := "assistant"
				if ev.IsUser {
					role = "user"
				}
				c.store.AddMemory(c.sessionID, role, ev.Text)
			}
		case live.EventTurnComplete:
			// Empty final frames mark the end of the turn for both sides.
			c.send(protocol.NewTranscription("", true, true))
			c.send(protocol.NewTranscription("", false, true))
		case live.EventFunctionCall:
			if ev.Call != nil {
				c.send(protocol.NewFunctionCall(ev.Call.Name, ev.Call.Args, ev.Call.ID))
			}
		case live.EventClosed:
			if ev.Err != nil {
				c.send(protocol.NewError("live_closed", ev.Err.Error(), ""))
				c.send(protocol.NewStatus(protocol.StatusError, "model connection lost"))
			} else {
				c.send(protocol.NewStatus(protocol.StatusDisconnected, ""))
			}
		}
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *client) liveConn() *live.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *client) takeConn() *live.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *client) send(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteJSON(v); err != nil {
		c.logger.Debug("ws write failed", "session_id", c.sessionID, "error", err)
	}
}

func (c *client) sendDecodeError(err error) {
	if de, ok := err.(*protocol.DecodeError); ok {
		c.send(protocol.NewError(de.Code, de.Message, de.Param))
		return
	}
	c.send(protocol.NewError("bad_request", err.Error(), ""))
}

func (c *client) warn(code, message string) error {
	c.send(protocol.NewStatus(protocol.StatusDisconnected, fmt.Sprintf("%s: %s", code, message)))
	return nil
}

// cleanup is the single teardown path, reached from read-loop exit, server
// drain, or tracker replacement. Safe to run twice.
func (c *client) cleanup() {
	c.cleanupOnce.Do(func() {
		if conn := c.takeConn(); conn != nil {
			_ = conn.Close()
		}
		if c.unregister != nil {
			c.unregister()
		}
		_ = c.ws.Close()
		c.logger.Info("client detached", "session_id", c.sessionID)
	})
}
