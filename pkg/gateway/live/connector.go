package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/counselhub/voice-agent/pkg/gateway/session"
	"github.com/counselhub/voice-agent/pkg/gateway/tools"
)

type State int32

const (
	StateUnconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Config struct {
	Model     string
	VoiceName string
	// RagBaseURL is the deployment-level RAG backend. When set it beats the
	// base URL the embedding page reported in RagContext.
	RagBaseURL     string
	InSampleRateHz int
	EventBuffer    int
}

// Connector dials the live model on behalf of sessions. One Conn per
// session; connecting again tears down the previous Conn first.
type Connector struct {
	client   ModelClient
	registry *tools.Registry
	coord    *tools.Coordinator
	store    *session.Store
	cfg      Config
	logger   *slog.Logger
}

func NewConnector(client ModelClient, registry *tools.Registry, coord *tools.Coordinator, store *session.Store, cfg Config, logger *slog.Logger) *Connector {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		client:   client,
		registry: registry,
		coord:    coord,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Conn is one session's upstream connection. Events() yields the event
// stream; the channel closes after EventClosed.
type Conn struct {
	sessionID string
	ragCtx    *session.RagContext

	connector *Connector
	model     ModelConn
	events    chan Event

	state     atomic.Int32
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func (c *Connector) Connect(ctx context.Context, sess *session.Session) (*Conn, error) {
	toolset, err := c.toolsetFor(sess.RagContext)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		sessionID: sess.ID,
		ragCtx:    sess.RagContext,
		connector: c,
		events:    make(chan Event, c.cfg.EventBuffer),
		ctx:       runCtx,
		cancel:    cancel,
	}
	conn.state.Store(int32(StateConnecting))

	model, err := c.client.Connect(ctx, ConnectConfig{
		Model:             c.cfg.Model,
		SystemInstruction: systemInstructionFor(sess.RagContext),
		VoiceName:         c.cfg.VoiceName,
		Tools:             toolset,
		InSampleRateHz:    c.cfg.InSampleRateHz,
	})
	if err != nil {
		cancel()
		conn.state.Store(int32(StateClosed))
		return nil, ClassifyCloseError(err)
	}
	conn.model = model
	conn.state.Store(int32(StateOpen))

	// At most one live connection per session: replace and close any prior.
	// A session that expired between lookup and attach gets no connection.
	var prior session.LiveConn
	if !c.store.Update(sess.ID, func(s *session.Session) {
		prior = s.Live
		s.Live = conn
	}) {
		_ = conn.Close()
		return nil, fmt.Errorf("live: attach session %s: %w", sess.ID, session.ErrNotFound)
	}
	if prior != nil {
		_ = prior.Close()
	}

	c.logger.Info("live connected", "session_id", sess.ID, "model", c.cfg.Model, "rag", sess.RagContext != nil)
	go conn.run()
	return conn, nil
}

// toolsetFor picks the declarations offered to the model. RAG sessions get
// cohort_chat and nothing else, so the model cannot wander off into the
// demo tools.
func (c *Connector) toolsetFor(ragCtx *session.RagContext) ([]tools.Definition, error) {
	if ragCtx == nil {
		return c.registry.All(), nil
	}
	def, ok := c.registry.Get(tools.CohortChatToolName)
	if !ok {
		return nil, fmt.Errorf("live: %s tool is not registered", tools.CohortChatToolName)
	}
	return []tools.Definition{def}, nil
}

func (c *Conn) SessionID() string { return c.sessionID }

func (c *Conn) Events() <-chan Event { return c.events }

func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) SendAudio(pcm []byte, mimeType string) error {
	if c.State() != StateOpen {
		return ErrNotConnected
	}
	return c.model.SendAudio(pcm, mimeType)
}

// Close tears the connection down. Safe to call any number of times and
// from any goroutine, including after the session store expired us.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.cancel()
		if c.model != nil {
			_ = c.model.Close()
		}
	})
	return nil
}

func (c *Conn) run() {
	defer close(c.events)

	c.emit(Event{Type: EventOpen})
	for {
		msg, err := c.model.Receive()
		if err != nil {
			localClose := c.ctx.Err() != nil
			c.state.Store(int32(StateClosed))
			if localClose {
				c.emit(Event{Type: EventClosed})
			} else {
				classified := ClassifyCloseError(err)
				c.connector.logger.Warn("live closed", "session_id", c.sessionID, "error", classified)
				c.emit(Event{Type: EventClosed, Err: classified})
			}
			_ = c.Close()
			return
		}
		c.handle(msg)
	}
}

func (c *Conn) handle(msg *ServerMessage) {
	if msg == nil {
		return
	}

	// Tool calls settle before anything else in the message is relayed.
	if len(msg.FunctionCalls) > 0 {
		c.resolveFunctionCalls(msg.FunctionCalls)
	}

	if msg.Interrupted {
		c.emit(Event{Type: EventInterrupted})
	}
	if len(msg.Audio) > 0 {
		c.emit(Event{Type: EventAudio, Audio: msg.Audio})
	}
	if t := msg.InputTranscript; t != nil {
		c.emit(Event{Type: EventTranscript, Text: t.Text, IsUser: true, IsFinal: t.Final})
	}
	if t := msg.OutputTranscript; t != nil {
		c.emit(Event{Type: EventTranscript, Text: t.Text, IsUser: false, IsFinal: t.Final})
	}
	if msg.TurnComplete {
		c.emit(Event{Type: EventTurnComplete})
	}
}

// resolveFunctionCalls answers a tool-call message: every call resolves
// concurrently through the coordinator, then all responses go back in a
// single batch so the model never waits on a partial set.
func (c *Conn) resolveFunctionCalls(calls []FunctionCall) {
	responses := make([]FunctionResponse, len(calls))
	var wg sync.WaitGroup
	for i := range calls {
		call := calls[i]
		c.emit(Event{Type: EventFunctionCall, Call: &call})

		wg.Add(1)
		go func(i int, call FunctionCall) {
			defer wg.Done()
			args := c.effectiveArgs(call)
			res := c.connector.coord.Resolve(c.ctx, c.sessionID, call.Name, args)
			if res.IsError() {
				c.connector.logger.Warn("tool call failed", "session_id", c.sessionID, "tool", call.Name, "error", res.Err)
			} else {
				c.connector.logger.Info("tool call resolved", "session_id", c.sessionID, "tool", call.Name)
			}
			responses[i] = FunctionResponse{ID: call.ID, Name: call.Name, Response: res.Response()}
		}(i, call)
	}
	wg.Wait()

	if err := c.model.SendToolResponses(responses); err != nil {
		c.connector.logger.Warn("send tool responses", "session_id", c.sessionID, "error", err)
	}
}

// effectiveArgs layers call arguments over session context. Model-provided
// args always win; for the base URL the deployment default beats the value
// the embedding page reported.
func (c *Conn) effectiveArgs(call FunctionCall) map[string]any {
	args := make(map[string]any, len(call.Args)+3)
	for k, v := range call.Args {
		args[k] = v
	}
	if call.Name != tools.CohortChatToolName {
		return args
	}

	if s, _ := args["cohortKey"].(string); s == "" && c.ragCtx != nil {
		args["cohortKey"] = c.ragCtx.CohortKey
	}
	if s, _ := args["sessionId"].(string); s == "" && c.ragCtx != nil {
		args["sessionId"] = c.ragCtx.RagSessionID
	}
	if s, _ := args["baseUrl"].(string); s == "" {
		switch {
		case c.connector.cfg.RagBaseURL != "":
			args["baseUrl"] = c.connector.cfg.RagBaseURL
		case c.ragCtx != nil && c.ragCtx.BaseURL != "":
			args["baseUrl"] = c.ragCtx.BaseURL
		}
	}
	return args
}

func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
		// Receiver detached; keep terminal events if there is room.
		select {
		case c.events <- ev:
		default:
		}
	}
}
