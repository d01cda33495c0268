// Package session holds the in-memory voice session registry. Sessions are
// created over HTTP before the WebSocket attaches and expire on a fixed TTL
// from creation, enforced by a per-session timer plus a periodic sweep.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// LiveConn is the handle a session keeps on its upstream model connection.
// The concrete type lives in the live package; the store only needs Close.
type LiveConn interface {
	Close() error
}

// RagContext pins a session to one cohort RAG backend. Set at creation from
// the embedding page and immutable afterwards.
type RagContext struct {
	BaseURL      string `json:"baseUrl,omitempty"`
	CohortKey    string `json:"cohortKey,omitempty"`
	RagSessionID string `json:"sessionId,omitempty"`
	AgentName    string `json:"agentName,omitempty"`
}

type MemoryEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type Session struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Live       LiveConn
	Memory     []MemoryEntry
	RagContext *RagContext
}

type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timers   map[string]*time.Timer

	ttl         time.Duration
	sweepEvery  time.Duration
	memoryLimit int
	logger      *slog.Logger
	now         func() time.Time
}

type StoreConfig struct {
	TTL         time.Duration
	SweepEvery  time.Duration
	MemoryLimit int
	Logger      *slog.Logger
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 5 * time.Minute
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		sessions:    make(map[string]*Session),
		timers:      make(map[string]*time.Timer),
		ttl:         cfg.TTL,
		sweepEvery:  cfg.SweepEvery,
		memoryLimit: cfg.MemoryLimit,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

func (s *Store) Create(userID string, ragCtx *RagContext) *Session {
	now := s.now()
	sess := &Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		RagContext: ragCtx,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.timers[sess.ID] = time.AfterFunc(s.ttl, func() { s.expire(sess.ID) })
	s.mu.Unlock()

	s.logger.Info("session created", "session_id", sess.ID, "user_id", userID, "rag", ragCtx != nil)
	return sess
}

// Get returns a live (non-expired) session. An expired session that the
// timer has not collected yet is treated as absent.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if !s.now().Before(sess.ExpiresAt) {
		return nil, false
	}
	return sess, true
}

// Update applies fn to the session under the store lock. Returns false for
// unknown or expired ids.
func (s *Store) Update(id string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return false
	}
	fn(sess)
	return true
}

func (s *Store) AddMemory(id, role, text string) bool {
	return s.Update(id, func(sess *Session) {
		sess.Memory = append(sess.Memory, MemoryEntry{Role: role, Text: text, At: s.now()})
		if len(sess.Memory) > s.memoryLimit {
			sess.Memory = sess.Memory[len(sess.Memory)-s.memoryLimit:]
		}
	})
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		if tm := s.timers[id]; tm != nil {
			tm.Stop()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	if sess.Live != nil {
		_ = sess.Live.Close()
	}
	s.logger.Info("session deleted", "session_id", id)
	return true
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) List() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SweepExpired removes every session past its deadline. The per-session
// timers normally get there first; the sweep covers timers lost to clock
// adjustments or racing updates.
func (s *Store) SweepExpired() int {
	now := s.now()

	var expired []string
	s.mu.Lock()
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.expire(id)
	}
	return len(expired)
}

// Run drives the periodic sweep until ctx is canceled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				s.logger.Info("sessions swept", "expired", n)
			}
		}
	}
}

func (s *Store) expire(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		if tm := s.timers[id]; tm != nil {
			tm.Stop()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if sess.Live != nil {
		_ = sess.Live.Close()
	}
	s.logger.Info("session expired", "session_id", id)
}
