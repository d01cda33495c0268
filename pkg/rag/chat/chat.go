// Package chat runs the retrieval-augmented answer flow for cohort
// questions: retrieve ranked chunks, window the conversation history,
// prompt the model, persist the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/counselhub/voice-agent/pkg/rag/store"
	"github.com/counselhub/voice-agent/pkg/rag/vectorstore"
)

var (
	// ErrWrongCohort means the session exists but belongs to another cohort.
	ErrWrongCohort = errors.New("chat: session does not belong to this cohort")

	// ErrNoCollection means the cohort has no knowledge-base collection.
	ErrNoCollection = errors.New("chat: collection does not exist")
)

// SessionStore is the Postgres surface the chat flow needs.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (store.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string) ([]store.ChatMessage, error)
	InsertMessage(ctx context.Context, msg store.ChatMessage) (store.ChatMessage, error)
}

// Cache is the Redis surface. All reads report misses on failure; detached
// writes never block the request.
type Cache interface {
	GetMessages(ctx context.Context, sessionID string) ([]store.ChatMessage, bool)
	SetMessages(ctx context.Context, sessionID string, msgs []store.ChatMessage) error
	GetAnswer(ctx context.Context, cohortKey, question string) (string, bool)
	SetAnswer(ctx context.Context, cohortKey, question, answer string) error
	GetCollectionExists(ctx context.Context, collection string) (exists, ok bool)
	SetCollectionExists(ctx context.Context, collection string, exists bool) error
}

// Searcher is the vector-store surface.
type Searcher interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]vectorstore.Chunk, error)
}

// Embedder turns a query into its embedding vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LLM generates the final answer from the assembled prompt.
type LLM interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

type Service struct {
	store    SessionStore
	cache    Cache
	searcher Searcher
	embedder Embedder
	llm      LLM
	topK     int
	logger   *slog.Logger

	// detachedTimeout bounds best-effort cache writes that outlive the
	// request context.
	detachedTimeout time.Duration
}

type ServiceConfig struct {
	Store    SessionStore
	Cache    Cache
	Searcher Searcher
	Embedder Embedder
	LLM      LLM
	TopK     int
	Logger   *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:           cfg.Store,
		cache:           cfg.Cache,
		searcher:        cfg.Searcher,
		embedder:        cfg.Embedder,
		llm:             cfg.LLM,
		topK:            topK,
		logger:          logger,
		detachedTimeout: 5 * time.Second,
	}
}

// Ask answers one question inside a session. The returned error is
// store.ErrNotFound for missing or expired sessions, ErrWrongCohort when
// the session belongs elsewhere, and ErrNoCollection when the cohort has
// no knowledge base.
func (s *Service) Ask(ctx context.Context, cohortKey, sessionID, question string) (string, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.CohortKey != cohortKey {
		return "", ErrWrongCohort
	}

	msgs, fromCache := s.cache.GetMessages(ctx, sessionID)
	if !fromCache {
		msgs, err = s.store.ListMessages(ctx, sessionID)
		if err != nil {
			return "", err
		}
	}

	// A cached answer still becomes part of this session's transcript.
	if answer, ok := s.cache.GetAnswer(ctx, cohortKey, question); ok {
		if err := s.persistExchange(ctx, sessionID, question, answer, msgs); err != nil {
			return "", err
		}
		return answer, nil
	}

	collection := vectorstore.CollectionName(cohortKey)
	exists, err := s.collectionExists(ctx, collection)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrNoCollection, collection)
	}

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return "", fmt.Errorf("chat: embed question: %w", err)
	}
	chunks, err := s.searcher.Search(ctx, collection, vector, s.topK)
	if err != nil {
		return "", fmt.Errorf("chat: similarity search: %w", err)
	}

	history := takeLatestHistory(historyFromMessages(msgs))
	system := buildSystemPrompt(chunks, history)

	answer, err := s.llm.Generate(ctx, system, question)
	if err != nil {
		return "", fmt.Errorf("chat: generate answer: %w", err)
	}

	if err := s.persistExchange(ctx, sessionID, question, answer, msgs); err != nil {
		return "", err
	}

	go s.detached(func(ctx context.Context) {
		if err := s.cache.SetAnswer(ctx, cohortKey, question, answer); err != nil {
			s.logger.Debug("answer cache write failed", "error", err)
		}
	})

	return answer, nil
}

func (s *Service) collectionExists(ctx context.Context, collection string) (bool, error) {
	if exists, ok := s.cache.GetCollectionExists(ctx, collection); ok {
		return exists, nil
	}
	exists, err := s.searcher.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("chat: collection check: %w", err)
	}
	go s.detached(func(ctx context.Context) {
		if err := s.cache.SetCollectionExists(ctx, collection, exists); err != nil {
			s.logger.Debug("collection cache write failed", "error", err)
		}
	})
	return exists, nil
}

// persistExchange writes the message to Postgres and refreshes the message
// cache off the request path. Postgres is the source of truth for ordering.
func (s *Service) persistExchange(ctx context.Context, sessionID, question, answer string, prior []store.ChatMessage) error {
	nextOrder := 1
	if len(prior) > 0 {
		nextOrder = prior[len(prior)-1].MessageOrder + 1
	}

	stored, err := s.store.InsertMessage(ctx, store.ChatMessage{
		SessionID:    sessionID,
		Question:     question,
		Answer:       answer,
		MessageOrder: nextOrder,
	})
	if err != nil {
		return fmt.Errorf("chat: save message: %w", err)
	}

	updated := append(append([]store.ChatMessage(nil), prior...), stored)
	go s.detached(func(ctx context.Context) {
		if err := s.cache.SetMessages(ctx, sessionID, updated); err != nil {
			s.logger.Debug("message cache write failed", "error", err)
		}
	})
	return nil
}

func (s *Service) detached(fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.detachedTimeout)
	defer cancel()
	fn(ctx)
}
