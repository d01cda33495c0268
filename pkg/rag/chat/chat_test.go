package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/counselhub/voice-agent/pkg/rag/store"
	"github.com/counselhub/voice-agent/pkg/rag/vectorstore"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]store.ChatSession
	messages []store.ChatMessage
	listErr  error
	nextID   int64
}

func (f *fakeStore) GetSession(_ context.Context, id string) (store.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return store.ChatSession{}, store.ErrNotFound
	}
	return sess, nil
}

func (f *fakeStore) ListMessages(_ context.Context, sessionID string) ([]store.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.ChatMessage
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertMessage(_ context.Context, msg store.ChatMessage) (store.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = f.nextID
	msg.CreatedAt = time.Now()
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeStore) stored() []store.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.ChatMessage(nil), f.messages...)
}

type fakeCache struct {
	mu               sync.Mutex
	answers          map[string]string
	messages         map[string][]store.ChatMessage
	collections      map[string]bool
	answerWrites     chan string
	messageWrites    chan int
	collectionWrites chan string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		answers:          make(map[string]string),
		messages:         make(map[string][]store.ChatMessage),
		collections:      make(map[string]bool),
		answerWrites:     make(chan string, 8),
		messageWrites:    make(chan int, 8),
		collectionWrites: make(chan string, 8),
	}
}

func (f *fakeCache) GetMessages(_ context.Context, sessionID string) ([]store.ChatMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.messages[sessionID]
	return msgs, ok
}

func (f *fakeCache) SetMessages(_ context.Context, sessionID string, msgs []store.ChatMessage) error {
	f.mu.Lock()
	f.messages[sessionID] = msgs
	f.mu.Unlock()
	f.messageWrites <- len(msgs)
	return nil
}

func (f *fakeCache) GetAnswer(_ context.Context, cohortKey, question string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ans, ok := f.answers[cohortKey+":"+question]
	return ans, ok
}

func (f *fakeCache) SetAnswer(_ context.Context, cohortKey, question, answer string) error {
	f.mu.Lock()
	f.answers[cohortKey+":"+question] = answer
	f.mu.Unlock()
	f.answerWrites <- answer
	return nil
}

func (f *fakeCache) GetCollectionExists(_ context.Context, collection string) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exists, ok := f.collections[collection]
	return exists, ok
}

func (f *fakeCache) SetCollectionExists(_ context.Context, collection string, exists bool) error {
	f.mu.Lock()
	f.collections[collection] = exists
	f.mu.Unlock()
	f.collectionWrites <- collection
	return nil
}

type fakeSearcher struct {
	exists     bool
	chunks     []vectorstore.Chunk
	collection string
	limit      int
	vector     []float32
}

func (f *fakeSearcher) CollectionExists(_ context.Context, collection string) (bool, error) {
	return f.exists, nil
}

func (f *fakeSearcher) Search(_ context.Context, collection string, vector []float32, limit int) ([]vectorstore.Chunk, error) {
	f.collection = collection
	f.vector = vector
	f.limit = limit
	return f.chunks, nil
}

type fakeEmbedder struct {
	text string
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.text = text
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeLLM struct {
	system string
	user   string
	answer string
	err    error
	calls  int
}

func (f *fakeLLM) Generate(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system = system
	f.user = user
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fixture struct {
	svc      *Service
	store    *fakeStore
	cache    *fakeCache
	searcher *fakeSearcher
	embedder *fakeEmbedder
	llm      *fakeLLM
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := &fakeStore{sessions: map[string]store.ChatSession{
		"sess-1": {ID: "sess-1", CohortKey: "cohort-a", FullName: "Pat"},
	}}
	sr := &fakeSearcher{
		exists: true,
		chunks: []vectorstore.Chunk{
			{Score: 0.92, Text: "The program fee is 2,000 US dollars.", ChunkIndex: 3, HasIndex: true},
			{Score: 0.81, Text: "The cohort starts 19 September 2025."},
		},
	}
	f := &fixture{
		store:    st,
		cache:    newFakeCache(),
		searcher: sr,
		embedder: &fakeEmbedder{},
		llm:      &fakeLLM{answer: "The fee is 2,000 US dollars."},
	}
	f.svc = NewService(ServiceConfig{
		Store:    f.store,
		Cache:    f.cache,
		Searcher: f.searcher,
		Embedder: f.embedder,
		LLM:      f.llm,
		TopK:     8,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func waitChan[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestAsk_FullFlow(t *testing.T) {
	f := newFixture(t)

	answer, err := f.svc.Ask(context.Background(), "cohort-a", "sess-1", "What is the fee?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "The fee is 2,000 US dollars." {
		t.Fatalf("answer = %q", answer)
	}

	if f.searcher.collection != "cohort_cohort-a" {
		t.Fatalf("collection = %q", f.searcher.collection)
	}
	if f.searcher.limit != 8 {
		t.Fatalf("limit = %d, want 8", f.searcher.limit)
	}
	if f.embedder.text != "What is the fee?" {
		t.Fatalf("embedded %q", f.embedder.text)
	}

	if !strings.Contains(f.llm.system, "[Rank 1, score: 0.9200] (chunk 3) The program fee is 2,000 US dollars.") {
		t.Fatalf("system prompt missing ranked chunk:\n%s", f.llm.system)
	}
	if !strings.Contains(f.llm.system, "(none)") {
		t.Fatalf("expected empty history marker:\n%s", f.llm.system)
	}
	if f.llm.user != "What is the fee?" {
		t.Fatalf("user = %q", f.llm.user)
	}

	stored := f.store.stored()
	if len(stored) != 1 || stored[0].MessageOrder != 1 || stored[0].Answer != answer {
		t.Fatalf("stored = %+v", stored)
	}

	if got := waitChan(t, f.cache.answerWrites, "answer cache write"); got != answer {
		t.Fatalf("cached answer = %q", got)
	}
	if got := waitChan(t, f.cache.messageWrites, "message cache write"); got != 1 {
		t.Fatalf("cached message count = %d", got)
	}
}

func TestAsk_SessionNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ask(context.Background(), "cohort-a", "missing", "q")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAsk_WrongCohort(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Ask(context.Background(), "cohort-b", "sess-1", "q")
	if !errors.Is(err, ErrWrongCohort) {
		t.Fatalf("err = %v, want ErrWrongCohort", err)
	}
}

func TestAsk_NoCollection(t *testing.T) {
	f := newFixture(t)
	f.searcher.exists = false

	_, err := f.svc.Ask(context.Background(), "cohort-a", "sess-1", "q")
	if !errors.Is(err, ErrNoCollection) {
		t.Fatalf("err = %v, want ErrNoCollection", err)
	}
}

func TestAsk_AnswerCacheHitSkipsModel(t *testing.T) {
	f := newFixture(t)
	f.cache.answers["cohort-a:cached question"] = "cached answer"

	answer, err := f.svc.Ask(context.Background(), "cohort-a", "sess-1", "cached question")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "cached answer" {
		t.Fatalf("answer = %q", answer)
	}
	if f.llm.calls != 0 {
		t.Fatalf("llm called %d times on cache hit", f.llm.calls)
	}

	// The cached answer still lands in the transcript.
	stored := f.store.stored()
	if len(stored) != 1 || stored[0].Answer != "cached answer" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestAsk_HistoryWindowKeepsLatestFourTurns(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 6; i++ {
		f.store.messages = append(f.store.messages, store.ChatMessage{
			SessionID:    "sess-1",
			Question:     fmt.Sprintf("q%d", i),
			Answer:       fmt.Sprintf("a%d", i),
			MessageOrder: i,
		})
	}

	if _, err := f.svc.Ask(context.Background(), "cohort-a", "sess-1", "latest"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if strings.Contains(f.llm.system, "User: q2") {
		t.Fatalf("history window leaked old turns:\n%s", f.llm.system)
	}
	for i := 3; i <= 6; i++ {
		if !strings.Contains(f.llm.system, fmt.Sprintf("User: q%d", i)) {
			t.Fatalf("history missing q%d:\n%s", i, f.llm.system)
		}
	}

	stored := f.store.stored()
	last := stored[len(stored)-1]
	if last.MessageOrder != 7 {
		t.Fatalf("MessageOrder = %d, want 7", last.MessageOrder)
	}
}

func TestAsk_MessagesServedFromCache(t *testing.T) {
	f := newFixture(t)
	f.store.listErr = errors.New("postgres down")
	f.cache.messages["sess-1"] = []store.ChatMessage{
		{SessionID: "sess-1", Question: "prior q", Answer: "prior a", MessageOrder: 1},
	}

	if _, err := f.svc.Ask(context.Background(), "cohort-a", "sess-1", "next"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(f.llm.system, "User: prior q") {
		t.Fatalf("cached history not used:\n%s", f.llm.system)
	}
}

func TestAsk_CollectionExistsCached(t *testing.T) {
	f := newFixture(t)
	f.searcher.exists = false
	f.cache.collections["cohort_cohort-a"] = true

	if _, err := f.svc.Ask(context.Background(), "cohort-a", "sess-1", "q"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
}

func TestAsk_LLMFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.llm.err = errors.New("model unavailable")

	_, err := f.svc.Ask(context.Background(), "cohort-a", "sess-1", "q")
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("err = %v", err)
	}
	if stored := f.store.stored(); len(stored) != 0 {
		t.Fatalf("failed exchange was persisted: %+v", stored)
	}
}
