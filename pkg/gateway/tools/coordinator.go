package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Coordinator sits between the live connector and the registry. Identical
// calls issued while one is still running join the in-flight execution, and
// settled results are replayed from a short-lived cache so a model that
// repeats itself within a few seconds does not hammer the RAG backend.
type Coordinator struct {
	reg *Registry
	ttl time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightCall
	cache    map[string]cachedResult

	now func() time.Time
}

type inflightCall struct {
	done   chan struct{}
	result Result
}

type cachedResult struct {
	result   Result
	storedAt time.Time
}

func NewCoordinator(reg *Registry, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Coordinator{
		reg:      reg,
		ttl:      ttl,
		inflight: make(map[string]*inflightCall),
		cache:    make(map[string]cachedResult),
		now:      time.Now,
	}
}

// Resolve executes the call or joins/replays an equivalent one. The result
// shape is identical to Registry.Execute in every path.
func (c *Coordinator) Resolve(ctx context.Context, sessionID, name string, args map[string]any) Result {
	key := dedupeKey(sessionID, name, args)

	c.mu.Lock()
	c.pruneLocked()
	if entry, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return entry.result
	}
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.result
		case <-ctx.Done():
			return Result{Err: ctx.Err().Error()}
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	res := c.reg.Execute(ctx, name, args)

	c.mu.Lock()
	call.result = res
	c.cache[key] = cachedResult{result: res, storedAt: c.now()}
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	return res
}

func (c *Coordinator) pruneLocked() {
	now := c.now()
	for key, entry := range c.cache {
		if now.Sub(entry.storedAt) >= c.ttl {
			delete(c.cache, key)
		}
	}
}

// dedupeKey hashes the identity of a call: the session, the tool, the RAG
// routing fields, and the question with case and surrounding whitespace
// ignored. Two calls that differ only in question casing collapse to one.
func dedupeKey(sessionID, name string, args map[string]any) string {
	question := stringArg(args, "question")
	if question == "" {
		question = stringArg(args, "query")
	}
	if question == "" {
		question = stringArg(args, "text")
	}
	question = strings.ToLower(strings.TrimSpace(question))

	parts := []string{
		sessionID,
		name,
		stringArg(args, "cohortKey"),
		stringArg(args, "sessionId"),
		stringArg(args, "baseUrl"),
		question,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "::")))
	return hex.EncodeToString(sum[:])
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
