// Package cache is the Redis layer in front of Postgres and Qdrant. Every
// miss falls through to the source of truth; a Redis outage degrades to
// slower requests, never to failures.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/counselhub/voice-agent/pkg/rag/store"
)

const (
	prefixMessages         = "messages:"
	prefixAnswer           = "answer:"
	prefixCollectionExists = "collection_exists:"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// GetMessages returns the cached message list, or (nil, false) on miss or
// any Redis/parse error.
func (c *Cache) GetMessages(ctx context.Context, sessionID string) ([]store.ChatMessage, bool) {
	raw, err := c.client.Get(ctx, prefixMessages+sessionID).Result()
	if err != nil {
		return nil, false
	}
	var msgs []store.ChatMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, false
	}
	return msgs, true
}

func (c *Cache) SetMessages(ctx context.Context, sessionID string, msgs []store.ChatMessage) error {
	val, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("cache: marshal messages: %w", err)
	}
	return c.client.Set(ctx, prefixMessages+sessionID, val, c.ttl).Err()
}

// GetAnswer looks up a previously cached answer for the same cohort and
// question. Questions are normalized with trim and lowercase only.
func (c *Cache) GetAnswer(ctx context.Context, cohortKey, question string) (string, bool) {
	raw, err := c.client.Get(ctx, answerKey(cohortKey, question)).Result()
	if err != nil {
		return "", false
	}
	return raw, true
}

func (c *Cache) SetAnswer(ctx context.Context, cohortKey, question, answer string) error {
	return c.client.Set(ctx, answerKey(cohortKey, question), answer, c.ttl).Err()
}

// GetCollectionExists returns the cached existence flag. The bool result is
// only meaningful when ok is true.
func (c *Cache) GetCollectionExists(ctx context.Context, collection string) (exists, ok bool) {
	raw, err := c.client.Get(ctx, prefixCollectionExists+collection).Result()
	if err != nil {
		return false, false
	}
	return raw == "1", true
}

func (c *Cache) SetCollectionExists(ctx context.Context, collection string, exists bool) error {
	val := "0"
	if exists {
		val = "1"
	}
	return c.client.Set(ctx, prefixCollectionExists+collection, val, c.ttl).Err()
}

func answerKey(cohortKey, question string) string {
	return prefixAnswer + cohortKey + ":" + strings.ToLower(strings.TrimSpace(question))
}
