// Package vectorstore wraps the Qdrant client for cohort knowledge-base
// retrieval. One collection per cohort, named "cohort_{cohortKey}".
package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

type Config struct {
	// URL is the Qdrant server address, e.g. "https://example.qdrant.io:6334".
	URL    string
	APIKey string
}

// Chunk is one retrieved knowledge-base passage.
type Chunk struct {
	Score      float32
	Text       string
	ChunkIndex int
	HasIndex   bool
}

type Client struct {
	client *qdrant.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vectorstore: qdrant url is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse qdrant url: %w", err)
	}

	host := u.Hostname()
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("vectorstore: invalid port: %w", err)
		}
		port = p
	}

	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}
	return &Client{client: qc}, nil
}

// CollectionExists reports whether the named collection is present.
func (c *Client) CollectionExists(ctx context.Context, collection string) (bool, error) {
	names, err := c.client.ListCollections(ctx)
	if err != nil {
		return false, fmt.Errorf("vectorstore: list collections: %w", err)
	}
	for _, name := range names {
		if name == collection {
			return true, nil
		}
	}
	return false, nil
}

// Search runs a vector query against the collection and returns the top
// chunks with their payload text.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Chunk, error) {
	limitUint64 := uint64(limit)
	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	chunks := make([]Chunk, 0, len(points))
	for _, point := range points {
		chunk := Chunk{Score: point.Score}
		for key, value := range point.Payload {
			switch key {
			case "content", "text", "page_content":
				if s := value.GetStringValue(); s != "" {
					chunk.Text = s
				}
			case "chunkIndex", "chunk_index":
				chunk.ChunkIndex = int(value.GetIntegerValue())
				chunk.HasIndex = true
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// CollectionName derives the Qdrant collection for a cohort.
func CollectionName(cohortKey string) string {
	return "cohort_" + cohortKey
}
