// Package embed produces query embeddings with the Gemini embedding models.
package embed

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type Embedder struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*Embedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: create client: %w", err)
	}
	return &Embedder{client: client, model: model}, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed: embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed: empty embedding for model %s", e.model)
	}
	return resp.Embeddings[0].Values, nil
}
