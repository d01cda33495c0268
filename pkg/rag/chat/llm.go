package chat

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiLLM generates answers with a Gemini chat model.
type GeminiLLM struct {
	client *genai.Client
	model  string
}

func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: create gemini client: %w", err)
	}
	return &GeminiLLM{client: client, model: model}, nil
}

func (g *GeminiLLM) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("chat: generate content: %w", err)
	}
	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", fmt.Errorf("chat: model returned empty answer")
	}
	return answer, nil
}
