package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const CohortChatToolName = "cohort_chat"

type CohortChatConfig struct {
	HTTPClient *http.Client
	// APIKey authenticates against the RAG backend. Sent as a bearer token.
	APIKey        string
	RetryAttempts int
}

type cohortChatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId,omitempty"`
	Mode      string `json:"mode"`
}

type cohortChatResponse struct {
	Answer   string `json:"answer"`
	Response string `json:"response"`
}

// NewCohortChatTool builds the RAG bridge tool. Every argument the handler
// needs (baseUrl, cohortKey, question, sessionId) arrives in args; the live
// connector fills in session defaults before the call reaches us.
func NewCohortChatTool(cfg CohortChatConfig) Definition {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return Definition{
		Name:        CohortChatToolName,
		Description: "Answer a question about the cohort program using the program knowledge base. Always use this tool for program questions.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "The user's question, verbatim.",
				},
			},
			"required": []string{"question"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			baseURL := strings.TrimRight(stringArg(args, "baseUrl"), "/")
			cohortKey := stringArg(args, "cohortKey")
			question := strings.TrimSpace(stringArg(args, "question"))
			if question == "" {
				question = strings.TrimSpace(stringArg(args, "query"))
			}
			if question == "" {
				question = strings.TrimSpace(stringArg(args, "text"))
			}

			if baseURL == "" {
				return nil, fmt.Errorf("cohort_chat: no RAG base URL configured")
			}
			if cohortKey == "" {
				return nil, fmt.Errorf("cohort_chat: no cohort key configured")
			}
			if question == "" {
				return nil, fmt.Errorf("cohort_chat: question is required")
			}

			body, err := json.Marshal(cohortChatRequest{
				Question:  question,
				SessionID: stringArg(args, "sessionId"),
				Mode:      "voice",
			})
			if err != nil {
				return nil, fmt.Errorf("cohort_chat: encode request: %w", err)
			}

			endpoint := baseURL + "/api/chat/cohort/" + url.PathEscape(cohortKey)

			var answer string
			backoff := retry.WithMaxRetries(uint64(attempts-1), retry.WithCappedDuration(2*time.Second, retry.NewExponential(250*time.Millisecond)))
			err = retry.Do(ctx, backoff, func(ctx context.Context) error {
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
				if err != nil {
					return err
				}
				req.Header.Set("Content-Type", "application/json")
				if cfg.APIKey != "" {
					req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
				}

				resp, err := client.Do(req)
				if err != nil {
					// Transport-level failures are worth another try.
					return retry.RetryableError(err)
				}
				defer resp.Body.Close()

				if resp.StatusCode != http.StatusOK {
					snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
					return fmt.Errorf("rag backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
				}

				var parsed cohortChatResponse
				if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
					return fmt.Errorf("decode rag response: %w", err)
				}
				answer = parsed.Answer
				if answer == "" {
					answer = parsed.Response
				}
				if answer == "" {
					return fmt.Errorf("rag backend returned an empty answer")
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cohort_chat: %w", err)
			}

			return map[string]any{"response": answer}, nil
		},
	}
}
