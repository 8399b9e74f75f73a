// Package llm contains a minimal client for OpenAI chat completions, used to
// summarize and answer questions over channel transcripts.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chat-relay/chat"
)

// Client calls the chat completions endpoint. BaseURL and HTTPClient are
// overridable for tests.
type Client struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a client with the given key and model. An empty model falls back
// to gpt-4o-mini.
func New(apiKey, model, baseURL string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{APIKey: apiKey, Model: model, BaseURL: baseURL}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// Summarize condenses a transcript into a short summary.
func (c *Client) Summarize(ctx context.Context, msgs []chat.Message) (string, error) {
	return c.complete(ctx, completionRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a helpful assistant that summarizes chat conversations concisely. Focus on key topics, decisions, and action items."},
			{Role: "user", Content: fmt.Sprintf("Summarize these chat messages in less than 100 words:\n\n%s", transcript(msgs))},
		},
		MaxTokens:   150,
		Temperature: 0.7,
	})
}

// Answer responds to a question grounded in a transcript.
func (c *Client) Answer(ctx context.Context, msgs []chat.Message, query string) (string, error) {
	return c.complete(ctx, completionRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a helpful assistant that answers questions based on chat history. Be concise and cite relevant messages if possible."},
			{Role: "user", Content: fmt.Sprintf("Based on these chat messages:\n\n%s\n\nQuestion: %s", transcript(msgs), query)},
		},
		MaxTokens:   200,
		Temperature: 0.5,
	})
}

func (c *Client) complete(ctx context.Context, reqBody completionRequest) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("api key empty")
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", fmt.Errorf("completion request failed: status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return body.Choices[0].Message.Content, nil
}

// transcript renders messages one per line as "[userId]: text".
func transcript(msgs []chat.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s]: %s", m.UserID, m.Text)
	}
	return b.String()
}
