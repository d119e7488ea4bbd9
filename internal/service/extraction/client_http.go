package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCompatBaseURL = "https://api.openai.com/v1"

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type compatRequest struct {
	Model       string          `json:"model"`
	Messages    []compatMessage `json:"messages"`
	Temperature float32         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	N           int             `json:"n"`
	Stream      bool            `json:"stream"`
}

type compatResponse struct {
	Choices []struct {
		Message compatMessage `json:"message"`
	} `json:"choices"`
}

// CompatClient talks to any OpenAI-compatible /chat/completions endpoint.
type CompatClient struct {
	url        string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewCompatClient(baseURL, model, apiKey string) (*CompatClient, error) {
	if apiKey == "" {
		return nil, errors.New("compat: api key must not be empty")
	}
	return &CompatClient{
		url:        completionsURL(baseURL),
		model:      model,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func completionsURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultCompatBaseURL
	}
	return base + "/chat/completions"
}

func (c *CompatClient) Complete(ctx context.Context, in Completion) (string, error) {
	body, err := json.Marshal(compatRequest{
		Model: c.model,
		Messages: []compatMessage{
			{Role: "system", Content: in.System},
			{Role: "user", Content: in.User},
		},
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
		N:           1,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("compat: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("compat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("compat: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &UpstreamError{Status: res.StatusCode, Body: string(buf)}
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("compat: read response body: %w", err)
	}
	var payload compatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", &UpstreamError{Status: res.StatusCode, Body: "undecodable completion envelope: " + string(raw)}
	}
	if len(payload.Choices) == 0 {
		return "", &UpstreamError{Status: res.StatusCode, Body: "no choices in response"}
	}
	return payload.Choices[0].Message.Content, nil
}
