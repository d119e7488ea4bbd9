package extraction

import (
	"context"
	"fmt"
	"os"
	"strings"

	"studyhub/internal/config"
	"studyhub/internal/integrations/paramstore"
)

// Completion is one non-streaming, single-choice request to a chat model.
type Completion struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// ChatModel returns the text of the model's reply. Non-success answers from the provider
// come back as *UpstreamError.
type ChatModel interface {
	Complete(ctx context.Context, req Completion) (string, error)
}

// NewChatModel builds the backend named by provider. "compat" speaks the OpenAI chat
// completions protocol directly; "openai", "claude" and "gemini" go through eino.
func NewChatModel(ctx context.Context, provider string, cfg config.ProviderConfig, apiKey string) (ChatModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %s has no model configured", provider)
	}
	switch provider {
	case "compat":
		return NewCompatClient(cfg.BaseURL, cfg.Model, apiKey)
	case "openai", "claude", "gemini":
		return NewEinoModel(ctx, provider, cfg, apiKey)
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

// ResolveAPIKey finds the provider key in config, then STUDYHUB_<PROVIDER>_API_KEY, then the
// SSM parameter named by api_key_param. getter may be nil when no parameter is configured.
func ResolveAPIKey(ctx context.Context, provider string, cfg config.ProviderConfig, getter paramstore.Getter) (string, error) {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(os.Getenv("STUDYHUB_" + strings.ToUpper(provider) + "_API_KEY")); key != "" {
		return key, nil
	}
	if cfg.APIKeyParam == "" {
		return "", nil
	}
	if getter == nil {
		client, err := newParamGetter(ctx, cfg.Region)
		if err != nil {
			return "", err
		}
		getter = client
	}
	return paramstore.FetchAPIKey(ctx, getter, cfg.APIKeyParam)
}

var newParamGetter = func(ctx context.Context, region string) (paramstore.Getter, error) {
	return paramstore.NewFromEnvironment(ctx, region)
}

// ChatModelFunc adapts a function to ChatModel.
type ChatModelFunc func(ctx context.Context, req Completion) (string, error)

func (f ChatModelFunc) Complete(ctx context.Context, req Completion) (string, error) {
	return f(ctx, req)
}
