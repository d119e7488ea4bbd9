package extraction

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"studyhub/internal/config"
)

// EinoModel adapts an eino chat model to ChatModel.
type EinoModel struct {
	chat model.BaseChatModel
}

// claudeMaxTokens is the ceiling the claude client requires up front; per-call limits
// are passed as options.
const claudeMaxTokens = 2048

func NewEinoModel(ctx context.Context, provider string, cfg config.ProviderConfig, apiKey string) (*EinoModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s has no api key", provider)
	}
	var (
		chat model.BaseChatModel
		err  error
	)
	switch provider {
	case "openai":
		chat, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  apiKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		chat, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chat, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: claudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &EinoModel{chat: chat}, nil
}

func (m *EinoModel) Complete(ctx context.Context, in Completion) (string, error) {
	msg, err := m.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(in.System),
		schema.UserMessage(in.User),
	}, model.WithTemperature(in.Temperature), model.WithMaxTokens(in.MaxTokens))
	if err != nil {
		// eino does not expose the provider status code
		return "", &UpstreamError{Status: http.StatusBadGateway, Body: err.Error()}
	}
	if msg == nil {
		return "", &UpstreamError{Status: http.StatusBadGateway, Body: "empty reply"}
	}
	return msg.Content, nil
}
