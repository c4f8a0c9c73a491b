package translator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/types"
)

const (
	// DefaultOpenAIModel is the chat model used when none is configured
	DefaultOpenAIModel = "gpt-4o-mini"
	// EnvOpenAIAPIKey is read when the settings carry no API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL overrides the API endpoint for OpenAI-compatible servers
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
)

// OpenAIEngine translates through an OpenAI-compatible chat completions API
type OpenAIEngine struct {
	chat         model.BaseChatModel
	model        string
	systemPrompt string
	maxRetries   int
}

// NewOpenAIEngine creates the eino chat model for the configured endpoint
func NewOpenAIEngine(settings Settings) (*OpenAIEngine, error) {
	apiKey := settings.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, types.NewAppError(types.ErrConfig, "openai backend requires an API key (api_key or "+EnvOpenAIAPIKey+")", nil)
	}
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv(EnvOpenAIBaseURL)
	}
	modelName := settings.Model
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}
	systemPrompt := settings.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	temperature := settings.Temperature
	cfg := &openai.ChatModelConfig{
		Model:       modelName,
		APIKey:      apiKey,
		Temperature: &temperature,
		Timeout:     settings.timeout(),
	}
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	chat, err := openai.NewChatModel(context.Background(), cfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to create chat model", err)
	}

	logger.Debug("openai engine initialized",
		logger.String("model", modelName),
		logger.String("baseURL", cfg.BaseURL))

	return &OpenAIEngine{
		chat:         chat,
		model:        modelName,
		systemPrompt: systemPrompt,
		maxRetries:   settings.maxRetries(),
	}, nil
}

func (e *OpenAIEngine) Name() string { return "openai" }

// TranslateBatch sends one chat completion per batch and parses the JSON reply
func (e *OpenAIEngine) TranslateBatch(ctx context.Context, req BatchRequest) (map[string]string, error) {
	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrBackend, "failed to build prompt", err)
	}
	messages := []*schema.Message{
		schema.SystemMessage(e.systemPrompt),
		schema.UserMessage(userPrompt),
	}

	return callWithRetry(ctx, e.Name(), e.maxRetries, func() (map[string]string, error) {
		logger.Debug("calling chat model",
			logger.String("model", e.model),
			logger.Int("segments", len(req.Segments)),
			logger.Int("chars", req.Chars()))

		resp, err := e.chat.Generate(ctx, messages)
		if err != nil {
			if looksLikeSizeRejection(err) {
				return nil, NewSizeRejectedError(e.Name(), req.Chars(), err)
			}
			return nil, types.NewAppError(types.ErrBackend, "chat completion failed", err)
		}
		if resp == nil {
			return nil, types.NewAppError(types.ErrBackend, "chat completion returned no message", nil)
		}

		out, err := parseTranslations(resp.Content)
		if err != nil {
			return nil, types.NewAppError(types.ErrBackend, fmt.Sprintf("invalid %s response", e.Name()), err)
		}
		return out, nil
	})
}
