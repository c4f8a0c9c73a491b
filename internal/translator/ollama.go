package translator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/types"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// OllamaEngine translates through a local Ollama server's /api/chat endpoint
type OllamaEngine struct {
	http         *resty.Client
	baseURL      string
	model        string
	systemPrompt string
	temperature  float32
	maxRetries   int
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

func NewOllamaEngine(settings Settings) (*OllamaEngine, error) {
	base := settings.BaseURL
	if base == "" {
		base = os.Getenv(EnvOllamaHost)
	}
	if base == "" {
		base = DefaultOllamaHost
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	modelName := settings.Model
	if modelName == "" {
		modelName = DefaultOllamaModel
	}
	systemPrompt := settings.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	return &OllamaEngine{
		http:         resty.New().SetTimeout(settings.timeout()),
		baseURL:      strings.TrimRight(base, "/"),
		model:        modelName,
		systemPrompt: systemPrompt,
		temperature:  settings.Temperature,
		maxRetries:   settings.maxRetries(),
	}, nil
}

func (e *OllamaEngine) Name() string { return "ollama" }

func (e *OllamaEngine) TranslateBatch(ctx context.Context, req BatchRequest) (map[string]string, error) {
	prompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrBackend, "failed to build prompt", err)
	}
	body := ollamaChatRequest{
		Model: e.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: e.systemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream:  false,
		Format:  "json",
		Options: map[string]interface{}{"temperature": e.temperature},
	}

	return callWithRetry(ctx, e.Name(), e.maxRetries, func() (map[string]string, error) {
		var resp ollamaChatResponse
		r, err := e.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			SetResult(&resp).
			SetError(&resp).
			Post(e.baseURL + "/api/chat")
		if err != nil {
			return nil, types.NewAppError(types.ErrBackend, "ollama request failed", err)
		}
		if r.IsError() {
			cause := fmt.Errorf("status %d: %s", r.StatusCode(), strings.TrimSpace(resp.Error+" "+abbreviate(r.String(), 300)))
			if looksLikeSizeRejection(cause) {
				return nil, NewSizeRejectedError(e.Name(), req.Chars(), cause)
			}
			return nil, types.NewAppError(types.ErrBackend, "ollama chat failed", cause)
		}

		logger.Debug("ollama response received",
			logger.Int("status", r.StatusCode()),
			logger.Int("bytes", len(r.Body())))

		out, err := parseTranslations(resp.Message.Content)
		if err != nil {
			return nil, types.NewAppError(types.ErrBackend, "invalid ollama response", err)
		}
		return out, nil
	})
}
