package translator

import (
	"context"
	"os"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/types"
)

const (
	DefaultVertexModel    = "gemini-1.5-pro"
	DefaultVertexLocation = "us-central1"
	EnvGoogleProject      = "GOOGLE_CLOUD_PROJECT"
	EnvGoogleLocation     = "GOOGLE_CLOUD_REGION"
)

// VertexEngine translates with a Gemini model on Vertex AI in JSON response mode
type VertexEngine struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	modelName  string
	maxRetries int
}

// NewVertexEngine creates a Vertex AI client for the configured project and region
func NewVertexEngine(settings Settings) (*VertexEngine, error) {
	project := settings.Project
	if project == "" {
		project = os.Getenv(EnvGoogleProject)
	}
	location := settings.Location
	if location == "" {
		location = os.Getenv(EnvGoogleLocation)
	}
	if location == "" {
		location = DefaultVertexLocation
	}
	if project == "" {
		return nil, types.NewAppError(types.ErrConfig, "vertex backend requires a project (project or "+EnvGoogleProject+")", nil)
	}

	client, err := genai.NewClient(context.Background(), project, location)
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to create vertex client", err)
	}

	modelName := settings.Model
	if modelName == "" {
		modelName = DefaultVertexModel
	}
	systemPrompt := settings.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	gm := client.GenerativeModel(modelName)
	gm.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	gm.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](settings.Temperature),
	}

	logger.Debug("vertex engine initialized",
		logger.String("project", project),
		logger.String("location", location),
		logger.String("model", modelName))

	return &VertexEngine{
		client:     client,
		model:      gm,
		modelName:  modelName,
		maxRetries: settings.maxRetries(),
	}, nil
}

func (e *VertexEngine) Name() string { return "vertex" }

// Close releases the underlying client
func (e *VertexEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func (e *VertexEngine) TranslateBatch(ctx context.Context, req BatchRequest) (map[string]string, error) {
	prompt, err := buildUserPrompt(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrBackend, "failed to build prompt", err)
	}

	return callWithRetry(ctx, e.Name(), e.maxRetries, func() (map[string]string, error) {
		resp, err := e.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			if looksLikeSizeRejection(err) {
				return nil, NewSizeRejectedError(e.Name(), req.Chars(), err)
			}
			return nil, types.NewAppError(types.ErrBackend, "vertex generate content failed", err)
		}

		out, err := parseTranslations(responseText(resp))
		if err != nil {
			return nil, types.NewAppError(types.ErrBackend, "invalid vertex response", err)
		}
		return out, nil
	})
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
