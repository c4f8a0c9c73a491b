package translator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pptx-translator/internal/types"
)

func sampleRequest() BatchRequest {
	return BatchRequest{
		Segments: []Segment{
			{ID: "t1", Text: "Hello"},
			{ID: "t2", Text: "World"},
		},
		TargetLang: "de",
		Glossary: []types.GlossaryEntry{
			{Source: "Hello", Target: "Hallo"},
			{Source: "", Target: "ignored"},
		},
		Context: "Deck title: Greetings",
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"dummy", "ollama", "openai", "vertex"}, Names())

	engine, err := New("Dummy", Settings{})
	require.NoError(t, err)
	assert.Equal(t, "dummy", engine.Name())

	_, err = New("deepl", Settings{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrConfig))
	assert.Contains(t, err.Error(), "deepl")
}

func TestDummyEngine(t *testing.T) {
	out, err := NewDummyEngine().TranslateBatch(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"t1": "[de] Hello", "t2": "[de] World"}, out)
}

func TestBuildUserPrompt(t *testing.T) {
	prompt, err := buildUserPrompt(sampleRequest())
	require.NoError(t, err)

	assert.Contains(t, prompt, "Translate each item from auto-detect to de.")
	assert.Contains(t, prompt, "Context: Deck title: Greetings\n")
	assert.Contains(t, prompt, "Glossary (must use these translations): 'Hello' -> 'Hallo'\n")
	assert.NotContains(t, prompt, "ignored")
	assert.Contains(t, prompt, `Items: [{"id":"t1","text":"Hello"},{"id":"t2","text":"World"}]`)

	req := sampleRequest()
	req.SourceLang = "en"
	req.Glossary = nil
	req.Context = ""
	prompt, err = buildUserPrompt(req)
	require.NoError(t, err)
	assert.Contains(t, prompt, "from en to de")
	assert.NotContains(t, prompt, "Glossary")
	assert.NotContains(t, prompt, "Context:")
}

func TestParseTranslations(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string]string
		wantErr bool
	}{
		{
			name:    "plain json",
			content: `{"translations":[{"id":"t1","text":"Hallo"},{"id":"t2","text":"Welt"}]}`,
			want:    map[string]string{"t1": "Hallo", "t2": "Welt"},
		},
		{
			name:    "fenced json",
			content: "```json\n{\"translations\":[{\"id\":\"t1\",\"text\":\"Hallo\"}]}\n```",
			want:    map[string]string{"t1": "Hallo"},
		},
		{
			name:    "surrounding prose",
			content: `Sure: {"translations":[{"id":"t1","text":"Hallo"}]} done`,
			want:    map[string]string{"t1": "Hallo"},
		},
		{
			name:    "numeric id and incomplete items",
			content: `{"translations":[{"id":7,"text":"Sieben"},{"id":"t2"},"junk"]}`,
			want:    map[string]string{"7": "Sieben"},
		},
		{
			name:    "missing list",
			content: `{"result":[]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			content: "Hallo Welt",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTranslations(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLooksLikeSizeRejection(t *testing.T) {
	assert.True(t, looksLikeSizeRejection(errors.New(`error, status code: 400, message: {"code":"context_length_exceeded"}`)))
	assert.True(t, looksLikeSizeRejection(errors.New("This model's maximum context length is 8192 tokens")))
	assert.True(t, looksLikeSizeRejection(errors.New("prompt exceeds context length")))
	assert.False(t, looksLikeSizeRejection(errors.New("invalid api key")))
	assert.False(t, looksLikeSizeRejection(nil))
}

func TestCallWithRetry(t *testing.T) {
	old := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = old }()

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		out, err := callWithRetry(context.Background(), "test", 3, func() (map[string]string, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("status 503: overloaded")
			}
			return map[string]string{"t1": "ok"}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, "ok", out["t1"])
	})

	t.Run("size rejection is not retried", func(t *testing.T) {
		calls := 0
		_, err := callWithRetry(context.Background(), "test", 3, func() (map[string]string, error) {
			calls++
			return nil, NewSizeRejectedError("test", 9000, errors.New("status 500: maximum context length"))
		})
		assert.Equal(t, 1, calls)
		assert.True(t, IsSizeRejected(err))
	})

	t.Run("exhausted retries become backend error", func(t *testing.T) {
		_, err := callWithRetry(context.Background(), "test", 2, func() (map[string]string, error) {
			return nil, errors.New("status code: 502")
		})
		assert.True(t, types.IsCode(err, types.ErrBackend))
	})
}

func chatCompletionBody(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestOpenAIEngine(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletionBody(`{"translations":[{"id":"t1","text":"Hallo"},{"id":"t2","text":"Welt"}]}`))
	}))
	defer server.Close()

	engine, err := NewOpenAIEngine(Settings{APIKey: "test-key", BaseURL: server.URL, Model: "gpt-4o-mini"})
	require.NoError(t, err)

	out, err := engine.TranslateBatch(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"t1": "Hallo", "t2": "Welt"}, out)
	assert.Contains(t, gotBody, "gpt-4o-mini")
	assert.Contains(t, gotBody, DefaultSystemPrompt)
}

func TestOpenAIEngineSizeRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"This model's maximum context length is 8192 tokens.","type":"invalid_request_error","code":"context_length_exceeded"}}`))
	}))
	defer server.Close()

	engine, err := NewOpenAIEngine(Settings{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = engine.TranslateBatch(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, IsSizeRejected(err))
}

func TestOpenAIEngineRequiresKey(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	_, err := NewOpenAIEngine(Settings{})
	assert.True(t, types.IsCode(err, types.ErrConfig))
}

func TestOllamaEngine(t *testing.T) {
	old := retryBaseDelay
	retryBaseDelay = time.Millisecond
	defer func() { retryBaseDelay = old }()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)

		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"model is loading"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{
				"role":    "assistant",
				"content": `{"translations":[{"id":"t1","text":"Hallo"}]}`,
			},
		})
	}))
	defer server.Close()

	engine, err := NewOllamaEngine(Settings{BaseURL: server.URL})
	require.NoError(t, err)

	out, err := engine.TranslateBatch(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"t1": "Hallo"}, out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOllamaEngineSizeRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"input exceeds context length"}`))
	}))
	defer server.Close()

	engine, err := NewOllamaEngine(Settings{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = engine.TranslateBatch(context.Background(), sampleRequest())
	assert.True(t, IsSizeRejected(err))
}

func TestVertexEngineRequiresProject(t *testing.T) {
	t.Setenv(EnvGoogleProject, "")
	_, err := NewVertexEngine(Settings{})
	assert.True(t, types.IsCode(err, types.ErrConfig))
}
