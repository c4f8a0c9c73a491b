// Package translator provides the translation engines used by the pptx pipeline.
// Each engine translates one batch of id-tagged segments and reports batch-size
// rejections as a dedicated error so callers can split and retry.
package translator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"pptx-translator/internal/logger"
	"pptx-translator/internal/types"
)

const (
	// DefaultMaxRetries is the number of attempts made for transient API errors
	DefaultMaxRetries = 2
	// DefaultTimeout is the default per-request timeout for HTTP engines
	DefaultTimeout = 120 * time.Second
	// AutoDetect is sent to engines when no source language is configured
	AutoDetect = "auto-detect"
)

// retryBaseDelay is multiplied by the attempt number between retries
var retryBaseDelay = 2 * time.Second

// Segment 待翻译的文本片段
type Segment struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// BatchRequest 一次后端调用的输入
type BatchRequest struct {
	Segments   []Segment
	SourceLang string
	TargetLang string
	Glossary   []types.GlossaryEntry
	Context    string
}

// SourceOrAuto returns the source language, or AutoDetect when it is empty
func (r BatchRequest) SourceOrAuto() string {
	if strings.TrimSpace(r.SourceLang) == "" {
		return AutoDetect
	}
	return r.SourceLang
}

// Chars returns the total character count of the batch
func (r BatchRequest) Chars() int {
	n := 0
	for _, s := range r.Segments {
		n += len([]rune(s.Text))
	}
	return n
}

// Engine translates batches of segments.
//
// TranslateBatch returns a map from segment id to translated text. Ids may be
// missing from the result; the caller falls back to the source text for those.
// A batch that is too large for the backend must be reported with
// NewSizeRejectedError; every other error is treated as fatal.
type Engine interface {
	Name() string
	TranslateBatch(ctx context.Context, req BatchRequest) (map[string]string, error)
}

// Settings 后端配置，来自配置文件或 --backend-config
type Settings struct {
	Model          string  `json:"model" yaml:"model" toml:"model"`
	APIKey         string  `json:"api_key" yaml:"api_key" toml:"api_key"`
	BaseURL        string  `json:"base_url" yaml:"base_url" toml:"base_url"`
	Temperature    float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	SystemPrompt   string  `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	Project        string  `json:"project" yaml:"project" toml:"project"`
	Location       string  `json:"location" yaml:"location" toml:"location"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	MaxRetries     int     `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
}

func (s Settings) timeout() time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

func (s Settings) maxRetries() int {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return DefaultMaxRetries
}

// NewSizeRejectedError marks err as a batch-size rejection from the named engine
func NewSizeRejectedError(engine string, chars int, cause error) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrSizeRejected,
		"batch rejected as too large",
		engine+": "+strconv.Itoa(chars)+" chars",
		cause,
	)
}

// IsSizeRejected reports whether err is a batch-size rejection
func IsSizeRejected(err error) bool {
	return types.IsCode(err, types.ErrSizeRejected)
}

// looksLikeSizeRejection classifies a raw backend error message. The API error
// code is checked first; the phrase match covers providers that only return text.
func looksLikeSizeRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "context_length_exceeded") {
		return true
	}
	return strings.Contains(msg, "context length") || strings.Contains(msg, "maximum")
}

// isTransient reports whether a raw backend error is worth retrying
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"status code: 429", "status code: 5", "status 429", "status 5", "rate limit", "timeout", "connection reset", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// callWithRetry runs call up to maxRetries times while it fails with a transient
// error. Size rejections and non-transient failures are returned immediately.
func callWithRetry(ctx context.Context, engine string, maxRetries int, call func() (map[string]string, error)) (map[string]string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		out, err := call()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if IsSizeRejected(err) || !isTransient(err) {
			return nil, err
		}
		logger.Warn("translation attempt failed",
			logger.String("engine", engine),
			logger.Int("attempt", attempt),
			logger.Err(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, types.NewAppError(types.ErrCancelled, "translation cancelled", ctx.Err())
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}
	}
	return nil, types.NewAppErrorWithDetails(
		types.ErrBackend,
		"translation failed after multiple retries",
		engine+": attempted "+strconv.Itoa(maxRetries)+" times",
		lastErr,
	)
}
