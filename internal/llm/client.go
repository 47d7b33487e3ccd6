// Package llm wraps the chat-completion providers used by the analysis
// tools behind one small interface.
package llm

import (
	"autopn/internal/config"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoAPIKey is returned when the configured provider has no usable key.
var ErrNoAPIKey = errors.New("LLM API key missing or invalid")

// Client is a chat-completion provider.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Modeler is implemented by clients that report their model.
type Modeler interface {
	GetModel() string
}

// Provider names accepted in llm.provider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// NewClientFromConfig builds the client for cfg.Provider after validating
// its key.
func NewClientFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	key := CleanKey(cfg.APIKey)
	timeout := cfg.GetTimeout()

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, "":
		if err := ValidateOpenAIKey(key); err != nil {
			return nil, err
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      key,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
		}), nil
	case ProviderGemini:
		if key == "" {
			return nil, fmt.Errorf("%w (current: %s)", ErrNoAPIKey, MaskKey(key))
		}
		model := cfg.Model
		if model == "" || strings.HasPrefix(model, "gpt-") {
			model = config.DefaultGeminiModel
		}
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:      key,
			BaseURL:     geminiBaseURL(cfg.BaseURL),
			Model:       model,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// geminiBaseURL drops the OpenAI default so the SDK uses its own endpoint.
func geminiBaseURL(u string) string {
	if strings.Contains(u, "api.openai.com") {
		return ""
	}
	return u
}

// CleanKey trims whitespace and surrounding quotes.
func CleanKey(key string) string {
	return strings.Trim(strings.TrimSpace(key), `"'`)
}

// ValidateOpenAIKey checks the key looks like an OpenAI secret key.
func ValidateOpenAIKey(key string) error {
	if key == "" || !strings.HasPrefix(key, "sk-") || len(key) < 20 {
		return fmt.Errorf("%w (current: %s)", ErrNoAPIKey, MaskKey(key))
	}
	return nil
}

// MaskKey renders a key safe for logs: first 7 and last 4 characters.
func MaskKey(key string) string {
	if key == "" {
		return "MISSING"
	}
	if len(key) <= 11 {
		return fmt.Sprintf("*** (len=%d)", len(key))
	}
	return fmt.Sprintf("%s…%s (len=%d)", key[:7], key[len(key)-4:], len(key))
}

// ExtractJSON returns the slice of raw from its first '{' to its last '}',
// or raw unchanged when there is no such object.
func ExtractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

// withDefaultTimeout applies timeout when ctx carries no deadline.
func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
