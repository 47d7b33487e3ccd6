package llm

import (
	"autopn/internal/config"
	"autopn/internal/usage"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "sk-test-0123456789abcdef"

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewOpenAIClient(OpenAIConfig{APIKey: testKey, BaseURL: srv.URL, Model: "gpt-test", Temperature: 0.6})
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
}

func TestOpenAIClient_Request(t *testing.T) {
	var got openAIRequest
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "  {\"ok\": true}  ")
	})

	out, err := c.CompleteWithSystem(context.Background(), "système", "question")
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 0.6, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openAIMessage{Role: "system", Content: "système"}, got.Messages[0])
	assert.Equal(t, openAIMessage{Role: "user", Content: "question"}, got.Messages[1])
}

func TestOpenAIClient_RecordsUsage(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	})
	tracker, err := usage.NewTracker(t.TempDir())
	require.NoError(t, err)
	ctx := usage.WithCommand(usage.NewContext(context.Background(), tracker), "autopn reply", "maman")

	_, err = c.Complete(ctx, "question")
	require.NoError(t, err)
	stats := tracker.Stats()
	assert.Equal(t, usage.TokenCounts{Calls: 1, Input: 12, Output: 3, Total: 15}, stats.ByModel["gpt-test"])
	assert.Equal(t, int64(15), stats.ByCommand["autopn reply"].Total)
}

func TestOpenAIClient_DefaultSystemPrompt(t *testing.T) {
	var got openAIRequest
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "ok")
	})
	_, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, defaultSystemPrompt, got.Messages[0].Content)
}

func TestOpenAIClient_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		writeCompletion(w, "finally")
	})

	out, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "finally", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusTooManyRequests)
	})

	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(4), calls.Load())
}

func TestOpenAIClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"bad model"}}`, http.StatusBadRequest)
	})

	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	c := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.Complete(context.Background(), "x")
	assert.EqualError(t, err, "no completion returned")
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{})
	_, err := c.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoAPIKey)
	assert.Equal(t, "gpt-4o-mini", c.GetModel())
}

func TestNewClientFromConfig(t *testing.T) {
	ctx := context.Background()

	_, err := NewClientFromConfig(ctx, config.LLMConfig{Provider: "openai", APIKey: "not-a-key"})
	require.ErrorIs(t, err, ErrNoAPIKey)
	assert.Contains(t, err.Error(), "len=9")

	c, err := NewClientFromConfig(ctx, config.LLMConfig{Provider: "openai", APIKey: ` "` + testKey + `" `, Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", c.(Modeler).GetModel())

	_, err = NewClientFromConfig(ctx, config.LLMConfig{Provider: "gemini"})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewClientFromConfig(ctx, config.LLMConfig{Provider: "mistral", APIKey: testKey})
	assert.Error(t, err)

	g, err := NewClientFromConfig(ctx, config.LLMConfig{Provider: "gemini", APIKey: "gemini-key", Model: "gpt-4o-mini",
		BaseURL: "https://api.openai.com/v1"})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultGeminiModel, g.(Modeler).GetModel())
}

func TestGeminiClient_GenerateContent(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"bonjour"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL + "/", Model: "gemini-test", Temperature: 0.5})
	require.NoError(t, err)

	out, err := c.CompleteWithSystem(context.Background(), "sys", "salut")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out)
	assert.True(t, strings.HasSuffix(path, "models/gemini-test:generateContent"), path)
	assert.Contains(t, body, "systemInstruction")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "MISSING", MaskKey(""))
	assert.Equal(t, "*** (len=5)", MaskKey("sk-ab"))
	assert.Equal(t, "sk-test…cdef (len=24)", MaskKey(testKey))
}

func TestValidateOpenAIKey(t *testing.T) {
	assert.NoError(t, ValidateOpenAIKey(testKey))
	assert.ErrorIs(t, ValidateOpenAIKey("sk-short"), ErrNoAPIKey)
	assert.ErrorIs(t, ValidateOpenAIKey("pk-0123456789abcdefghij"), ErrNoAPIKey)
	assert.ErrorIs(t, ValidateOpenAIKey(""), ErrNoAPIKey)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": {"b": 1}}`, ExtractJSON("Voici:\n```json\n{\"a\": {\"b\": 1}}\n```"))
	assert.Equal(t, "no json", ExtractJSON("no json"))
	assert.Equal(t, "} reversed {", ExtractJSON("} reversed {"))
}
