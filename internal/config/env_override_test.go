package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_LLM(t *testing.T) {
	t.Run("OPENAI_API_KEY sets provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-openai")

		cfg := &Config{LLM: LLMConfig{Provider: "gemini"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "sk-openai", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("GEMINI_API_KEY wins and swaps an OpenAI model", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-openai")
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
		assert.Equal(t, DefaultGeminiModel, cfg.LLM.Model)
	})

	t.Run("GEMINI_API_KEY keeps an explicit Gemini model", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := &Config{LLM: LLMConfig{Model: "gemini-2.5-pro"}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	})
}

func TestEnvOverrides_Mail(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMAIL_ADDRESS", "me@example.org")
	t.Setenv("EMAIL_PASSWORD", "app-pass")
	t.Setenv("SMTP_SERVER", "smtp.example.org")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("PERSON_EMAIL", "them@example.org")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "me@example.org", cfg.IMAP.Username)
	assert.Equal(t, "app-pass", cfg.IMAP.Password)
	assert.Equal(t, "me@example.org", cfg.SMTP.Username)
	assert.Equal(t, "smtp.example.org", cfg.SMTP.Server)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, "them@example.org", cfg.Payments.PersonEmail)
	assert.Equal(t, "them@example.org", cfg.Reply.PersonEmail)
}

func TestEnvOverrides_InvalidPortIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_PORT", "not-a-port")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, 587, cfg.SMTP.Port)
}

func TestEnvOverrides_Store(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOPN_DB", "/tmp/autopn.db")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, "/tmp/autopn.db", cfg.Store.Path)
}
