package config

import "time"

// DefaultGeminiModel is used when GEMINI_API_KEY switches the provider.
const DefaultGeminiModel = "gemini-2.5-flash"

// LLMConfig configures the completion backend.
type LLMConfig struct {
	Provider             string  `yaml:"provider"` // openai, gemini
	APIKey               string  `yaml:"api_key"`
	Model                string  `yaml:"model"`
	Temperature          float64 `yaml:"temperature"`
	SleepBetweenRequests float64 `yaml:"sleep_between_requests"` // seconds
	BaseURL              string  `yaml:"base_url"`
	Timeout              string  `yaml:"timeout"`
}

// WithOverrides returns a copy with non-zero command line overrides applied.
func (l LLMConfig) WithOverrides(model string, temperature *float64) LLMConfig {
	if model != "" {
		l.Model = model
	}
	if temperature != nil {
		l.Temperature = *temperature
	}
	return l
}

// GetTimeout returns the request timeout, 120s when unset or invalid.
func (l LLMConfig) GetTimeout() time.Duration {
	return parseDuration(l.Timeout, 120*time.Second)
}
