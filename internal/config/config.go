package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all autopn configuration.
type Config struct {
	// The archive owner (the "User" speaker).
	Owner OwnerConfig `yaml:"owner"`

	// Correspondents with their archives and report locations.
	Relations []RelationConfig `yaml:"relations"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Mail access
	IMAP IMAPConfig `yaml:"imap"`
	SMTP SMTPConfig `yaml:"smtp"`

	// Payment ledger
	Payments PaymentsConfig `yaml:"payments"`

	// Reply drafting
	Reply ReplyConfig `yaml:"reply"`

	// Sophism taxonomy
	Taxonomy TaxonomyConfig `yaml:"taxonomy"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Analysis cache
	Store StoreConfig `yaml:"store"`

	// Directory relative paths are resolved against.
	baseDir string
}

// OwnerConfig identifies the archive owner.
type OwnerConfig struct {
	Name   string   `yaml:"name"`
	Emails []string `yaml:"emails"`
}

// IMAPConfig configures the mail export.
type IMAPConfig struct {
	Server    string `yaml:"server"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Folder    string `yaml:"folder"`
	BatchSize int    `yaml:"batch_size"`
	YearFrom  int    `yaml:"year_from"`
	YearTo    int    `yaml:"year_to"`
	Timeout   string `yaml:"timeout"`
}

// SMTPConfig configures outgoing mail.
type SMTPConfig struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PaymentsConfig configures the payment ledger.
type PaymentsConfig struct {
	CSV              string  `yaml:"csv"`
	Tracker          string  `yaml:"tracker"`
	PersonEmail      string  `yaml:"person_email"`
	ReminderInterval string  `yaml:"reminder_interval"`
	DueAmount        float64 `yaml:"due_amount"`
	SubjectPrefix    string  `yaml:"subject_prefix"`
	LLMReminders     bool    `yaml:"llm_reminders"`
}

// ReplyConfig configures reply drafting.
type ReplyConfig struct {
	PersonEmail  string   `yaml:"person_email"`
	ContextFiles []string `yaml:"context_files"`
	ContextWords int      `yaml:"context_words"`
	ContextOut   string   `yaml:"context_out"`
}

// TaxonomyConfig configures sophism name normalization.
type TaxonomyConfig struct {
	File string `yaml:"file"`
	Mode string `yaml:"mode"` // off, hint, normalize, strict
}

// StoreConfig configures the SQLite analysis cache.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Owner: OwnerConfig{Name: "Owner"},

		LLM: LLMConfig{
			Provider:             "openai",
			Model:                "gpt-4o-mini",
			Temperature:          0.6,
			SleepBetweenRequests: 0.25,
			BaseURL:              "https://api.openai.com/v1",
			Timeout:              "120s",
		},

		IMAP: IMAPConfig{
			Server:    "imap.gmail.com",
			Port:      993,
			BatchSize: 200,
			YearFrom:  2012,
			YearTo:    time.Now().Year(),
			Timeout:   "60s",
		},

		SMTP: SMTPConfig{
			Server: "smtp.gmail.com",
			Port:   587,
		},

		Payments: PaymentsConfig{
			CSV:              "paiements.csv",
			Tracker:          "rappels_envoyes.json",
			ReminderInterval: "48h",
			DueAmount:        500,
			SubjectPrefix:    "tzcomp=",
		},

		Reply: ReplyConfig{
			ContextWords: 6000,
			ContextOut:   "contexte_actuel.txt",
		},

		Taxonomy: TaxonomyConfig{
			File: "sophismes.yaml",
			Mode: "hint",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},

		Store: StoreConfig{
			Path: ".autopn/autopn.db",
		},

		baseDir: ".",
	}
}

// CandidatePaths returns the config files to try, in priority order:
// explicit path, AUTOPN_CONFIG, then config/autopn.yaml and the example
// file under root.
func CandidatePaths(explicit, root string) []string {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	if env := os.Getenv("AUTOPN_CONFIG"); env != "" {
		paths = append(paths, env)
	}
	paths = append(paths,
		filepath.Join(root, "config", "autopn.yaml"),
		filepath.Join(root, "config", "autopn.example.yaml"),
	)
	return paths
}

// Discover loads the first existing candidate config file.
func Discover(explicit, root string) (*Config, error) {
	for _, candidate := range CandidatePaths(explicit, root) {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		}
	}
	return nil, fmt.Errorf("no config file found (copy config/autopn.example.yaml to config/autopn.yaml)")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.baseDir = filepath.Dir(path)
	if filepath.Base(cfg.baseDir) == "config" {
		cfg.baseDir = filepath.Dir(cfg.baseDir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM API key from environment (later entries win)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
		if c.LLM.Model == "" || strings.HasPrefix(c.LLM.Model, "gpt-") {
			c.LLM.Model = DefaultGeminiModel
		}
	}

	// Mail credentials
	if addr := os.Getenv("EMAIL_ADDRESS"); addr != "" {
		c.IMAP.Username = addr
		if c.SMTP.Username == "" {
			c.SMTP.Username = addr
		}
	}
	if pw := os.Getenv("EMAIL_PASSWORD"); pw != "" {
		c.IMAP.Password = pw
		if c.SMTP.Password == "" {
			c.SMTP.Password = pw
		}
	}
	if server := os.Getenv("SMTP_SERVER"); server != "" {
		c.SMTP.Server = server
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.SMTP.Port = p
		}
	}
	if person := os.Getenv("PERSON_EMAIL"); person != "" {
		c.Payments.PersonEmail = person
		c.Reply.PersonEmail = person
	}

	// Database path from environment
	if path := os.Getenv("AUTOPN_DB"); path != "" {
		c.Store.Path = path
	}
}

// BaseDir returns the directory relative paths are resolved against.
func (c *Config) BaseDir() string {
	if c.baseDir == "" {
		return "."
	}
	return c.baseDir
}

// SetBaseDir overrides the directory relative paths are resolved against.
func (c *Config) SetBaseDir(dir string) {
	c.baseDir = dir
}

// ExpandPath resolves ~ and paths relative to the project root.
func (c *Config) ExpandPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("missing path in config")
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.BaseDir(), p)
	}
	return p, nil
}

// OwnerEmails returns the owner's addresses, lowercased.
func (c *Config) OwnerEmails() []string {
	return lowerAll(c.Owner.Emails)
}

// OwnerLabel returns the owner's display name.
func (c *Config) OwnerLabel() string {
	if c.Owner.Name != "" {
		return c.Owner.Name
	}
	return "Owner"
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return c.LLM.GetTimeout()
}

// GetIMAPTimeout returns the IMAP dial timeout as a duration.
func (c *Config) GetIMAPTimeout() time.Duration {
	return parseDuration(c.IMAP.Timeout, 60*time.Second)
}

// GetReminderInterval returns the minimum delay between two reminders.
func (c *Config) GetReminderInterval() time.Duration {
	return parseDuration(c.Payments.ReminderInterval, 48*time.Hour)
}

// GetSleepBetweenRequests returns the pause between two LLM calls.
func (c *Config) GetSleepBetweenRequests() time.Duration {
	if c.LLM.SleepBetweenRequests <= 0 {
		return 0
	}
	return time.Duration(c.LLM.SleepBetweenRequests * float64(time.Second))
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "gemini"}

// ValidTaxonomyModes lists the accepted taxonomy modes.
var ValidTaxonomyModes = []string{"off", "hint", "normalize", "strict"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("invalid LLM temperature: %v", c.LLM.Temperature)
	}
	if !contains(ValidTaxonomyModes, c.Taxonomy.Mode) {
		return fmt.Errorf("invalid taxonomy mode: %s (valid: %v)", c.Taxonomy.Mode, ValidTaxonomyModes)
	}
	seen := make(map[string]bool)
	for i, rel := range c.Relations {
		if rel.ID == "" {
			return fmt.Errorf("relation #%d has no id", i+1)
		}
		if seen[rel.ID] {
			return fmt.Errorf("duplicate relation id: %s", rel.ID)
		}
		seen[rel.ID] = true
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
