package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "GEMINI_API_KEY", "EMAIL_ADDRESS", "EMAIL_PASSWORD",
		"SMTP_SERVER", "SMTP_PORT", "PERSON_EMAIL", "AUTOPN_DB", "AUTOPN_CONFIG",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.6, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.GetSleepBetweenRequests())
	assert.Equal(t, 200, cfg.IMAP.BatchSize)
	assert.Equal(t, 500.0, cfg.Payments.DueAmount)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "gemini"
	cfg.LLM.APIKey = "test-key"
	cfg.Relations = []RelationConfig{{ID: "m", Name: "Marie", Emails: []string{"M@Example.org"}}}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", loaded.LLM.Provider)
	assert.Equal(t, "test-key", loaded.LLM.APIKey)
	require.Len(t, loaded.Relations, 1)
	assert.Equal(t, []string{"m@example.org"}, loaded.Relations[0].Addresses())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDiscover_Order(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "config"), 0755))
	example := filepath.Join(root, "config", "autopn.example.yaml")
	require.NoError(t, os.WriteFile(example, []byte("owner:\n  name: Example\n"), 0644))

	cfg, err := Discover("", root)
	require.NoError(t, err)
	assert.Equal(t, "Example", cfg.OwnerLabel())
	assert.Equal(t, root, cfg.BaseDir())

	main := filepath.Join(root, "config", "autopn.yaml")
	require.NoError(t, os.WriteFile(main, []byte("owner:\n  name: Main\n"), 0644))
	cfg, err = Discover("", root)
	require.NoError(t, err)
	assert.Equal(t, "Main", cfg.OwnerLabel())

	envPath := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(envPath, []byte("owner:\n  name: Env\n"), 0644))
	t.Setenv("AUTOPN_CONFIG", envPath)
	cfg, err = Discover("", root)
	require.NoError(t, err)
	assert.Equal(t, "Env", cfg.OwnerLabel())

	_, err = Discover("", t.TempDir())
	assert.NoError(t, err, "AUTOPN_CONFIG still points at an existing file")

	t.Setenv("AUTOPN_CONFIG", "")
	_, err = Discover("", t.TempDir())
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Provider = "zai"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Taxonomy.Mode = "loose"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Relations = []RelationConfig{{ID: "a"}, {ID: "a"}}
	assert.Error(t, cfg.Validate())
}

func TestTimeoutFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "garbage"
	cfg.Payments.ReminderInterval = ""
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 48*time.Hour, cfg.GetReminderInterval())

	cfg.LLM.Timeout = "5s"
	assert.Equal(t, 5*time.Second, cfg.GetLLMTimeout())
}

func TestResolveRelation(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.ResolveRelation("")
	assert.ErrorIs(t, err, ErrNoRelations)

	cfg.Relations = []RelationConfig{{ID: "solo"}}
	rel, err := cfg.ResolveRelation("")
	require.NoError(t, err)
	assert.Equal(t, "solo", rel.ID)
	assert.Equal(t, "solo", rel.Label())

	cfg.Relations = append(cfg.Relations, RelationConfig{ID: "other", Name: "Other"})
	_, err = cfg.ResolveRelation("")
	assert.ErrorIs(t, err, ErrAmbiguousRelation)

	_, err = cfg.ResolveRelation("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRelationNotFound))
	assert.Contains(t, err.Error(), "solo, other")

	rel, err = cfg.ResolveRelation("other")
	require.NoError(t, err)
	assert.Equal(t, "Other", rel.Label())
}

func TestPaths_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SetBaseDir("/proj")
	rel := &RelationConfig{ID: "m", EmailArchives: ArchivesConfig{Dir: "relations/m/archives"}}

	p, err := cfg.Paths(rel)
	require.NoError(t, err)
	assert.Equal(t, "/proj/relations/m/archives", p.Archives)
	assert.Equal(t, "/proj/relations/m/archives/sophismes", p.HTMLDir)
	assert.Equal(t, "/proj/relations/m/archives/sophismes_topics_master_light.csv", p.CSVLight)
	assert.Equal(t, "/proj/relations/m/archives/sophismes_topics_master.csv", p.CSVEvents)
	assert.Equal(t, "/proj/relations/m/archives/analysis/consolidation", p.OutDir)
	assert.Equal(t, "/proj/relations/m/archives/enjeux_index.csv", p.EnjeuxIndex)

	rel.Reports.OutDir = "/abs/out"
	p, err = cfg.Paths(rel)
	require.NoError(t, err)
	assert.Equal(t, "/abs/out", p.OutDir)

	_, err = cfg.Paths(&RelationConfig{ID: "x"})
	assert.Error(t, err)
}

func TestYearRange(t *testing.T) {
	assert.True(t, YearRange{}.Contains(1999))
	assert.True(t, YearRange{From: 2020, To: 2022}.Contains(2021))
	assert.False(t, YearRange{From: 2020}.Contains(2019))
	assert.False(t, YearRange{To: 2020}.Contains(2021))
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{}
	assert.False(t, lc.IsCategoryEnabled("fetch"))

	lc.DebugMode = true
	assert.True(t, lc.IsCategoryEnabled("fetch"))

	lc.Categories = map[string]bool{"fetch": false}
	assert.False(t, lc.IsCategoryEnabled("fetch"))
	assert.True(t, lc.IsCategoryEnabled("analyze"))
}
