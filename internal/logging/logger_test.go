package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogging(t *testing.T) {
	t.Helper()
	CloseAll()
	CloseAudit()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	settings = Settings{}
	auditLogger = nil
	auditRunID = ""
	t.Cleanup(func() {
		CloseAll()
		CloseAudit()
		settings = Settings{}
		logsDir = ""
	})
}

var allCategories = []Category{
	CategoryBoot,
	CategoryFetch,
	CategoryConvert,
	CategoryAnalyze,
	CategoryConsolidate,
	CategoryReport,
	CategoryEnjeux,
	CategoryTopics,
	CategoryLedger,
	CategoryReply,
	CategoryAPI,
	CategoryStore,
}

// TestAllCategoriesLog checks that every category creates a log file in debug mode.
func TestAllCategoriesLog(t *testing.T) {
	resetLogging(t)
	tempDir := t.TempDir()

	require.NoError(t, Initialize(tempDir, Settings{DebugMode: true, Level: "debug"}))
	assert.True(t, IsDebugMode())

	for _, cat := range allCategories {
		assert.True(t, IsCategoryEnabled(cat), "category %s should be enabled", cat)
		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}

	Fetch("Convenience fetch log")
	ConvertWarn("Convenience convert log")
	AnalyzeError("Convenience analyze log")
	Consolidate("Convenience consolidate log")
	Ledger("Convenience ledger log")

	CloseAll()

	logsPath := filepath.Join(tempDir, ".autopn", "logs")
	entries, err := os.ReadDir(logsPath)
	require.NoError(t, err)

	for _, cat := range allCategories {
		found := false
		for _, entry := range entries {
			if strings.HasSuffix(entry.Name(), "_"+string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				require.NoError(t, err)
				assert.NotEmpty(t, content, "log file for %s is empty", cat)
				assert.Contains(t, string(content), "Test warn message for "+string(cat))
			}
		}
		assert.True(t, found, "no log file found for category %s", cat)
	}
}

// TestDebugModeDisabled checks that no logs are created when debug_mode is false.
func TestDebugModeDisabled(t *testing.T) {
	resetLogging(t)
	tempDir := t.TempDir()

	require.NoError(t, Initialize(tempDir, Settings{
		DebugMode:  false,
		Level:      "debug",
		Categories: map[string]bool{"boot": true, "fetch": true},
	}))
	assert.False(t, IsDebugMode())

	for _, cat := range []Category{CategoryBoot, CategoryFetch, CategoryAnalyze} {
		assert.False(t, IsCategoryEnabled(cat), "category %s should be disabled", cat)
	}

	Boot("This should NOT be logged")
	Fetch("This should NOT be logged")
	Get(CategoryBoot).Error("This should NOT be logged")
	require.NoError(t, InitAudit("run-1"))
	Audit().RunStart("noop")

	CloseAll()
	CloseAudit()

	_, err := os.Stat(filepath.Join(tempDir, ".autopn", "logs"))
	assert.True(t, os.IsNotExist(err), "logs directory should not be created")
}

// TestCategoryToggle checks individual category switches.
func TestCategoryToggle(t *testing.T) {
	resetLogging(t)
	tempDir := t.TempDir()

	require.NoError(t, Initialize(tempDir, Settings{
		DebugMode: true,
		Level:     "debug",
		Categories: map[string]bool{
			"boot":    true,
			"fetch":   true,
			"analyze": false,
			"api":     false,
		},
	}))

	assert.True(t, IsCategoryEnabled(CategoryBoot))
	assert.True(t, IsCategoryEnabled(CategoryFetch))
	assert.False(t, IsCategoryEnabled(CategoryAnalyze))
	assert.False(t, IsCategoryEnabled(CategoryAPI))
	// Not listed: defaults to enabled in debug mode.
	assert.True(t, IsCategoryEnabled(CategoryLedger))

	Boot("This SHOULD be logged")
	Fetch("This SHOULD be logged")
	Analyze("This should NOT be logged")
	API("This should NOT be logged")
	Ledger("This SHOULD be logged (default enabled)")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".autopn", "logs"))
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, e := range entries {
		for _, cat := range allCategories {
			if strings.HasSuffix(e.Name(), "_"+string(cat)+".log") {
				names[string(cat)] = true
			}
		}
	}
	assert.True(t, names["boot"])
	assert.True(t, names["fetch"])
	assert.True(t, names["ledger"])
	assert.False(t, names["analyze"])
	assert.False(t, names["api"])
}

func TestLevelFilter(t *testing.T) {
	resetLogging(t)
	tempDir := t.TempDir()

	require.NoError(t, Initialize(tempDir, Settings{DebugMode: true, Level: "warn", JSONFormat: true}))
	StoreDebug("hidden debug")
	Store("hidden info")
	StoreError("visible error")
	CloseAll()

	matches, err := filepath.Glob(filepath.Join(tempDir, ".autopn", "logs", "*_store.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	content, err := os.ReadFile(matches[0])
	require.NoError(t, err)

	assert.NotContains(t, string(content), "hidden")
	assert.Contains(t, string(content), "visible error")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(string(content), "\n", 2)[0]), &line))
	assert.Equal(t, "store", line["cat"])
}

func TestAuditTrail(t *testing.T) {
	resetLogging(t)
	tempDir := t.TempDir()

	require.NoError(t, Initialize(tempDir, Settings{DebugMode: true}))
	require.NoError(t, InitAudit("run-42"))

	Audit().RunStart("consolidate")
	AuditFor(CategoryReport).FileWrite("out/facts_master.csv", 3)
	Audit().LLMCall("gpt-4o-mini", 1200, 35, false, "rate limited")
	Audit().RunEnd("consolidate", 10, errors.New("boom"))
	CloseAudit()

	matches, err := filepath.Glob(filepath.Join(tempDir, ".autopn", "logs", "*_audit.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	var events []AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev AuditEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 4)

	assert.Equal(t, AuditRunStart, events[0].EventType)
	assert.Equal(t, "run-42", events[0].RunID)
	assert.Equal(t, "report", events[1].Category)
	assert.Equal(t, AuditLLMError, events[2].EventType)
	assert.Equal(t, "api", events[2].Category)
	assert.False(t, events[3].Success)
	assert.Equal(t, "boom", events[3].Error)
}

func TestTimerLogging(t *testing.T) {
	resetLogging(t)
	require.NoError(t, Initialize(t.TempDir(), Settings{DebugMode: true, Level: "debug"}))

	timer := StartTimer(CategoryAnalyze, "TestOperation")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()
	assert.Greater(t, elapsed, time.Duration(0))

	elapsed = StartTimer(CategoryAnalyze, "Slow").StopWithThreshold(0)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
}
