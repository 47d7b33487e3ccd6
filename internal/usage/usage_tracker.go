// Package usage accumulates the tokens billed by the model providers.
package usage

import (
	"autopn/internal/logging"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the tracker file inside the workspace state directory.
const FileName = "usage.json"

type (
	trackerKey struct{}
	commandKey struct{}
)

type callSite struct {
	command  string
	relation string
}

// Tracker manages token usage recording and persistence.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	dirty    bool
}

// NewTracker opens the tracker of a workspace, <ws>/.autopn/usage.json.
// A corrupt file is logged and replaced by empty counters.
func NewTracker(workspacePath string) (*Tracker, error) {
	dir := filepath.Join(workspacePath, ".autopn")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	t := &Tracker{
		filePath: filepath.Join(dir, FileName),
		data:     UsageData{Version: "1.0"},
	}
	t.data.Aggregate.init()
	if err := t.Load(); err != nil {
		logging.APIWarn("usage: %v, starting from zero", err)
		t.data = UsageData{Version: "1.0"}
		t.data.Aggregate.init()
	}
	return t, nil
}

// Path returns the tracker file.
func (t *Tracker) Path() string { return t.filePath }

// Load reads the usage data from disk. A missing file is not an error.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", t.filePath, err)
	}
	if err := json.Unmarshal(data, &t.data); err != nil {
		return fmt.Errorf("failed to parse %s: %w", t.filePath, err)
	}
	t.data.Aggregate.init()
	return nil
}

// Save writes the usage data when it changed since the last save.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(t.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", t.filePath, err)
	}
	t.dirty = false
	return nil
}

// Track records one completion. The command and relation come from ctx.
func (t *Tracker) Track(ctx context.Context, model, provider string, input, output int) {
	site := callSite{command: "-", relation: "-"}
	if v, ok := ctx.Value(commandKey{}).(callSite); ok {
		site = v
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.Aggregate.Total.Add(input, output)
	addToMap(t.data.Aggregate.ByProvider, provider, input, output)
	addToMap(t.data.Aggregate.ByModel, model, input, output)
	addToMap(t.data.Aggregate.ByCommand, site.command, input, output)
	addToMap(t.data.Aggregate.ByRelation, site.relation, input, output)
	t.dirty = true
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByCommand = copyTokenCountsMap(stats.ByCommand)
	stats.ByRelation = copyTokenCountsMap(stats.ByRelation)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	if key == "" {
		key = "-"
	}
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}

// NewContext returns a context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext retrieves the tracker from the context, nil when absent.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

// WithCommand tags the calls made under ctx with a command and a relation.
func WithCommand(ctx context.Context, command, relation string) context.Context {
	if relation == "" {
		relation = "-"
	}
	return context.WithValue(ctx, commandKey{}, callSite{command: command, relation: relation})
}

// Record tracks a completion on the tracker carried by ctx, if any.
func Record(ctx context.Context, model, provider string, input, output int) {
	if t := FromContext(ctx); t != nil {
		t.Track(ctx, model, provider, input, output)
	}
}
