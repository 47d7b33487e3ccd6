package usage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_TrackAggregatesAndPersists(t *testing.T) {
	ws := t.TempDir()
	tracker, err := NewTracker(ws)
	require.NoError(t, err)

	ctx := WithCommand(NewContext(context.Background(), tracker), "autopn analyze", "maman")
	Record(ctx, "gpt-4o-mini", "openai", 10, 5)
	Record(ctx, "gpt-4o-mini", "openai", 2, 3)
	Record(NewContext(context.Background(), tracker), "gemini-2.5-flash", "gemini", 1, 1)

	stats := tracker.Stats()
	assert.Equal(t, TokenCounts{Calls: 3, Input: 13, Output: 9, Total: 22}, stats.Total)
	assert.Equal(t, int64(20), stats.ByProvider["openai"].Total)
	assert.Equal(t, int64(2), stats.ByModel["gpt-4o-mini"].Calls)
	assert.Equal(t, int64(20), stats.ByCommand["autopn analyze"].Total)
	assert.Equal(t, int64(2), stats.ByCommand["-"].Total)
	assert.Equal(t, int64(20), stats.ByRelation["maman"].Total)

	require.NoError(t, tracker.Save())
	data, err := os.ReadFile(filepath.Join(ws, ".autopn", FileName))
	require.NoError(t, err)
	var persisted UsageData
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, int64(22), persisted.Aggregate.Total.Total)

	reopened, err := NewTracker(ws)
	require.NoError(t, err)
	assert.Equal(t, stats, reopened.Stats())
}

func TestTracker_SaveSkipsUnchanged(t *testing.T) {
	ws := t.TempDir()
	tracker, err := NewTracker(ws)
	require.NoError(t, err)

	require.NoError(t, tracker.Save())
	_, err = os.Stat(tracker.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestTracker_CorruptFile(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".autopn"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".autopn", FileName), []byte("{"), 0644))

	tracker, err := NewTracker(ws)
	require.NoError(t, err)
	assert.Zero(t, tracker.Stats().Total.Calls)
	assert.NotNil(t, tracker.Stats().ByModel)
}

func TestRecord_NoTracker(t *testing.T) {
	assert.NotPanics(t, func() {
		Record(context.Background(), "m", "p", 1, 1)
	})
	assert.Nil(t, FromContext(context.Background()))
}
