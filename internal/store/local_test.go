package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "nested", "autopn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewLocalStore(t *testing.T) {
	s, err := NewLocalStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.GetDB())
	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"runs": 0, "analyses": 0}, stats)
	assert.True(t, columnExists(s.GetDB(), "runs", "error"))
	assert.True(t, columnExists(s.GetDB(), "analyses", "relation"))
}

func TestAnalysisCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	key := AnalysisKey("gpt-4o-mini", "sys", "user")
	assert.Len(t, key, 64)
	assert.NotEqual(t, key, AnalysisKey("gpt-4o-mini", "sysuser", ""))

	_, ok, err := s.GetAnalysis(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutAnalysis(ctx, Analysis{Key: key, Relation: "mother", Year: 2021, Seq: 3, Model: "gpt-4o-mini", Response: `{"sophisms":[]}`}))
	got, ok, err := s.GetAnalysis(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mother", got.Relation)
	assert.Equal(t, 2021, got.Year)
	assert.Equal(t, 3, got.Seq)
	assert.Equal(t, `{"sophisms":[]}`, got.Response)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.PutAnalysis(ctx, Analysis{Key: key, Response: "replaced"}))
	got, _, err = s.GetAnalysis(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "replaced", got.Response)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["analyses"])
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.BeginRun(ctx, "analyze")
	require.NoError(t, err)
	failed, err := s.BeginRun(ctx, "fetch")
	require.NoError(t, err)
	assert.NotEqual(t, ok, failed)

	require.NoError(t, s.FinishRun(ctx, ok, nil))
	require.NoError(t, s.FinishRun(ctx, failed, errors.New("imap down")))
	assert.Error(t, s.FinishRun(ctx, "missing", nil))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	byID := map[string]Run{runs[0].ID: runs[0], runs[1].ID: runs[1]}
	assert.Equal(t, RunOK, byID[ok].Status)
	assert.Equal(t, RunFailed, byID[failed].Status)
	assert.Equal(t, "imap down", byID[failed].Error)
	assert.False(t, byID[failed].FinishedAt.IsZero())
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "autopn.db")

	s, err := NewLocalStore(path)
	require.NoError(t, err)
	require.NoError(t, s.PutAnalysis(ctx, Analysis{Key: "k", Response: "r"}))
	require.NoError(t, s.Close())

	s, err = NewLocalStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.GetAnalysis(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "r", got.Response)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/base", ".autopn", "autopn.db"), DefaultPath("/base", ""))
	assert.Equal(t, "/abs/x.db", DefaultPath("/base", "/abs/x.db"))
	assert.Equal(t, ":memory:", DefaultPath("/base", ":memory:"))
	assert.Equal(t, filepath.Join("/base", "data", "x.db"), DefaultPath("/base", "data/x.db"))
}
