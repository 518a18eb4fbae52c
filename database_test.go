package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDatabase(t *testing.T) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, InitDatabase(context.Background(), dbPath))
	t.Cleanup(CloseDatabase)
}

func TestBotConfigRoundTrip(t *testing.T) {
	setupTestDatabase(t)
	ctx := context.Background()

	v, err := GetBotConfig(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, SetBotConfig(ctx, "mode", "normal"))
	v, err = GetBotConfig(ctx, "mode")
	require.NoError(t, err)
	assert.Equal(t, "normal", v)

	require.NoError(t, SetBotConfig(ctx, "mode", "maintenance"))
	v, err = GetBotConfig(ctx, "mode")
	require.NoError(t, err)
	assert.Equal(t, "maintenance", v)
}

func TestBlindtestHistory(t *testing.T) {
	setupTestDatabase(t)
	ctx := context.Background()

	require.NoError(t, SaveBlindtestResult(ctx, "guild-a", "pop 80s", 10, "111", 4))
	require.NoError(t, SaveBlindtestResult(ctx, "guild-a", "jeux vidéo", 5, "222", 3))
	require.NoError(t, SaveBlindtestResult(ctx, "guild-a", "jazz", 8, "", 0))
	require.NoError(t, SaveBlindtestResult(ctx, "guild-b", "rap", 12, "333", 7))

	results, err := GetBlindtestHistory(ctx, "guild-a", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	themes := make(map[string]bool)
	for _, r := range results {
		themes[r.Theme] = true
		assert.False(t, r.FinishedAt.IsZero())
	}
	assert.True(t, themes["pop 80s"])
	assert.True(t, themes["jeux vidéo"])
	assert.True(t, themes["jazz"])

	results, err = GetBlindtestHistory(ctx, "guild-a", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = GetBlindtestHistory(ctx, "guild-b", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "rap", results[0].Theme)
	assert.Equal(t, "333", results[0].WinnerID)
	assert.Equal(t, 7, results[0].WinnerScore)
	assert.Equal(t, 12, results[0].QuestionCount)

	results, err = GetBlindtestHistory(ctx, "guild-missing", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
