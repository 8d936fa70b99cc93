package addon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ForsakenNGS/LogTrackerApp/internal/player"
)

func writeGameFile(t *testing.T, gameDir, rel, content string) {
	t.Helper()
	path := filepath.Join(gameDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCodecReadAll(t *testing.T) {
	gameDir := t.TempDir()
	writeGameFile(t, gameDir, "WTF/Account/ACC1/SavedVariables/LogTracker.lua", sampleSavedVariables)
	writeGameFile(t, gameDir, "Interface/AddOns/LogTracker_BaseData/LogTracker_BaseData.lua", sampleBaseData)

	c := NewCodec(zap.NewNop())
	store := player.NewStore()
	base := c.ReadAll(gameDir, store, 1800000000)

	t.Run("reference tables", func(t *testing.T) {
		assert.Len(t, base.Classes, 2)
		assert.Equal(t, "eu", base.Region("Everlook"))
	})

	t.Run("characters absorbed", func(t *testing.T) {
		ch := store.Lookup("Everlook", "Arthas")
		require.NotNil(t, ch)
		assert.Equal(t, "Horde", ch.Faction)
		assert.Equal(t, 6, ch.Class)
		assert.Equal(t, 80, ch.Level)
		assert.Equal(t, 1, ch.Priority)
		assert.Equal(t, int64(1700000000), ch.LastSeen)
		assert.Equal(t, int64(1699000000), ch.LastLogs)
		assert.Len(t, ch.Encounters[1017], 3)
		assert.True(t, ch.Dirty())
	})

	t.Run("rereading unchanged data stays clean", func(t *testing.T) {
		ch := store.Lookup("Everlook", "Arthas")
		stamp := ch.LastUpdate
		c.ReadAll(gameDir, store, 1800000100)
		assert.Equal(t, stamp, ch.LastUpdate)
	})
}

func TestCodecSkipsMalformedSave(t *testing.T) {
	gameDir := t.TempDir()
	writeGameFile(t, gameDir, "WTF/Account/GOOD/SavedVariables/LogTracker.lua", sampleSavedVariables)
	writeGameFile(t, gameDir, "WTF/Account/BAD/SavedVariables/LogTracker.lua", "LogTrackerDB = { oops")

	c := NewCodec(zap.NewNop())
	store := player.NewStore()
	c.ReadAll(gameDir, store, 1800000000)

	// The good account still loads.
	assert.NotNil(t, store.Lookup("Everlook", "Arthas"))
}

func TestCodecExportRestore(t *testing.T) {
	gameDir := t.TempDir()
	c := NewCodec(zap.NewNop())

	store := player.NewStore()
	orig := exportFixture()
	store.Update(orig, orig.LastUpdate)

	require.NoError(t, c.WriteAppData(gameDir, store, 1800000000))
	assert.False(t, orig.Dirty())

	// A cold restart restores the export without marking anything dirty.
	fresh := player.NewStore()
	c.ReadAll(gameDir, fresh, 1800000100)
	ch := fresh.Lookup("Everlook", "Arthas")
	require.NotNil(t, ch)
	assert.Equal(t, orig.Faction, ch.Faction)
	assert.Equal(t, orig.Class, ch.Class)
	assert.Equal(t, orig.Level, ch.Level)
	assert.Equal(t, orig.LastSeen, ch.LastSeen)
	assert.Equal(t, orig.LastLogs, ch.LastLogs)
	assert.Equal(t, orig.LastUpdate, ch.LastUpdate)
	assert.Equal(t, orig.Rankings, ch.Rankings)
	assert.False(t, ch.Dirty())
}

func TestCodecWriteAppDataEmptyGameDir(t *testing.T) {
	c := NewCodec(zap.NewNop())
	assert.NoError(t, c.WriteAppData("", player.NewStore(), 0))
}

func TestCodecPaths(t *testing.T) {
	gameDir := t.TempDir()
	writeGameFile(t, gameDir, "WTF/Account/ACC1/SavedVariables/LogTracker.lua", "X = {}")
	writeGameFile(t, gameDir, "WTF/Account/ACC2/SavedVariables/LogTracker.lua", "X = {}")

	c := NewCodec(zap.NewNop())
	assert.Len(t, c.SavedVariablesFiles(gameDir), 2)
	assert.Len(t, c.SavedVariablesDirs(gameDir), 2)
	assert.False(t, c.NewestSave(gameDir).IsZero())

	assert.Empty(t, c.SavedVariablesFiles(""))
	assert.True(t, c.NewestSave("").IsZero())
}
