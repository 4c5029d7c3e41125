package license

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *Record {
	return &Record{
		LicenseKey:      "AICHEMIST:sig:payload",
		Payload:         testPayload(),
		Status:          StatusActive,
		LastValidatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		OnlineConfirmed: true,
	}
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "license.json"), nil)
	record, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.json")
	store := NewStore(path, nil)

	require.NoError(t, store.Save(testRecord()))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "AICHEMIST:sig:payload", loaded.LicenseKey)
	assert.Equal(t, StatusActive, loaded.Status)
	assert.True(t, loaded.OnlineConfirmed)
	assert.True(t, loaded.LastValidatedAt.Equal(testRecord().LastValidatedAt))
}

func TestStore_SaveIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.json")
	store := NewStore(path, nil)
	require.NoError(t, store.Save(testRecord()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_CorruptFileTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))

	store := NewStore(path, nil)
	record, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestStore_SaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "license.json")
	store := NewStore(path, nil)

	require.NoError(t, store.Save(testRecord()))

	updated := testRecord()
	updated.Status = StatusGrace
	require.NoError(t, store.Save(updated))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, StatusGrace, loaded.Status)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "license.json")
	store := NewStore(path, nil)
	require.NoError(t, store.Save(testRecord()))
	require.NoError(t, store.Clear())

	record, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, record)

	// Clearing an already-clear store is fine.
	require.NoError(t, store.Clear())
}
