package client

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path)

	session, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, session, "missing file means logged out")

	want := Session{AccessToken: "a", RefreshToken: "r", Role: "admin", Email: "a@x.com"}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	want.AccessToken = "a2"
	require.NoError(t, store.Save(want))
	got, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	got, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(Session{AccessToken: "a", RefreshToken: "r"}))
	got, err = store.Load()
	require.NoError(t, err)
	got.AccessToken = "mutated"

	again, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", again.AccessToken, "Load returns a copy")

	require.NoError(t, store.Clear())
	got, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}
