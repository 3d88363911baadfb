package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store TokenStore) {
	t.Helper()

	_, err := store.Load()
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save("abc"))
	got, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "abc", got)

	require.NoError(t, store.Save("def"))
	got, err = store.Load()
	require.NoError(t, err)
	require.Equal(t, "def", got)

	require.NoError(t, store.Delete())
	require.NoError(t, store.Delete())
	_, err = store.Load()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(""))
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	exerciseStore(t, NewFileStore(path))

	require.NoError(t, NewFileStore(path).Save("secret"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStoreTreatsBlankAsMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0600))
	_, err := NewFileStore(path).Load()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envoy.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	exerciseStore(t, store)

	require.NoError(t, store.Save("persisted"))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, "persisted", got)
}
