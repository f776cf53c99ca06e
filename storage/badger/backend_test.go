package badger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragify/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := OpenBackend(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.WithTx(func(tx *badger.Txn) error { return nil }, false)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestWithTx_CommitsOnSuccessOnly(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	err = backend.WithTx(func(tx *badger.Txn) error {
		return SetJSON(tx, MakeKey("k", "kept"), map[string]int{"n": 1})
	}, true)
	require.NoError(t, err)

	err = backend.WithTx(func(tx *badger.Txn) error {
		if err := SetJSON(tx, MakeKey("k", "dropped"), map[string]int{"n": 2}); err != nil {
			return err
		}
		return assert.AnError
	}, true)
	require.ErrorIs(t, err, assert.AnError)

	err = backend.WithTx(func(tx *badger.Txn) error {
		var v map[string]int
		require.NoError(t, GetJSON(tx, MakeKey("k", "kept"), &v))
		assert.Equal(t, 1, v["n"])
		assert.ErrorIs(t, GetJSON(tx, MakeKey("k", "dropped"), &v), storage.ErrNotFound)
		return nil
	}, false)
	require.NoError(t, err)
}

func TestScanPrefix_RespectsSeparator(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	err = backend.WithTx(func(tx *badger.Txn) error {
		for _, tenant := range []string{"a", "ab", "a"} {
			if err := tx.Set(MakeKey("t", tenant, "x"+tenant), []byte(tenant)); err != nil {
				return err
			}
		}
		return nil
	}, true)
	require.NoError(t, err)

	var seen []string
	err = backend.WithTx(func(tx *badger.Txn) error {
		return ScanPrefix(tx, MakeKey("t", "a"), func(_, value []byte) error {
			seen = append(seen, string(value))
			return nil
		})
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, seen)
}

func TestGetJSON_CorruptValue(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	key := MakeKey("bad")
	require.NoError(t, backend.WithTx(func(tx *badger.Txn) error {
		return tx.Set(key, []byte("{not json"))
	}, true))

	err = backend.WithTx(func(tx *badger.Txn) error {
		var v map[string]any
		return GetJSON(tx, key, &v)
	}, false)
	assert.ErrorIs(t, err, storage.ErrSerializationFailed)
}
