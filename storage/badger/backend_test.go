package badger

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/schemagraph/storage"
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

func TestOpenBackend_FileNotDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := OpenBackend(file, false)
	assert.Error(t, err)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.View(func(tx *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestUpdateCommitsAndPropagatesErrors(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte("k"), []byte("v"))
	}))

	boom := errors.New("boom")
	err = backend.Update(func(tx *badger.Txn) error {
		if err := tx.Set([]byte("k"), []byte("other")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte("k"))
		require.NoError(t, err)
		val, err := item.ValueCopy(nil)
		require.NoError(t, err)
		assert.Equal(t, "v", string(val))
		return nil
	}))
}

func TestUpdateRetriesConflicts(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	key := []byte("counter")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := backend.Update(func(tx *badger.Txn) error {
				var n byte
				item, err := tx.Get(key)
				switch {
				case errors.Is(err, badger.ErrKeyNotFound):
				case err != nil:
					return err
				default:
					val, err := item.ValueCopy(nil)
					if err != nil {
						return err
					}
					n = val[0]
				}
				return tx.Set(key, []byte{n + 1})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NoError(t, backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		require.NoError(t, err)
		val, err := item.ValueCopy(nil)
		require.NoError(t, err)
		assert.Equal(t, byte(4), val[0])
		return nil
	}))
}

func TestScanPrefixStopsEarly(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.Update(func(tx *badger.Txn) error {
		for _, k := range []string{"p:a", "p:b", "p:c", "q:a"} {
			if err := tx.Set([]byte(k), nil); err != nil {
				return err
			}
		}
		return nil
	}))

	var seen []string
	require.NoError(t, backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte("p:"), false, func(item *badger.Item) (bool, error) {
			seen = append(seen, string(item.KeyCopy(nil)))
			return len(seen) < 2, nil
		})
	}))
	assert.Equal(t, []string{"p:a", "p:b"}, seen)
}
