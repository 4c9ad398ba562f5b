package kv

import (
	"context"
	"os"
	"testing"

	"github.com/cockroachdb/pebble/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupPebbleTestStore creates a temporary PebbleStore for unit tests.
// Uses os.MkdirTemp instead of t.TempDir() because Pebble may hold OS-level
// file handles briefly after Close() on Windows, causing TempDir's automatic
// cleanup to fail with "directory not empty".
func setupPebbleTestStore(t *testing.T) (*PebbleStore, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "pebble-test-*")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	store, storeErr := NewPebbleStore(PebbleOptions{
		DataDir: tmpDir,
		Logger:  logger,
	})
	require.NoError(t, storeErr)
	require.NotNil(t, store)

	cleanup := func() {
		_ = store.Close()
		_ = os.RemoveAll(tmpDir) // ignore error on Windows file locking
	}
	return store, cleanup
}

func TestPebbleStoreBasicOps(t *testing.T) {
	store, cleanup := setupPebbleTestStore(t)
	defer cleanup()

	testStoreBasicOps(t, store)
}

func TestPebbleStoreClosed(t *testing.T) {
	store, cleanup := setupPebbleTestStore(t)
	defer cleanup()

	require.NoError(t, store.Close())
	assert.False(t, store.IsReady())

	ctx := context.Background()
	assert.ErrorIs(t, store.Put(ctx, "r", "meta", Cell{Column: "c", Value: nil}), ErrClosed)
	_, err := store.Get(ctx, "r", "meta")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.Scanner(ctx, "a", "b", "meta")
	assert.ErrorIs(t, err, ErrClosed)

	// double close is a no-op
	require.NoError(t, store.Close())
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open("rocksdb", Options{DataDir: t.TempDir(), Logger: logrus.New()})
	assert.ErrorIs(t, err, ErrUnknownEngine)
}

func TestOpenForwardsSyncWrites(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	tmpDir, err := os.MkdirTemp("", "pebble-sync-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	store, err := Open(EnginePebble, Options{DataDir: tmpDir, SyncWrites: true, Logger: logger})
	require.NoError(t, err)
	defer store.Close()

	ps, ok := store.(*PebbleStore)
	require.True(t, ok)
	assert.Equal(t, pebble.Sync, ps.writeOpt)

	// synced writes go through the same Put path
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "r", "meta", Cell{Column: "c", Value: []byte("v")}))
	cols, err := store.Get(ctx, "r", "meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), cols["c"])
}

func TestPebbleStoreDefaultsToNoSync(t *testing.T) {
	store, cleanup := setupPebbleTestStore(t)
	defer cleanup()

	assert.Equal(t, pebble.NoSync, store.writeOpt)
}
