package kv

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBadgerTestStore(t *testing.T) (*BadgerStore, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "badger-test-*")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	store, storeErr := NewBadgerStore(BadgerOptions{
		DataDir: tmpDir,
		Logger:  logger,
	})
	require.NoError(t, storeErr)
	require.NotNil(t, store)

	cleanup := func() {
		_ = store.Close()
		_ = os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

func TestBadgerStoreBasicOps(t *testing.T) {
	store, cleanup := setupBadgerTestStore(t)
	defer cleanup()

	testStoreBasicOps(t, store)
}

func TestBadgerStoreClosed(t *testing.T) {
	store, cleanup := setupBadgerTestStore(t)
	defer cleanup()

	require.NoError(t, store.Close())
	assert.False(t, store.IsReady())

	ctx := context.Background()
	assert.ErrorIs(t, store.Put(ctx, "r", "meta", Cell{Column: "c", Value: nil}), ErrClosed)
	_, err := store.Get(ctx, "r", "meta")
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, store.Close())
}

func TestBadgerStoreSyncWrites(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	tmpDir, err := os.MkdirTemp("", "badger-sync-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	store, err := Open(EngineBadger, Options{DataDir: tmpDir, SyncWrites: true, Logger: logger})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "r", "meta", Cell{Column: "c", Value: []byte("v")}))
	cols, err := store.Get(ctx, "r", "meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), cols["c"])
}

func TestBadgerStoreGC(t *testing.T) {
	store, cleanup := setupBadgerTestStore(t)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, store.Put(ctx, "gc-row", "meta", Cell{Column: "v", Value: make([]byte, 1024)}))
	}
	// a no-rewrite pass is not an error
	require.NoError(t, store.RunGC())
}
