package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== Cell key codec ====================

func TestEncodeDecodeCellKey(t *testing.T) {
	cases := []struct {
		group, row, column string
	}{
		{"meta", "startcode:/backup1", "startcode"},
		{"session", "session:backup_1", "context"},
		{"meta", "trslm:/backup1\x00table1", "log-roll-map"},
		{"meta", "rslogts:/backup1\x00host:16020", "rs-log-ts"},
	}
	for _, tc := range cases {
		key := encodeCellKey(tc.group, tc.row, tc.column)
		row, col, ok := decodeCellKey(tc.group, key)
		require.True(t, ok, "key %q", key)
		assert.Equal(t, tc.row, row)
		assert.Equal(t, tc.column, col)
	}
}

func TestDecodeCellKeyWrongGroup(t *testing.T) {
	key := encodeCellKey("meta", "startcode:/r", "startcode")
	_, _, ok := decodeCellKey("session", key)
	assert.False(t, ok)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("session;"), prefixEnd([]byte("session:")))
	assert.Equal(t, []byte("ab"), prefixEnd([]byte("aa")))
	// trailing 0xFF carries into the previous byte
	assert.Equal(t, []byte("b"), prefixEnd([]byte{'a', 0xFF}))
	// all bytes overflow — unbounded
	assert.Nil(t, prefixEnd([]byte{0xFF, 0xFF}))
}

func TestGroupSpan(t *testing.T) {
	lower, upper := groupSpan("meta", "wals:", "wals;")
	assert.Equal(t, []byte("meta\x00wals:"), lower)
	assert.Equal(t, []byte("meta\x00wals;"), upper)

	// empty stop bounds the span to the whole group
	lower, upper = groupSpan("meta", "", "")
	assert.Equal(t, []byte("meta\x00"), lower)
	assert.Equal(t, []byte("meta\x01"), upper)
}

// ==================== Engine-agnostic store behavior ====================

// testStoreBasicOps exercises Store semantics shared by every engine.
func testStoreBasicOps(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("PutGetSingleCell", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "startcode:/r1", "meta", Cell{Column: "startcode", Value: []byte("12345")}))

		cols, err := store.Get(ctx, "startcode:/r1", "meta")
		require.NoError(t, err)
		require.Len(t, cols, 1)
		assert.Equal(t, []byte("12345"), cols["startcode"])
	})

	t.Run("GetAbsentRowIsEmpty", func(t *testing.T) {
		cols, err := store.Get(ctx, "startcode:/missing", "meta")
		require.NoError(t, err)
		assert.Empty(t, cols)
	})

	t.Run("GroupsAreDisjoint", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "shared-row", "session", Cell{Column: "a", Value: []byte("s")}))
		require.NoError(t, store.Put(ctx, "shared-row", "meta", Cell{Column: "a", Value: []byte("m")}))

		cols, err := store.Get(ctx, "shared-row", "session")
		require.NoError(t, err)
		assert.Equal(t, []byte("s"), cols["a"])

		cols, err = store.Get(ctx, "shared-row", "meta")
		require.NoError(t, err)
		assert.Equal(t, []byte("m"), cols["a"])
	})

	t.Run("MultiCellRow", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "wals:walA", "meta",
			Cell{Column: "backupId", Value: []byte("b1")},
			Cell{Column: "file", Value: []byte("/wals/walA")},
			Cell{Column: "root", Value: []byte("/r1")},
		))

		cols, err := store.Get(ctx, "wals:walA", "meta")
		require.NoError(t, err)
		require.Len(t, cols, 3)
		assert.Equal(t, []byte("b1"), cols["backupId"])
		assert.Equal(t, []byte("/wals/walA"), cols["file"])
		assert.Equal(t, []byte("/r1"), cols["root"])
	})

	t.Run("PutPreservesUnnamedCells", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "wals:walA", "meta", Cell{Column: "backupId", Value: []byte("b2")}))

		cols, err := store.Get(ctx, "wals:walA", "meta")
		require.NoError(t, err)
		assert.Equal(t, []byte("b2"), cols["backupId"])
		assert.Equal(t, []byte("/wals/walA"), cols["file"])
	})

	t.Run("DelimitedRowKeys", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "rslogts:/r1\x00host1", "meta", Cell{Column: "ts", Value: []byte("1")}))
		require.NoError(t, store.Put(ctx, "rslogts:/r1\x00host2", "meta", Cell{Column: "ts", Value: []byte("2")}))

		cols, err := store.Get(ctx, "rslogts:/r1\x00host1", "meta")
		require.NoError(t, err)
		require.Len(t, cols, 1)
		assert.Equal(t, []byte("1"), cols["ts"])
	})

	t.Run("ScanBoundsExactFamily", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "scanfam:a", "meta", Cell{Column: "v", Value: []byte("1")}))
		require.NoError(t, store.Put(ctx, "scanfam:b", "meta", Cell{Column: "v", Value: []byte("2")}))
		require.NoError(t, store.Put(ctx, "scanfaz:x", "meta", Cell{Column: "v", Value: []byte("3")}))

		rows, err := store.Scan(ctx, "scanfam:", "scanfam;", "meta", 0)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "scanfam:a", rows[0].Key)
		assert.Equal(t, "scanfam:b", rows[1].Key)
	})

	t.Run("ScanLimit", func(t *testing.T) {
		rows, err := store.Scan(ctx, "scanfam:", "scanfam;", "meta", 1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "scanfam:a", rows[0].Key)
	})

	t.Run("ScannerDrainAndClose", func(t *testing.T) {
		it, err := store.Scanner(ctx, "scanfam:", "scanfam;", "meta")
		require.NoError(t, err)

		row, err := it.Next()
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "scanfam:a", row.Key)

		row, err = it.Next()
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "scanfam:b", row.Key)

		row, err = it.Next()
		require.NoError(t, err)
		assert.Nil(t, row)

		require.NoError(t, it.Close())
		require.NoError(t, it.Close()) // idempotent
	})

	t.Run("DeleteRow", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "wals:walA", "meta"))

		cols, err := store.Get(ctx, "wals:walA", "meta")
		require.NoError(t, err)
		assert.Empty(t, cols)

		// deleting an absent row is not an error
		require.NoError(t, store.Delete(ctx, "wals:walA", "meta"))
	})

	t.Run("DeleteLeavesSiblings", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "rslogts:/r1\x00host1", "meta"))

		cols, err := store.Get(ctx, "rslogts:/r1\x00host2", "meta")
		require.NoError(t, err)
		require.Len(t, cols, 1)
	})
}
