package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Common errors
var (
	ErrClosed        = errors.New("kv store is closed")
	ErrUnknownEngine = errors.New("unknown kv engine")
)

// Cell is a single column/value pair within a row.
type Cell struct {
	Column string
	Value  []byte
}

// Row is one decoded row: its logical key plus all cells of the requested
// column group.
type Row struct {
	Key     string
	Columns map[string][]byte
}

// Iterator is a lazy, forward-only row iterator returned by Scanner.
// Next returns nil once the scan is exhausted. Close must be called on every
// exit path; it is safe to call more than once.
type Iterator interface {
	Next() (*Row, error)
	Close() error
}

// Store is a sorted key-value store with column-group/column cell addressing.
// Rows are ordered lexicographically by key; scans observe rows in ascending
// key order with no isolation from concurrent writers. A Put covering several
// cells of one row is atomic; there are no cross-row transactions.
type Store interface {
	// Put writes the given cells into one row of a column group. Existing
	// cells of the row that are not named in cells are left untouched.
	Put(ctx context.Context, row, group string, cells ...Cell) error

	// Get reads all cells of a row within a column group. An absent row is
	// not an error: the returned map is empty.
	Get(ctx context.Context, row, group string) (map[string][]byte, error)

	// Delete removes every cell of a row within a column group.
	Delete(ctx context.Context, row, group string) error

	// Scan returns the rows of a column group whose keys lie in
	// [start, stop), in ascending key order. limit > 0 caps the number of
	// rows fetched; limit <= 0 means unbounded.
	Scan(ctx context.Context, start, stop, group string, limit int) ([]Row, error)

	// Scanner returns a lazy iterator over the same range as Scan.
	Scanner(ctx context.Context, start, stop, group string) (Iterator, error)

	// IsReady reports whether the store can serve requests.
	IsReady() bool

	// Close releases the underlying engine. The store is unusable afterwards.
	Close() error
}

// Supported engine names.
const (
	EnginePebble = "pebble"
	EngineBadger = "badger"
)

// Options configures the engine constructed by Open.
type Options struct {
	DataDir    string
	SyncWrites bool // If true, every write is synced to disk (slower but safer)
	Logger     *logrus.Logger
}

// Open constructs a Store for the named engine.
func Open(engine string, opts Options) (Store, error) {
	switch engine {
	case EnginePebble:
		return NewPebbleStore(PebbleOptions{
			DataDir:    opts.DataDir,
			SyncWrites: opts.SyncWrites,
			Logger:     opts.Logger,
		})
	case EngineBadger:
		return NewBadgerStore(BadgerOptions{
			DataDir:    opts.DataDir,
			SyncWrites: opts.SyncWrites,
			Logger:     opts.Logger,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}

// ==================== Physical cell encoding ====================
//
// Both engines store one engine-level key per cell:
//
//	group + 0x00 + rowKey + 0x00 + column
//
// Column groups and column names never contain 0x00; row keys may (it is the
// reserved component delimiter). Decoding therefore splits at the LAST 0x00.
// Cells of a row stay contiguous under engine ordering as long as no row key
// is a proper prefix of another row key extended by 0x00 — which holds for
// every key family written through this store, because delimited row keys
// always extend a family prefix that is never itself a row.

const cellSep = "\x00"

func encodeCellKey(group, row, column string) []byte {
	return []byte(group + cellSep + row + cellSep + column)
}

// groupSpan returns the engine-key bounds covering [start, stop) of one
// column group. An empty stop bounds the span to the whole group.
func groupSpan(group, start, stop string) (lower, upper []byte) {
	lower = []byte(group + cellSep + start)
	if stop == "" {
		upper = prefixEnd([]byte(group + cellSep))
	} else {
		upper = []byte(group + cellSep + stop)
	}
	return lower, upper
}

// decodeCellKey splits an engine key back into row key and column name.
// ok is false when the key does not belong to the given group.
func decodeCellKey(group string, key []byte) (row, column string, ok bool) {
	prefix := group + cellSep
	s := string(key)
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", "", false
	}
	s = s[len(prefix):]
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == 0x00 {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// prefixEnd returns the exclusive upper bound for a prefix scan.
// It increments the last byte of the prefix; returns nil if all bytes
// overflow.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // all bytes overflowed — no upper bound
}
