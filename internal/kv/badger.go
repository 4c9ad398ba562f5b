package kv

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	ready  atomic.Bool
	logger *logrus.Logger
}

// BadgerOptions contains configuration options for BadgerStore
type BadgerOptions struct {
	DataDir    string
	SyncWrites bool // If true, every write is synced to disk (slower but safer)
	Logger     *logrus.Logger
}

// NewBadgerStore creates a new BadgerDB-backed store
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "sysmeta")

	badgerOpts := badger.DefaultOptions(dbPath).
		WithLogger(newBadgerLogger(opts.Logger)).
		WithSyncWrites(opts.SyncWrites).
		WithIndexCacheSize(64 << 20).  // 64MB index cache
		WithBlockCacheSize(128 << 20). // 128MB block cache
		WithNumVersionsToKeep(1)       // retain one live value per cell

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	store := &BadgerStore{
		db:     db,
		logger: opts.Logger,
	}
	store.ready.Store(true)

	opts.Logger.WithField("path", dbPath).Info("BadgerDB store initialized")
	return store, nil
}

// Put writes cells into one row of a column group within a single transaction.
func (s *BadgerStore) Put(ctx context.Context, row, group string, cells ...Cell) error {
	if !s.ready.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, c := range cells {
			if err := txn.Set(encodeCellKey(group, row, c.Column), c.Value); err != nil {
				return fmt.Errorf("set %q/%q: %w", row, c.Column, err)
			}
		}
		return nil
	})
}

// Get reads all cells of one row. Absent rows yield an empty map.
func (s *BadgerStore) Get(ctx context.Context, row, group string) (map[string][]byte, error) {
	if !s.ready.Load() {
		return nil, ErrClosed
	}
	cols := make(map[string][]byte)
	prefix := []byte(group + cellSep + row + cellSep)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rk, col, ok := decodeCellKey(group, item.KeyCopy(nil))
			if !ok || rk != row {
				// cell of a longer, delimiter-extended row key
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cols[col] = val
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed during row read: %w", err)
	}
	return cols, nil
}

// Delete removes every cell of one row within a column group.
func (s *BadgerStore) Delete(ctx context.Context, row, group string) error {
	if !s.ready.Load() {
		return ErrClosed
	}
	prefix := []byte(group + cellSep + row + cellSep)

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			rk, _, ok := decodeCellKey(group, key)
			if !ok || rk != row {
				continue
			}
			keys = append(keys, key)
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil && err != badger.ErrKeyNotFound {
				return fmt.Errorf("delete %q: %w", k, err)
			}
		}
		return nil
	})
}

// Scan returns rows with keys in [start, stop), capped at limit when limit > 0.
func (s *BadgerStore) Scan(ctx context.Context, start, stop, group string, limit int) ([]Row, error) {
	it, err := s.Scanner(ctx, start, stop, group)
	if err != nil {
		return nil, err
	}
	defer it.Close() //nolint:errcheck

	var rows []Row
	for limit <= 0 || len(rows) < limit {
		row, err := it.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		rows = append(rows, *row)
	}
	return rows, nil
}

// Scanner returns a lazy row iterator over [start, stop) of a column group.
// The iterator holds a read transaction until Close is called.
func (s *BadgerStore) Scanner(ctx context.Context, start, stop, group string) (Iterator, error) {
	if !s.ready.Load() {
		return nil, ErrClosed
	}
	lower, upper := groupSpan(group, start, stop)

	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(group + cellSep)
	it := txn.NewIterator(opts)
	it.Seek(lower)

	return &badgerIterator{txn: txn, iter: it, group: group, upper: upper}, nil
}

// IsReady returns true when the store can serve requests.
func (s *BadgerStore) IsReady() bool {
	return s.ready.Load()
}

// Close shuts down the BadgerDB store.
func (s *BadgerStore) Close() error {
	if !s.ready.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info("Closing BadgerDB store")
	return s.db.Close()
}

// RunGC runs a BadgerDB value-log garbage collection pass.
func (s *BadgerStore) RunGC() error {
	if !s.ready.Load() {
		return ErrClosed
	}
	err := s.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// ==================== Iterator ====================

// badgerIterator groups consecutive engine cells into rows and bounds the
// scan at the exclusive upper key.
type badgerIterator struct {
	txn    *badger.Txn
	iter   *badger.Iterator
	group  string
	upper  []byte
	closed bool
}

func (it *badgerIterator) inBounds() bool {
	if !it.iter.Valid() {
		return false
	}
	return it.upper == nil || bytes.Compare(it.iter.Item().Key(), it.upper) < 0
}

func (it *badgerIterator) Next() (*Row, error) {
	if it.closed {
		return nil, nil
	}

	var row *Row
	for it.inBounds() {
		item := it.iter.Item()
		rk, col, ok := decodeCellKey(it.group, item.KeyCopy(nil))
		if !ok {
			it.iter.Next()
			continue
		}
		if row == nil {
			row = &Row{Key: rk, Columns: make(map[string][]byte)}
		} else if rk != row.Key {
			break
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("failed during scan: %w", err)
		}
		row.Columns[col] = val
		it.iter.Next()
	}
	return row, nil
}

func (it *badgerIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.iter.Close()
	it.txn.Discard()
	return nil
}

// ==================== Logger adapter ====================

// badgerLogger adapts logrus to badger's Logger interface.
type badgerLogger struct {
	logger *logrus.Logger
}

func newBadgerLogger(logger *logrus.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}

// compile-time interface check
var _ Store = (*BadgerStore)(nil)
