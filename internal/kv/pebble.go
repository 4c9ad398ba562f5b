package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/sstable"
	"github.com/sirupsen/logrus"
)

// PebbleStore implements Store using Pebble (CockroachDB's LSM engine).
type PebbleStore struct {
	db       *pebble.DB
	writeOpt *pebble.WriteOptions
	ready    atomic.Bool
	logger   *logrus.Logger
}

// PebbleOptions contains configuration options for PebbleStore
type PebbleOptions struct {
	DataDir    string
	SyncWrites bool // If true, every write is synced to disk (slower but safer)
	Logger     *logrus.Logger
}

// NewPebbleStore creates a new Pebble-backed store
func NewPebbleStore(opts PebbleOptions) (*PebbleStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "sysmeta")
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	cache := pebble.NewCache(128 << 20) // 128 MB block cache
	defer cache.Unref()

	pebbleOpts := &pebble.Options{
		Cache:  cache,
		Logger: &pebbleLogger{logger: opts.Logger},
	}
	pebbleOpts.Levels[0].Compression = func() *sstable.CompressionProfile { return sstable.SnappyCompression }

	db, err := pebble.Open(dbPath, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	writeOpt := pebble.NoSync
	if opts.SyncWrites {
		writeOpt = pebble.Sync
	}

	store := &PebbleStore{
		db:       db,
		writeOpt: writeOpt,
		logger:   opts.Logger,
	}
	store.ready.Store(true)

	opts.Logger.WithField("path", dbPath).Info("Pebble store initialized")
	return store, nil
}

// Put writes cells into one row of a column group. Multi-cell puts go through
// a batch so the row update is atomic.
func (s *PebbleStore) Put(ctx context.Context, row, group string, cells ...Cell) error {
	if !s.ready.Load() {
		return ErrClosed
	}
	if len(cells) == 1 {
		return s.db.Set(encodeCellKey(group, row, cells[0].Column), cells[0].Value, s.writeOpt)
	}

	batch := s.db.NewBatch()
	defer batch.Close() //nolint:errcheck

	for _, c := range cells {
		if err := batch.Set(encodeCellKey(group, row, c.Column), c.Value, nil); err != nil {
			return fmt.Errorf("batch set %q/%q: %w", row, c.Column, err)
		}
	}
	return batch.Commit(s.writeOpt)
}

// Get reads all cells of one row. Absent rows yield an empty map.
func (s *PebbleStore) Get(ctx context.Context, row, group string) (map[string][]byte, error) {
	if !s.ready.Load() {
		return nil, ErrClosed
	}
	lower := []byte(group + cellSep + row + cellSep)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixEnd(lower),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	cols := make(map[string][]byte)
	for iter.First(); iter.Valid(); iter.Next() {
		rk, col, ok := decodeCellKey(group, iter.Key())
		if !ok || rk != row {
			// cell of a longer, delimiter-extended row key
			continue
		}
		v := iter.Value()
		val := make([]byte, len(v))
		copy(val, v)
		cols[col] = val
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed during row read: %w", err)
	}
	return cols, nil
}

// Delete removes every cell of one row within a column group.
func (s *PebbleStore) Delete(ctx context.Context, row, group string) error {
	if !s.ready.Load() {
		return ErrClosed
	}
	lower := []byte(group + cellSep + row + cellSep)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixEnd(lower),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}

	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		rk, _, ok := decodeCellKey(group, iter.Key())
		if !ok || rk != row {
			continue
		}
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		keys = append(keys, k)
	}
	iterErr := iter.Error()
	_ = iter.Close()
	if iterErr != nil {
		return fmt.Errorf("failed during row delete scan: %w", iterErr)
	}
	if len(keys) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close() //nolint:errcheck
	for _, k := range keys {
		if err := batch.Delete(k, nil); err != nil {
			return fmt.Errorf("batch delete %q: %w", k, err)
		}
	}
	return batch.Commit(s.writeOpt)
}

// Scan returns rows with keys in [start, stop), capped at limit when limit > 0.
func (s *PebbleStore) Scan(ctx context.Context, start, stop, group string, limit int) ([]Row, error) {
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
func (s *PebbleStore) Scanner(ctx context.Context, start, stop, group string) (Iterator, error) {
	if !s.ready.Load() {
		return nil, ErrClosed
	}
	lower, upper := groupSpan(group, start, stop)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	return &pebbleIterator{iter: iter, group: group}, nil
}

// IsReady returns true when the store can serve requests.
func (s *PebbleStore) IsReady() bool {
	return s.ready.Load()
}

// Close shuts down the Pebble store.
func (s *PebbleStore) Close() error {
	if !s.ready.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info("Closing Pebble store")
	return s.db.Close()
}

// ==================== Iterator ====================

// pebbleIterator groups consecutive engine cells into rows.
type pebbleIterator struct {
	iter    *pebble.Iterator
	group   string
	started bool
	valid   bool
	closed  bool
}

func (it *pebbleIterator) Next() (*Row, error) {
	if it.closed {
		return nil, nil
	}
	if !it.started {
		it.valid = it.iter.First()
		it.started = true
	}

	var row *Row
	for it.valid {
		rk, col, ok := decodeCellKey(it.group, it.iter.Key())
		if !ok {
			it.valid = it.iter.Next()
			continue
		}
		if row == nil {
			row = &Row{Key: rk, Columns: make(map[string][]byte)}
		} else if rk != row.Key {
			break
		}
		v := it.iter.Value()
		val := make([]byte, len(v))
		copy(val, v)
		row.Columns[col] = val
		it.valid = it.iter.Next()
	}
	if err := it.iter.Error(); err != nil {
		return nil, fmt.Errorf("failed during scan: %w", err)
	}
	return row, nil
}

func (it *pebbleIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.valid = false
	return it.iter.Close()
}

// ==================== Logger adapter ====================

// pebbleLogger adapts logrus to pebble's Logger interface (Infof, Errorf, Fatalf).
type pebbleLogger struct {
	logger *logrus.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[Pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[Pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf("[Pebble] "+format, args...)
}

// compile-time interface check
var _ Store = (*PebbleStore)(nil)
