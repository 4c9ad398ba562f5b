package backup

import (
	"github.com/sirupsen/logrus"

	"github.com/metabak/metabak/internal/kv"
)

// WALIterator is a lazy, forward-only cursor over the WAL registry family.
// HasNext probes the underlying scan; the first probe that finds no further
// row releases the scan resources exactly once and pins the cursor in its
// exhausted state. A caller abandoning the cursor early must call Close.
type WALIterator struct {
	it        kv.Iterator
	log       *logrus.Entry
	next      *WALItem
	err       error
	exhausted bool
	released  bool
}

func newWALIterator(it kv.Iterator, log *logrus.Entry) *WALIterator {
	return &WALIterator{it: it, log: log}
}

// HasNext reports whether another WAL item is available, fetching and
// caching it. After exhaustion it stays false on every call.
func (w *WALIterator) HasNext() bool {
	if w.next != nil {
		return true
	}
	if w.exhausted {
		return false
	}
	row, err := w.it.Next()
	if err != nil {
		w.err = err
		w.release()
		return false
	}
	if row == nil {
		w.release()
		return false
	}
	w.next = &WALItem{
		BackupID:   string(row.Columns[colBackupID]),
		WalFile:    string(row.Columns[colWALFile]),
		BackupRoot: string(row.Columns[colRoot]),
	}
	return true
}

// Next returns the next WAL item. The second return value is false once the
// cursor is exhausted or after a scan failure; check Err to distinguish.
func (w *WALIterator) Next() (WALItem, bool) {
	if !w.HasNext() {
		return WALItem{}, false
	}
	item := *w.next
	w.next = nil
	return item, true
}

// Err returns the first scan failure observed, if any.
func (w *WALIterator) Err() error {
	return w.err
}

// Remove is not supported on this cursor.
func (w *WALIterator) Remove() error {
	return ErrRemoveUnsupported
}

// Close releases the underlying scan resources. Idempotent; called
// automatically on exhaustion.
func (w *WALIterator) Close() error {
	w.exhausted = true
	w.next = nil
	w.release()
	return nil
}

func (w *WALIterator) release() {
	w.exhausted = true
	if w.released {
		return
	}
	w.released = true
	if err := w.it.Close(); err != nil {
		w.log.WithError(err).Error("Close WAL iterator")
	}
}
