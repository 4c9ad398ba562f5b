// Package backup implements the persistence layer for backup orchestration
// metadata.
//
// Seven logical record families share one physical sorted keyspace, each
// under its own literal row-key prefix:
//
//  1. Backup sessions         rowkey = "session:"+backupID, value = serialized BackupInfo
//  2. Backup start code       rowkey = "startcode:"+root, value = startcode
//  3. Incremental backup set  rowkey = "incrbackupset:"+root, one column per table
//  4. Table-server-ts map     rowkey = "trslm:"+root+Delim+table, value = server→ts map
//  5. Server log timestamp    rowkey = "rslogts:"+root+Delim+server, value = 8-byte ts
//  6. WALs recorded           rowkey = "wals:"+walFileName, columns backupId/file/root
//  7. Backup sets             rowkey = "backupset:"+name, value = comma-joined tables
package backup

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metabak/metabak/internal/kv"
	"github.com/metabak/metabak/internal/metrics"
)

// Common errors
var (
	// ErrMalformedRecord marks a stored row whose payload is empty or
	// undecodable where a non-empty payload was required. It indicates a
	// prior partial write, not a missing record.
	ErrMalformedRecord = errors.New("malformed stored record")

	// ErrStoreNotReady is returned when the store does not become ready
	// within the startup wait budget.
	ErrStoreNotReady = errors.New("store not ready")

	// ErrRemoveUnsupported is returned by WALIterator.Remove.
	ErrRemoveUnsupported = errors.New("remove is not supported")
)

// Readiness wait used by New: fixed-interval polling with a fixed budget.
const (
	readyTimeout  = 60 * time.Second
	readyInterval = 100 * time.Millisecond
)

// SystemTable provides access to backup orchestration metadata on top of a
// sorted column-family store. All operations are synchronous single calls
// against the store; there are no cross-record transactions.
type SystemTable struct {
	store kv.Store
	log   *logrus.Entry
}

// New builds a SystemTable over the given store, waiting for the store to
// become ready. The wait is bounded: it fails with ErrStoreNotReady after
// the fixed budget rather than retrying forever.
func New(store kv.Store, logger *logrus.Logger) (*SystemTable, error) {
	if logger == nil {
		logger = logrus.New()
	}
	t := &SystemTable{
		store: store,
		log:   logger.WithField("component", "systable"),
	}
	if err := t.waitReady(); err != nil {
		return nil, err
	}
	t.log.Debug("Backup system table ready")
	return t, nil
}

func (t *SystemTable) waitReady() error {
	deadline := time.Now().Add(readyTimeout)
	for !t.store.IsReady() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrStoreNotReady, readyTimeout)
		}
		time.Sleep(readyInterval)
	}
	return nil
}

// ==================== Backup sessions ====================

// UpdateBackupInfo writes a backup session descriptor, creating the session
// row on first write and overwriting it afterwards.
func (t *SystemTable) UpdateBackupInfo(ctx context.Context, info *BackupInfo) (err error) {
	defer metrics.ObserveOp("update_backup_info", time.Now())

	t.log.WithFields(logrus.Fields{
		"backup_id": info.BackupID,
		"state":     info.State,
	}).Trace("update backup session")

	data, err := info.Marshal()
	if err != nil {
		return err
	}
	return t.store.Put(ctx, rowKey(backupInfoPrefix, info.BackupID), sessionsGroup,
		kv.Cell{Column: colContext, Value: data})
}

// ReadBackupInfo returns the session descriptor for a backup ID, or nil when
// no such session exists.
func (t *SystemTable) ReadBackupInfo(ctx context.Context, backupID string) (info *BackupInfo, err error) {
	defer metrics.ObserveOp("read_backup_info", time.Now())

	t.log.WithField("backup_id", backupID).Trace("read backup session")

	cols, err := t.store.Get(ctx, rowKey(backupInfoPrefix, backupID), sessionsGroup)
	if err != nil {
		return nil, fmt.Errorf("read backup info %s: %w", backupID, err)
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return UnmarshalBackupInfo(cols[colContext])
}

// DeleteBackupInfo removes a backup session row.
func (t *SystemTable) DeleteBackupInfo(ctx context.Context, backupID string) (err error) {
	defer metrics.ObserveOp("delete_backup_info", time.Now())

	t.log.WithField("backup_id", backupID).Trace("delete backup session")

	return t.store.Delete(ctx, rowKey(backupInfoPrefix, backupID), sessionsGroup)
}

// HasBackupSessions reports whether at least one backup session row exists.
// It is an existence probe: the scan is capped at a single row.
func (t *SystemTable) HasBackupSessions(ctx context.Context) (ok bool, err error) {
	defer metrics.ObserveOp("has_backup_sessions", time.Now())

	start, stop := prefixRange(backupInfoPrefix)
	rows, err := t.store.Scan(ctx, start, stop, sessionsGroup, 1)
	if err != nil {
		return false, fmt.Errorf("probe backup sessions: %w", err)
	}
	return len(rows) > 0, nil
}

// GetBackupInfos returns every session matching state in ascending key order.
// StateAny matches all sessions.
func (t *SystemTable) GetBackupInfos(ctx context.Context, state BackupState) (infos []*BackupInfo, err error) {
	defer metrics.ObserveOp("get_backup_infos", time.Now())

	t.log.WithField("state", state).Trace("get backup sessions")

	start, stop := prefixRange(backupInfoPrefix)
	rows, err := t.store.Scan(ctx, start, stop, sessionsGroup, 0)
	if err != nil {
		return nil, fmt.Errorf("scan backup sessions: %w", err)
	}
	infos = make([]*BackupInfo, 0, len(rows))
	for _, row := range rows {
		info, err := UnmarshalBackupInfo(row.Columns[colContext])
		if err != nil {
			return nil, fmt.Errorf("session row %q: %w", row.Key, err)
		}
		if state != StateAny && info.State != state {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// PurgeExpiredSessions deletes finished sessions whose completion time is
// older than the retention budget. Returns the number of deleted sessions.
func (t *SystemTable) PurgeExpiredSessions(ctx context.Context, retention time.Duration) (n int, err error) {
	defer metrics.ObserveOp("purge_expired_sessions", time.Now())

	cutoff := time.Now().Add(-retention).UnixMilli()
	infos, err := t.GetBackupInfos(ctx, StateAny)
	if err != nil {
		return 0, err
	}
	for _, info := range infos {
		if info.CompleteTs == 0 || info.CompleteTs >= cutoff {
			continue
		}
		if err := t.DeleteBackupInfo(ctx, info.BackupID); err != nil {
			return n, err
		}
		t.log.WithField("backup_id", info.BackupID).Info("Purged expired backup session")
		n++
	}
	return n, nil
}

// ==================== Start code ====================

// ReadBackupStartCode returns the checkpoint of the last successful backup
// for a root. An absent row and an empty stored value both mean "no prior
// successful backup" and yield the empty string.
func (t *SystemTable) ReadBackupStartCode(ctx context.Context, root string) (code string, err error) {
	defer metrics.ObserveOp("read_start_code", time.Now())

	t.log.WithField("root", root).Trace("read backup start code")

	cols, err := t.store.Get(ctx, rowKey(startCodePrefix, root), metaGroup)
	if err != nil {
		return "", fmt.Errorf("read start code for %s: %w", root, err)
	}
	return string(cols[colStartCode]), nil
}

// WriteBackupStartCode stores the checkpoint for a root.
func (t *SystemTable) WriteBackupStartCode(ctx context.Context, startCode, root string) (err error) {
	defer metrics.ObserveOp("write_start_code", time.Now())

	t.log.WithFields(logrus.Fields{
		"root":       root,
		"start_code": startCode,
	}).Trace("write backup start code")

	return t.store.Put(ctx, rowKey(startCodePrefix, root), metaGroup,
		kv.Cell{Column: colStartCode, Value: []byte(startCode)})
}

// ==================== Incremental backup table set ====================

// GetIncrementalBackupTableSet returns the tables under incremental
// protection for a root, sorted. Absent root yields an empty slice.
func (t *SystemTable) GetIncrementalBackupTableSet(ctx context.Context, root string) (tables []string, err error) {
	defer metrics.ObserveOp("get_incr_table_set", time.Now())

	cols, err := t.store.Get(ctx, rowKey(incrBackupSetPrefix, root), metaGroup)
	if err != nil {
		return nil, fmt.Errorf("read incremental table set for %s: %w", root, err)
	}
	tables = make([]string, 0, len(cols))
	for table := range cols {
		// column name carries the table; the value is empty
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables, nil
}

// AddIncrementalBackupTableSet adds tables to the incremental protection set
// of a root. Tables already present are overwritten in place.
func (t *SystemTable) AddIncrementalBackupTableSet(ctx context.Context, tables []string, root string) (err error) {
	defer metrics.ObserveOp("add_incr_table_set", time.Now())

	t.log.WithFields(logrus.Fields{
		"root":   root,
		"tables": tables,
	}).Trace("add incremental backup table set")

	cells := make([]kv.Cell, 0, len(tables))
	for _, table := range tables {
		cells = append(cells, kv.Cell{Column: table, Value: []byte{}})
	}
	return t.store.Put(ctx, rowKey(incrBackupSetPrefix, root), metaGroup, cells...)
}

// DeleteIncrementalBackupTableSet removes the whole incremental protection
// set of a root.
func (t *SystemTable) DeleteIncrementalBackupTableSet(ctx context.Context, root string) (err error) {
	defer metrics.ObserveOp("delete_incr_table_set", time.Now())

	t.log.WithField("root", root).Trace("delete incremental backup table set")

	return t.store.Delete(ctx, rowKey(incrBackupSetPrefix, root), metaGroup)
}

// ==================== Table-server-timestamp map ====================

// WriteRegionServerLogTimestamp stores, for each table, the map of server →
// last backed-up WAL timestamp. One row per table; rows are written
// independently, so a mid-batch failure leaves earlier rows committed.
func (t *SystemTable) WriteRegionServerLogTimestamp(ctx context.Context, tables []string,
	timestamps map[string]int64, root string) (err error) {
	defer metrics.ObserveOp("write_rs_log_timestamp", time.Now())

	t.log.WithFields(logrus.Fields{
		"root":   root,
		"tables": strings.Join(tables, ","),
	}).Trace("write region server log timestamps")

	data, err := marshalServerTimestamps(timestamps)
	if err != nil {
		return err
	}
	for _, table := range tables {
		key := rowKey(tableRSLogMapPrefix, root, Delim, table)
		if err := t.store.Put(ctx, key, metaGroup, kv.Cell{Column: colLogRollMap, Value: data}); err != nil {
			return fmt.Errorf("write log timestamp map for table %s: %w", table, err)
		}
	}
	return nil
}

// ReadLogTimestampMap returns, per table, the server → timestamp map written
// after the last successful backup of a root. A present row with an empty
// payload is a malformed record and surfaces as an error.
func (t *SystemTable) ReadLogTimestampMap(ctx context.Context, root string) (m map[string]map[string]int64, err error) {
	defer metrics.ObserveOp("read_log_timestamp_map", time.Now())

	t.log.WithField("root", root).Trace("read log timestamp map")

	start, stop := prefixRange(rowKey(tableRSLogMapPrefix, root))
	rows, err := t.store.Scan(ctx, start, stop, metaGroup, 0)
	if err != nil {
		return nil, fmt.Errorf("scan log timestamp maps for %s: %w", root, err)
	}

	m = make(map[string]map[string]int64, len(rows))
	for _, row := range rows {
		table := suffixAfterDelim(row.Key)
		data := row.Columns[colLogRollMap]
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty log timestamp map for table %s; create a backup first",
				ErrMalformedRecord, table)
		}
		ts, err := unmarshalServerTimestamps(data)
		if err != nil {
			return nil, fmt.Errorf("log timestamp map for table %s: %w", table, err)
		}
		m[table] = ts
	}
	return m, nil
}

// ==================== Server log timestamp ====================

// WriteRegionServerLastLogRollResult stores the last log-roll timestamp of
// one server under a root.
func (t *SystemTable) WriteRegionServerLastLogRollResult(ctx context.Context, server string,
	ts int64, root string) (err error) {
	defer metrics.ObserveOp("write_last_log_roll", time.Now())

	t.log.WithFields(logrus.Fields{
		"root":   root,
		"server": server,
		"ts":     ts,
	}).Trace("write region server last log roll result")

	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(ts))
	return t.store.Put(ctx, rowKey(rsLogTSPrefix, root, Delim, server), metaGroup,
		kv.Cell{Column: colRSLogTS, Value: val})
}

// ReadRegionServerLastLogRollResult returns the server → last log-roll
// timestamp map for a root.
func (t *SystemTable) ReadRegionServerLastLogRollResult(ctx context.Context, root string) (m map[string]int64, err error) {
	defer metrics.ObserveOp("read_last_log_roll", time.Now())

	t.log.WithField("root", root).Trace("read region server last log roll results")

	start, stop := prefixRange(rowKey(rsLogTSPrefix, root))
	rows, err := t.store.Scan(ctx, start, stop, metaGroup, 0)
	if err != nil {
		return nil, fmt.Errorf("scan log roll results for %s: %w", root, err)
	}

	m = make(map[string]int64, len(rows))
	for _, row := range rows {
		server := suffixAfterDelim(row.Key)
		data := row.Columns[colRSLogTS]
		if len(data) != 8 {
			return nil, fmt.Errorf("%w: log roll timestamp for server %s has %d bytes, want 8",
				ErrMalformedRecord, server, len(data))
		}
		m[server] = int64(binary.BigEndian.Uint64(data))
	}
	return m, nil
}

// ==================== WAL registry ====================

// AddWALFiles registers WAL files as backed up and therefore eligible for
// deletion. One row per file; rows are written independently.
func (t *SystemTable) AddWALFiles(ctx context.Context, files []string, backupID, root string) (err error) {
	defer metrics.ObserveOp("add_wal_files", time.Now())

	t.log.WithFields(logrus.Fields{
		"backup_id": backupID,
		"root":      root,
		"files":     len(files),
	}).Trace("register WAL files")

	for _, file := range files {
		key := rowKey(walsPrefix, walFileName(file))
		err := t.store.Put(ctx, key, metaGroup,
			kv.Cell{Column: colBackupID, Value: []byte(backupID)},
			kv.Cell{Column: colWALFile, Value: []byte(file)},
			kv.Cell{Column: colRoot, Value: []byte(root)},
		)
		if err != nil {
			return fmt.Errorf("register WAL file %s: %w", file, err)
		}
	}
	return nil
}

// GetWALFilesIterator returns a lazy cursor over all registered WAL files in
// ascending key order. The caller must either drain the cursor or close it.
//
// TODO: scope the scan to root once WAL rows are tracked per destination.
func (t *SystemTable) GetWALFilesIterator(ctx context.Context, root string) (*WALIterator, error) {
	defer metrics.ObserveOp("open_wal_iterator", time.Now())

	t.log.WithField("root", root).Trace("open WAL files iterator")

	start, stop := prefixRange(walsPrefix)
	it, err := t.store.Scanner(ctx, start, stop, metaGroup)
	if err != nil {
		return nil, fmt.Errorf("open WAL scan: %w", err)
	}
	return newWALIterator(it, t.log), nil
}

// IsWALFileDeletable reports whether a WAL file has been registered (and is
// therefore already backed up), regardless of which session registered it.
func (t *SystemTable) IsWALFileDeletable(ctx context.Context, file string) (ok bool, err error) {
	defer metrics.ObserveOp("is_wal_deletable", time.Now())

	t.log.WithField("file", file).Trace("check WAL file registered")

	cols, err := t.store.Get(ctx, rowKey(walsPrefix, walFileName(file)), metaGroup)
	if err != nil {
		return false, fmt.Errorf("check WAL file %s: %w", file, err)
	}
	return len(cols) > 0, nil
}

// ==================== Backup sets ====================

// ListBackupSets returns the names of all backup sets in ascending order.
func (t *SystemTable) ListBackupSets(ctx context.Context) (names []string, err error) {
	defer metrics.ObserveOp("list_backup_sets", time.Now())

	t.log.Trace("list backup sets")

	start, stop := prefixRange(setKeyPrefix)
	rows, err := t.store.Scan(ctx, start, stop, metaGroup, 0)
	if err != nil {
		return nil, fmt.Errorf("scan backup sets: %w", err)
	}
	names = make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Key[len(setKeyPrefix):])
	}
	return names, nil
}

// DescribeBackupSet returns the member tables of a named set in stored
// order, or nil when the set does not exist.
func (t *SystemTable) DescribeBackupSet(ctx context.Context, name string) (tables []string, err error) {
	defer metrics.ObserveOp("describe_backup_set", time.Now())

	t.log.WithField("set", name).Trace("describe backup set")

	cols, err := t.store.Get(ctx, rowKey(setKeyPrefix, name), metaGroup)
	if err != nil {
		return nil, fmt.Errorf("read backup set %s: %w", name, err)
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return splitBackupSet(cols[colTables]), nil
}

// AddToBackupSet merges tables into a named set, creating the set when
// absent. Existing members keep their order; new members append in input
// order. Read-modify-write with no concurrency control: concurrent mutators
// of the same set race, last write wins.
func (t *SystemTable) AddToBackupSet(ctx context.Context, name string, tables []string) (err error) {
	defer metrics.ObserveOp("add_to_backup_set", time.Now())

	t.log.WithFields(logrus.Fields{
		"set":    name,
		"tables": tables,
	}).Trace("backup set add")

	current, err := t.DescribeBackupSet(ctx, name)
	if err != nil {
		return err
	}
	merged := Union(current, tables)
	return t.store.Put(ctx, rowKey(setKeyPrefix, name), metaGroup,
		kv.Cell{Column: colTables, Value: joinBackupSet(merged)})
}

// RemoveFromBackupSet removes tables from a named set. When the removal
// empties the set, the row is deleted entirely: an empty set is never
// stored. Removing from an absent set is a no-op.
func (t *SystemTable) RemoveFromBackupSet(ctx context.Context, name string, toRemove []string) (err error) {
	defer metrics.ObserveOp("remove_from_backup_set", time.Now())

	t.log.WithFields(logrus.Fields{
		"set":    name,
		"tables": toRemove,
	}).Trace("backup set remove")

	current, err := t.DescribeBackupSet(ctx, name)
	if err != nil {
		return err
	}
	if current == nil {
		t.log.WithField("set", name).Warn("Backup set not found")
		return nil
	}

	remaining := Difference(current, toRemove)
	switch {
	case len(remaining) == len(current):
		t.log.WithFields(logrus.Fields{
			"set":    name,
			"tables": toRemove,
		}).Warn("Backup set does not contain given tables")
		return nil
	case len(remaining) == 0:
		t.log.WithField("set", name).Info("Backup set is empty, deleting")
		return t.DeleteBackupSet(ctx, name)
	default:
		return t.store.Put(ctx, rowKey(setKeyPrefix, name), metaGroup,
			kv.Cell{Column: colTables, Value: joinBackupSet(remaining)})
	}
}

// DeleteBackupSet removes a named set entirely.
func (t *SystemTable) DeleteBackupSet(ctx context.Context, name string) (err error) {
	defer metrics.ObserveOp("delete_backup_set", time.Now())

	t.log.WithField("set", name).Trace("backup set delete")

	return t.store.Delete(ctx, rowKey(setKeyPrefix, name), metaGroup)
}

func joinBackupSet(tables []string) []byte {
	return []byte(strings.Join(tables, ","))
}

func splitBackupSet(data []byte) []string {
	if len(data) == 0 {
		return []string{}
	}
	return strings.Split(string(data), ",")
}
