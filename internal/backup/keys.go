package backup

import (
	"path"
	"strings"
)

// Row-key family prefixes. Together with Delim and the column names below
// they form the persisted layout: changing any of them is a breaking
// schema migration.
const (
	backupInfoPrefix    = "session:"
	startCodePrefix     = "startcode:"
	incrBackupSetPrefix = "incrbackupset:"
	tableRSLogMapPrefix = "trslm:"
	rsLogTSPrefix       = "rslogts:"
	walsPrefix          = "wals:"
	setKeyPrefix        = "backupset:"
)

// Delim separates key components inside a row key. Root, table, and server
// names must not contain it; this is a caller contract, not enforced here.
const Delim = "\x00"

// Column groups of the physical table.
const (
	sessionsGroup = "session"
	metaGroup     = "meta"
)

// Column names.
const (
	colContext    = "context"
	colStartCode  = "startcode"
	colLogRollMap = "log-roll-map"
	colRSLogTS    = "rs-log-ts"
	colBackupID   = "backupId"
	colWALFile    = "file"
	colRoot       = "root"
	colTables     = "tables"
)

// rowKey concatenates a family prefix with key components. Callers supply
// Delim explicitly where a component boundary must survive parsing.
func rowKey(prefix string, parts ...string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, p := range parts {
		sb.WriteString(p)
	}
	return sb.String()
}

// suffixAfterDelim returns the substring after the last Delim occurrence,
// or the whole string when Delim is absent.
func suffixAfterDelim(key string) string {
	if i := strings.LastIndex(key, Delim); i >= 0 {
		return key[i+1:]
	}
	return key
}

// prefixRange returns the scan bounds [start, stop) covering every key that
// begins with prefix. The stop key is the prefix with its final byte
// incremented, which is only correct while that byte is below 0xFF — all
// family prefixes here are printable ASCII, so the assumption holds.
func prefixRange(prefix string) (start, stop string) {
	b := []byte(prefix)
	b[len(b)-1]++
	return prefix, string(b)
}

// walFileName reduces a WAL file path to its unique file-name part, the key
// component under which the file is registered.
func walFileName(file string) string {
	return path.Base(file)
}
