package backup

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/google/uuid"
)

// BackupState is the lifecycle state of a backup session.
type BackupState string

const (
	StateAny       BackupState = "ANY" // filter wildcard, never stored
	StateWaiting   BackupState = "WAITING"
	StateRunning   BackupState = "RUNNING"
	StateComplete  BackupState = "COMPLETE"
	StateFailed    BackupState = "FAILED"
	StateCancelled BackupState = "CANCELLED"
)

// BackupType distinguishes full from incremental sessions.
type BackupType string

const (
	TypeFull        BackupType = "FULL"
	TypeIncremental BackupType = "INCREMENTAL"
)

// BackupInfo is the descriptor of one backup session. It is stored as an
// opaque serialized payload under the session row of its backup ID.
type BackupInfo struct {
	BackupID   string      `json:"backup_id"`
	Type       BackupType  `json:"type"`
	RootDir    string      `json:"root_dir"`
	State      BackupState `json:"state"`
	Tables     []string    `json:"tables,omitempty"`
	StartTs    int64       `json:"start_ts"`    // unix millis
	CompleteTs int64       `json:"complete_ts"` // unix millis, 0 while in flight
	Progress   int         `json:"progress,omitempty"`
	FailedMsg  string      `json:"failed_msg,omitempty"`
}

// Marshal serializes the session descriptor.
func (i *BackupInfo) Marshal() ([]byte, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backup info %s: %w", i.BackupID, err)
	}
	return data, nil
}

// UnmarshalBackupInfo deserializes a session descriptor payload.
func UnmarshalBackupInfo(data []byte) (*BackupInfo, error) {
	var info BackupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup info: %w", err)
	}
	return &info, nil
}

// HasTable reports whether the session covers the given table.
func (i *BackupInfo) HasTable(table string) bool {
	for _, t := range i.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// Filter is a history predicate; sessions failing any filter are skipped.
type Filter func(*BackupInfo) bool

// NewBackupID generates a fresh backup session identifier.
func NewBackupID() string {
	return "backup_" + uuid.NewString()
}

// WALItem is one registered write-ahead-log artifact.
type WALItem struct {
	BackupID   string
	WalFile    string
	BackupRoot string
}

func (w WALItem) String() string {
	return path.Join("/", w.BackupRoot, w.BackupID, w.WalFile)
}

// marshalServerTimestamps serializes a server→timestamp map for storage in a
// table's log-roll-map cell.
func marshalServerTimestamps(m map[string]int64) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal server timestamps: %w", err)
	}
	return data, nil
}

// unmarshalServerTimestamps deserializes a log-roll-map payload.
func unmarshalServerTimestamps(data []byte) (map[string]int64, error) {
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server timestamps: %w", err)
	}
	return m, nil
}
