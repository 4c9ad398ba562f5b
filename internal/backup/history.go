package backup

import (
	"context"
	"sort"
)

// GetBackupHistory returns sessions in descending time order, optionally
// restricted to completed ones.
func (t *SystemTable) GetBackupHistory(ctx context.Context, completedOnly bool) ([]*BackupInfo, error) {
	state := StateAny
	if completedOnly {
		state = StateComplete
	}
	infos, err := t.GetBackupInfos(ctx, state)
	if err != nil {
		return nil, err
	}
	sortHistoryDesc(infos)
	return infos, nil
}

// GetHistory returns the n most recent sessions. A non-positive n yields an
// empty result.
func (t *SystemTable) GetHistory(ctx context.Context, n int) ([]*BackupInfo, error) {
	if n <= 0 {
		return []*BackupInfo{}, nil
	}
	history, err := t.GetBackupHistory(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(history) <= n {
		return history, nil
	}
	return history[:n], nil
}

// GetFilteredHistory returns at most n sessions, most recent first, keeping
// only sessions passing every filter. Filters are applied in order and
// short-circuit on the first failure per candidate; collection stops as soon
// as n sessions have passed.
func (t *SystemTable) GetFilteredHistory(ctx context.Context, n int, filters ...Filter) ([]*BackupInfo, error) {
	if n <= 0 {
		return []*BackupInfo{}, nil
	}
	if len(filters) == 0 {
		return t.GetHistory(ctx, n)
	}
	history, err := t.GetBackupHistory(ctx, false)
	if err != nil {
		return nil, err
	}
	result := make([]*BackupInfo, 0, n)
	for _, info := range history {
		if len(result) == n {
			break
		}
		passed := true
		for _, f := range filters {
			if !f(info) {
				passed = false
				break
			}
		}
		if passed {
			result = append(result, info)
		}
	}
	return result, nil
}

// GetBackupHistoryForRoot returns the history of one backup destination.
func (t *SystemTable) GetBackupHistoryForRoot(ctx context.Context, root string) ([]*BackupInfo, error) {
	history, err := t.GetBackupHistory(ctx, false)
	if err != nil {
		return nil, err
	}
	result := history[:0]
	for _, info := range history {
		if info.RootDir == root {
			result = append(result, info)
		}
	}
	return result, nil
}

// GetBackupHistoryForTable returns every session that covered a table.
func (t *SystemTable) GetBackupHistoryForTable(ctx context.Context, table string) ([]*BackupInfo, error) {
	history, err := t.GetBackupHistory(ctx, false)
	if err != nil {
		return nil, err
	}
	var result []*BackupInfo
	for _, info := range history {
		if info.HasTable(table) {
			result = append(result, info)
		}
	}
	return result, nil
}

// GetBackupHistoryForTableSet groups the history of one destination by the
// given tables: each table maps to the sessions (most recent first) that
// covered it.
func (t *SystemTable) GetBackupHistoryForTableSet(ctx context.Context, tables []string,
	root string) (map[string][]*BackupInfo, error) {
	history, err := t.GetBackupHistoryForRoot(ctx, root)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		wanted[table] = struct{}{}
	}
	byTable := make(map[string][]*BackupInfo)
	for _, info := range history {
		for _, table := range info.Tables {
			if _, ok := wanted[table]; ok {
				byTable[table] = append(byTable[table], info)
			}
		}
	}
	return byTable, nil
}

// sortHistoryDesc orders sessions by start time, newest first, breaking ties
// by completion time and then backup ID for a stable order.
func sortHistoryDesc(infos []*BackupInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].StartTs != infos[j].StartTs {
			return infos[i].StartTs > infos[j].StartTs
		}
		if infos[i].CompleteTs != infos[j].CompleteTs {
			return infos[i].CompleteTs > infos[j].CompleteTs
		}
		return infos[i].BackupID > infos[j].BackupID
	})
}

// ==================== Filters ====================

// RootFilter keeps sessions targeting the given destination root.
func RootFilter(root string) Filter {
	return func(info *BackupInfo) bool { return info.RootDir == root }
}

// TableFilter keeps sessions that covered the given table.
func TableFilter(table string) Filter {
	return func(info *BackupInfo) bool { return info.HasTable(table) }
}

// StateFilter keeps sessions in the given state; StateAny keeps all.
func StateFilter(state BackupState) Filter {
	return func(info *BackupInfo) bool { return state == StateAny || info.State == state }
}
