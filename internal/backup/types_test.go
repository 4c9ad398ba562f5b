package backup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupInfoMarshalRoundTrip(t *testing.T) {
	info := &BackupInfo{
		BackupID:   "backup_x",
		Type:       TypeIncremental,
		RootDir:    "/backup1",
		State:      StateFailed,
		Tables:     []string{"t1", "t2"},
		StartTs:    100,
		CompleteTs: 200,
		Progress:   42,
		FailedMsg:  "disk full",
	}

	data, err := info.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalBackupInfo(data)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestUnmarshalBackupInfoGarbage(t *testing.T) {
	_, err := UnmarshalBackupInfo([]byte("not json"))
	require.Error(t, err)
}

func TestHasTable(t *testing.T) {
	info := &BackupInfo{Tables: []string{"t1", "t2"}}
	assert.True(t, info.HasTable("t2"))
	assert.False(t, info.HasTable("t3"))
	assert.False(t, (&BackupInfo{}).HasTable("t1"))
}

func TestNewBackupIDIsUnique(t *testing.T) {
	a := NewBackupID()
	b := NewBackupID()
	assert.True(t, strings.HasPrefix(a, "backup_"))
	assert.NotEqual(t, a, b)
}

func TestServerTimestampsRoundTrip(t *testing.T) {
	in := map[string]int64{"host1:16020": 1000, "host2:16020": 2000}
	data, err := marshalServerTimestamps(in)
	require.NoError(t, err)

	out, err := unmarshalServerTimestamps(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
