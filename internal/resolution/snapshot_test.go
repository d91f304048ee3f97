package resolution

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSnapshotterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sn := NewSnapshotter(dir, zap.NewNop())

	records := []*Record{
		makeRecord("E1", "CODE_FIX", "d1", 2),
		makeRecord("E2", "VALIDATION_FIX", "d2", 0),
	}
	require.NoError(t, sn.Save(records))

	loaded, err := sn.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	bySig := make(map[string]*Record, len(loaded))
	for _, rec := range loaded {
		bySig[rec.Signature] = rec
	}

	e1 := bySig["E1"]
	require.NotNil(t, e1)
	assert.Equal(t, StatusRecurred, e1.Status)
	assert.Equal(t, 2, e1.RecurrenceCount)
	assert.Len(t, e1.History, 3)
	assert.Equal(t, "CODE_FIX", e1.FixType)
	assert.True(t, e1.ResolvedAt.Equal(records[0].ResolvedAt))
}

func TestSnapshotterLoadMissingFile(t *testing.T) {
	sn := NewSnapshotter(t.TempDir(), zap.NewNop())

	// First run: no snapshot yet, no error.
	records, err := sn.Load()
	assert.NoError(t, err)
	assert.Nil(t, records)
}

func TestSnapshotterLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	sn := NewSnapshotter(dir, zap.NewNop())
	require.NoError(t, os.WriteFile(sn.Path(), []byte("{not json"), 0600))

	_, err := sn.Load()
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestSnapshotterLoadSkipsUnkeyedRecords(t *testing.T) {
	dir := t.TempDir()
	sn := NewSnapshotter(dir, zap.NewNop())

	file := snapshotFile{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Records: []*Record{
			{Signature: "E1", Status: StatusResolved, History: []HistoryEntry{{Action: ActionResolved}}},
			{Signature: ""},
		},
	}
	data, err := json.Marshal(&file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(sn.Path(), data, 0600))

	records, err := sn.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "E1", records[0].Signature)
}

func TestSnapshotterSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "storage")
	sn := NewSnapshotter(dir, zap.NewNop())

	require.NoError(t, sn.Save([]*Record{makeRecord("E1", "CODE_FIX", "d1", 0)}))

	info, err := os.Stat(sn.Path())
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestSnapshotterSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	sn := NewSnapshotter(dir, zap.NewNop())

	require.NoError(t, sn.Save([]*Record{makeRecord("E1", "CODE_FIX", "d1", 0)}))
	require.NoError(t, sn.Save([]*Record{makeRecord("E2", "CODE_FIX", "d1", 0)}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, snapshotFileName, entries[0].Name())
}

func TestSnapshotterSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	sn := NewSnapshotter(dir, zap.NewNop())

	require.NoError(t, sn.Save([]*Record{makeRecord("E1", "CODE_FIX", "d1", 0)}))
	require.NoError(t, sn.Save([]*Record{
		makeRecord("E1", "CODE_FIX", "d1", 0),
		makeRecord("E2", "CODE_FIX", "d1", 0),
	}))

	loaded, err := sn.Load()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}
