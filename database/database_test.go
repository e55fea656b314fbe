package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/errsnoop/stack"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "nested", "errsnoop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndQueryErrorStacks(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	reports := []*stack.Report{
		{Timestamp: base, EntryFunc: "__sys_bpf", Result: -22, ErrName: "EINVAL", Depth: 3, Text: "first\n"},
		{Timestamp: base.Add(time.Second), EntryFunc: "__sys_bpf", Result: -1234, Depth: 5, Stitched: true, Text: "second\n"},
		{Timestamp: base.Add(2 * time.Second), EntryFunc: "do_sys_open", Result: -2, ErrName: "ENOENT", Depth: 1, Text: "third\n"},
	}
	for _, r := range reports {
		require.NoError(t, db.InsertErrorStack(r))
	}

	recent, err := db.RecentErrorStacks(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "do_sys_open", recent[0].EntryFunc)
	assert.Equal(t, "third\n", recent[0].StackText)
	assert.Equal(t, int64(-1234), recent[1].Result)
	assert.Empty(t, recent[1].ErrName)
	assert.True(t, recent[1].Stitched)

	rec, err := db.GetErrorStack(recent[1].ID)
	require.NoError(t, err)
	assert.Equal(t, recent[1], rec)
	assert.True(t, rec.Timestamp.Equal(base.Add(time.Second)))
}

func TestGetErrorStackMissing(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetErrorStack(42)
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestRecentErrorStacksEmpty(t *testing.T) {
	db := openTestDB(t)

	recent, err := db.RecentErrorStacks(10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
