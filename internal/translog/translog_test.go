package translog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, Header{SenderID: "s1", TransferID: "t1", BlockSize: 4096}, FsyncPerFile)
	require.NoError(t, err)

	mtime := time.Unix(1700000000, 0)
	require.NoError(t, m.AppendFileCreated(1, "a.txt", 100, mtime))
	require.NoError(t, m.AppendBlockWritten(1, 0, 50))
	require.NoError(t, m.AppendBlockWritten(1, 50, 50))
	require.NoError(t, m.Close())

	snap, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.Header.SenderID)
	assert.Equal(t, int64(100), snap.Sizes[1])
	assert.Equal(t, "a.txt", snap.RelPaths[1])
	assert.True(t, mtime.Equal(snap.MTimes[1]))
	require.Len(t, snap.Owned[1], 2)
	assert.False(t, snap.Invalidated[1])
}

func TestReconcileInvalidatesSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("12345"), 0644))
	info, err := os.Stat(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)

	snap := emptySnapshot()
	snap.Sizes[1] = 999
	snap.Owned[1] = nil

	Reconcile(dir, snap, map[int64]string{1: "a.txt"}, map[int64]time.Time{1: info.ModTime()})
	assert.True(t, snap.Invalidated[1])
}

func TestReconcileKeepsMatchingSizeAndMTime(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("12345"), 0644))
	info, err := os.Stat(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)

	snap := emptySnapshot()
	snap.Sizes[1] = info.Size()
	snap.Owned[1] = nil

	Reconcile(dir, snap, map[int64]string{1: "a.txt"}, map[int64]time.Time{1: info.ModTime()})
	assert.False(t, snap.Invalidated[1])
}

func TestFileInvalidatedDropsOwnedRanges(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, Header{SenderID: "s1"}, FsyncPerFile)
	require.NoError(t, err)

	require.NoError(t, m.AppendBlockWritten(2, 0, 10))
	require.NoError(t, m.AppendFileInvalidated(2))
	require.NoError(t, m.Close())

	snap, err := Read(dir)
	require.NoError(t, err)
	assert.True(t, snap.Invalidated[2])
	assert.Empty(t, snap.Owned[2])
}

func TestReadOnMissingLogReturnsEmptySnapshot(t *testing.T) {
	dir := t.TempDir()
	snap, err := Read(dir)
	require.NoError(t, err)
	assert.Empty(t, snap.Owned)
}

func TestPrintSummaryReportsTotals(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, Header{SenderID: "s1"}, FsyncPerFile)
	require.NoError(t, err)
	require.NoError(t, m.AppendBlockWritten(1, 0, 40))
	require.NoError(t, m.Close())

	snap, err := Read(dir)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, PrintSummary(&buf, snap))
	out := buf.String()
	assert.Contains(t, out, "owned_bytes=40")
	assert.Contains(t, out, "1 files owned")
}
