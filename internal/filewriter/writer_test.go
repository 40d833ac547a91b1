package filewriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterWritesAtOffset(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.bin")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(100))

	w, err := NewWriter(f, 50, 100, false)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte("hello")))
	require.NoError(t, w.Close(false, 55))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data[50:55])
	assert.Len(t, data, 100)
}

func TestWriterTruncatesOnLastChunkAtFullSize(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.bin")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(4096)) // preallocated, larger than real data

	w, err := NewWriter(f, 0, 10, false)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte("0123456789")))
	require.NoError(t, w.Close(true, 10))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size())
}

// TestWriterPadsFinalBlockUnderDirectAndTruncatesAway exercises the
// O_DIRECT path with a plain (non-O_DIRECT-opened) file: Write
// still rounds the buffer it hands to the syscall up to the alignment
// boundary, and Close's truncate-to-fileSize removes the padding
// tail, leaving the true bytes on disk.
func TestWriterPadsFinalBlockUnderDirectAndTruncatesAway(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.bin")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)

	w, err := NewWriter(f, 0, 5, true)
	require.NoError(t, err)
	require.NoError(t, w.Write([]byte("hello")))
	require.NoError(t, w.Close(true, 5))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}
