package filewriter

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesNestedDestination(t *testing.T) {
	root := t.TempDir()
	c := New(root, false, true, false)

	f, err := c.Open("a/b/c.bin", 10)
	require.NoError(t, err)
	defer f.Close()

	_, err = os.Stat(filepath.Join(root, "a/b/c.bin"))
	assert.NoError(t, err)
}

func TestOpenDeduplicatesConcurrentFirstBlockCreation(t *testing.T) {
	root := t.TempDir()
	c := New(root, false, true, false)

	const workers = 8
	var wg sync.WaitGroup
	fds := make([]*os.File, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fds[i], errs[i] = c.Open("shared.bin", 100)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, fds[i])
		fds[i].Close()
	}
}

func TestSetFileSizePreallocatesToTargetSize(t *testing.T) {
	root := t.TempDir()
	c := New(root, true, true, false)

	f, err := c.Open("pre.bin", 4096)
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
}

func TestOpenWithoutOverwriteFailsOnExistingFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "x.bin"), []byte("x"), 0644))

	c := New(root, false, false, false)
	_, err := c.Open("x.bin", 1)
	assert.Error(t, err)
}
