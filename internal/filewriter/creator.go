// Package filewriter creates and writes destination files for the
// receiver, per SPEC_FULL.md §4.7. A Creator creates each destination
// path exactly once no matter how many worker goroutines race to
// write its first block (each worker then holds its own descriptor),
// mirroring the allocation-status bookkeeping
// in original_source/util/FileCreator.cpp.
package filewriter

import (
	"os"
	"path/filepath"
	"sync"

	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

type allocState int

const (
	allocating allocState = iota
	allocated
	failed
)

type fileSlot struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state allocState
}

// Creator opens destination files under root, deduplicating concurrent
// first-block opens for the same path and optionally preallocating
// their final size on disk.
type Creator struct {
	root        string
	preallocate bool
	overwrite   bool
	direct      bool
	mu          sync.Mutex
	slots       map[string]*fileSlot
	createdDirs map[string]bool
}

// New creates a Creator rooted at destDir. direct opens destination
// files with O_DIRECT where the platform supports it (Linux only;
// directFlag is a no-op elsewhere), matching the sender's O_DIRECT
// read side in internal/filesource.
func New(destDir string, preallocate, overwrite, direct bool) *Creator {
	return &Creator{
		root:        destDir,
		preallocate: preallocate,
		overwrite:   overwrite,
		direct:      direct,
		slots:       make(map[string]*fileSlot),
		createdDirs: make(map[string]bool),
	}
}

// Open returns a writable file descriptor for relPath, sized to size.
// The first caller for a given relPath creates (and, if enabled,
// preallocates) the file; concurrent callers for the same path block
// until that first open completes, then open the file independently
// so each worker can hold its own offset.
func (c *Creator) Open(relPath string, size int64) (*os.File, error) {
	slot, isFirst := c.slotFor(relPath)
	if isFirst {
		f, err := c.openAndSize(relPath, size)
		slot.mu.Lock()
		if err != nil {
			slot.state = failed
		} else {
			slot.state = allocated
		}
		slot.cond.Broadcast()
		slot.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	slot.mu.Lock()
	for slot.state == allocating {
		slot.cond.Wait()
	}
	st := slot.state
	slot.mu.Unlock()
	if st == failed {
		return nil, wdterrors.NewFileSystemError("open", relPath, wdterrors.FILE_WRITE_ERROR,
			os.ErrInvalid)
	}
	return c.openExisting(relPath)
}

func (c *Creator) slotFor(relPath string) (*fileSlot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[relPath]; ok {
		return s, false
	}
	s := &fileSlot{state: allocating}
	s.cond = sync.NewCond(&s.mu)
	c.slots[relPath] = s
	return s, true
}

func (c *Creator) openAndSize(relPath string, size int64) (*os.File, error) {
	path := filepath.Join(c.root, relPath)
	if err := c.ensureParentDir(path); err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_WRONLY
	if c.overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	if c.direct {
		flags |= directFlag()
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, wdterrors.NewFileSystemError("create", path, wdterrors.FILE_WRITE_ERROR, err)
	}

	if err := setFileSize(f, size, c.preallocate); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// ReopenForResume opens an already-validated destination file for
// writing without truncating it, for the case where transfer-log
// reconciliation determined the file's existing bytes can be kept.
func (c *Creator) ReopenForResume(relPath string) (*os.File, error) {
	slot, isFirst := c.slotFor(relPath)
	if isFirst {
		f, err := c.openExisting(relPath)
		slot.mu.Lock()
		if err != nil {
			slot.state = failed
		} else {
			slot.state = allocated
		}
		slot.cond.Broadcast()
		slot.mu.Unlock()
		return f, err
	}
	slot.mu.Lock()
	for slot.state == allocating {
		slot.cond.Wait()
	}
	st := slot.state
	slot.mu.Unlock()
	if st == failed {
		return nil, wdterrors.NewFileSystemError("open", relPath, wdterrors.FILE_WRITE_ERROR, os.ErrInvalid)
	}
	return c.openExisting(relPath)
}

func (c *Creator) openExisting(relPath string) (*os.File, error) {
	path := filepath.Join(c.root, relPath)
	flags := os.O_WRONLY
	if c.direct {
		flags |= directFlag()
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, wdterrors.NewFileSystemError("open", path, wdterrors.FILE_WRITE_ERROR, err)
	}
	return f, nil
}

func (c *Creator) ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	c.mu.Lock()
	done := c.createdDirs[dir]
	c.mu.Unlock()
	if done {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return wdterrors.NewFileSystemError("mkdir", dir, wdterrors.FILE_WRITE_ERROR, err)
	}
	c.mu.Lock()
	c.createdDirs[dir] = true
	c.mu.Unlock()
	return nil
}

// setFileSize prepares f for size bytes, matching
// FileCreator::setFileSize's shrink-then-grow behavior: an oversized
// existing file is truncated down first (to size when preallocating,
// to zero otherwise). With preallocation on, size is then reserved by
// fallocate, falling back to a plain truncate; with it off, the file
// grows as blocks are written.
func setFileSize(f *os.File, size int64, preallocate bool) error {
	info, err := f.Stat()
	if err != nil {
		return wdterrors.NewFileSystemError("stat", f.Name(), wdterrors.FILE_WRITE_ERROR, err)
	}
	if info.Size() > size {
		shrinkTo := int64(0)
		if preallocate {
			shrinkTo = size
		}
		if err := f.Truncate(shrinkTo); err != nil {
			return wdterrors.NewFileSystemError("truncate", f.Name(), wdterrors.FILE_WRITE_ERROR, err)
		}
	}
	if size == 0 || !preallocate {
		return nil
	}
	if err := fallocate(f, size); err != nil {
		// Degrade to a plain truncate, same as the teacher's PreallocateFile.
		if err := f.Truncate(size); err != nil {
			return wdterrors.NewFileSystemError("truncate", f.Name(), wdterrors.FILE_WRITE_ERROR, err)
		}
	}
	return nil
}
