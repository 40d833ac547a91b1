// Package sourcequeue implements the directory source queue: a
// thread-safe producer/consumer that enumerates a directory tree (or a
// pre-supplied file list) into an ordered stream of ByteSource blocks
// for N worker consumers, per SPEC_FULL.md §4.2.
package sourcequeue

import (
	"container/list"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yousafgill/wdt/internal/core"
	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// Result is what GetNextSource returns: exactly one of Source set,
// EndOfQueue true, or TimedOut true.
type Result struct {
	Source    *core.ByteSource
	EndOfQueue bool
	TimedOut   bool
}

// Queue is the thread-safe producer/consumer described in
// SPEC_FULL.md §4.2. One enumerator goroutine produces; N worker
// goroutines consume via GetNextSource.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	fresh  *list.List // FIFO of *core.ByteSource, fresh from enumeration
	closed bool

	nextSeq int64

	blockSize int64

	// ownedRanges, when download resumption is enabled, holds the
	// byte ranges the receiver already has per relative path; the
	// enumerator skips or splits emission around them.
	ownedRanges map[string][]core.ByteRange

	enumErr error
}

// New creates an empty queue. Call one of Start* to begin producing.
func New(blockSize int64) *Queue {
	q := &Queue{
		fresh:     list.New(),
		blockSize: blockSize,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetOwnedRanges installs the receiver-reported owned ranges used by
// discovery filtering (spec.md §4.2's resumption hook).
func (q *Queue) SetOwnedRanges(owned map[string][]core.ByteRange) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ownedRanges = owned
}

// StartWalk begins a background walk of root, emitting blocks as it
// discovers regular files (streaming mode). Close() is called
// automatically once the walk completes.
func (q *Queue) StartWalk(root string) {
	go func() {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			relPath, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			q.emitFile(relPath, info.Size(), info.Mode())
			return nil
		})
		q.mu.Lock()
		if err != nil {
			q.enumErr = wdterrors.NewFileSystemError("walk", root, wdterrors.FILE_READ_ERROR, err)
		}
		q.mu.Unlock()
		q.Close()
	}()
}

// StartFromList begins producing from a pre-supplied file list (spec.md
// §4.2's "consumes a pre-supplied file list" mode). Sizes of -1 are
// statted against root.
func (q *Queue) StartFromList(root string, entries []core.ManifestEntry) {
	go func() {
		for _, e := range entries {
			size := e.Size
			var mode os.FileMode = 0644
			if size < 0 {
				info, err := os.Stat(filepath.Join(root, e.Path))
				if err != nil {
					q.mu.Lock()
					q.enumErr = wdterrors.NewFileSystemError("stat", e.Path, wdterrors.FILE_READ_ERROR, err)
					q.mu.Unlock()
					continue
				}
				size = info.Size()
				mode = info.Mode()
			}
			q.emitFile(e.Path, size, mode)
		}
		q.Close()
	}()
}

// emitFile splits one file into blocks of at most blockSize and pushes
// them, applying resumption filtering when owned ranges are set.
func (q *Queue) emitFile(relPath string, size int64, mode os.FileMode) {
	q.mu.Lock()
	seq := q.nextSeq
	q.nextSeq++
	owned := q.ownedRanges[relPath]
	q.mu.Unlock()

	meta := &core.FileMetadata{RelPath: relPath, Size: size, Mode: mode, SeqID: seq}

	if size == 0 {
		q.push(&core.ByteSource{File: meta, Offset: 0, Length: 0, FirstChunk: true, LastChunk: true})
		return
	}

	blocks := splitIntoBlocks(size, q.blockSize)
	blocks = subtractOwned(blocks, owned)

	for _, b := range blocks {
		q.push(&core.ByteSource{
			File:       meta,
			Offset:     b.Start,
			Length:     b.Len(),
			FirstChunk: b.Start == 0,
			LastChunk:  b.End == size,
		})
	}
}

func splitIntoBlocks(size, blockSize int64) []core.ByteRange {
	var blocks []core.ByteRange
	for off := int64(0); off < size; off += blockSize {
		end := off + blockSize
		if end > size {
			end = size
		}
		blocks = append(blocks, core.ByteRange{Start: off, End: end})
	}
	return blocks
}

// subtractOwned removes byte ranges the receiver already owns from
// the candidate block list, splitting blocks that only partially
// overlap an owned range.
func subtractOwned(blocks []core.ByteRange, owned []core.ByteRange) []core.ByteRange {
	if len(owned) == 0 {
		return blocks
	}
	var result []core.ByteRange
	for _, b := range blocks {
		remaining := []core.ByteRange{b}
		for _, o := range owned {
			var next []core.ByteRange
			for _, r := range remaining {
				next = append(next, subtractRange(r, o)...)
			}
			remaining = next
		}
		result = append(result, remaining...)
	}
	return result
}

func subtractRange(r, o core.ByteRange) []core.ByteRange {
	if !r.Overlaps(o) {
		return []core.ByteRange{r}
	}
	var out []core.ByteRange
	if r.Start < o.Start {
		out = append(out, core.ByteRange{Start: r.Start, End: o.Start})
	}
	if o.End < r.End {
		out = append(out, core.ByteRange{Start: o.End, End: r.End})
	}
	return out
}

func (q *Queue) push(src *core.ByteSource) {
	q.mu.Lock()
	q.fresh.PushBack(src)
	q.cond.Signal()
	q.mu.Unlock()
}

// GetNextSource returns the next available source, blocking up to
// timeout. Per spec.md §4.2's consumer contract.
func (q *Queue) GetNextSource(timeout time.Duration) Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for q.fresh.Len() == 0 {
		if q.closed {
			return Result{EndOfQueue: true}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Result{TimedOut: true}
		}
		waited := waitWithTimeout(q.cond, remaining)
		if !waited && q.fresh.Len() == 0 && !q.closed {
			return Result{TimedOut: true}
		}
	}

	front := q.fresh.Front()
	q.fresh.Remove(front)
	return Result{Source: front.Value.(*core.ByteSource)}
}

// ReturnToQueue reinserts a source at the head of the queue (not the
// tail) so retried work is picked up promptly, per spec.md §4.2.
func (q *Queue) ReturnToQueue(src *core.ByteSource) {
	q.mu.Lock()
	q.fresh.PushFront(src)
	q.cond.Signal()
	q.mu.Unlock()
}

// Close marks the queue closed; once drained, all consumers observe
// end-of-queue. Safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Err returns any error the enumerator encountered while walking.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enumErr
}

// Len reports how many fresh sources are currently queued (for tests
// and diagnostics; racy under concurrent producers by design).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fresh.Len()
}
