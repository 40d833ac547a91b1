// Package report aggregates the per-source, per-thread, and
// per-transfer statistics described in SPEC_FULL.md §4.11, bottom-up,
// and reduces every worker's error code to a single transfer-level
// summary using the fixed severity ordering from internal/errors.
package report

import (
	"sync"
	"sync/atomic"
	"time"

	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// SourceStats is the finest-grained counter: bytes moved for one
// ByteSource, how many of its attempts failed checksum verification
// (a BLOCK_NAK), and its outcome code.
type SourceStats struct {
	HeaderBytes    int64
	DataBytes      int64
	EffectiveBytes int64
	FailedAttempts int64
	Code           wdterrors.Code
}

// ThreadStats accumulates every SourceStats handled by one worker
// (one TCP connection) over its lifetime, plus the worker's own
// terminal error code.
type ThreadStats struct {
	headerBytes    atomic.Int64
	dataBytes      atomic.Int64
	effectiveBytes atomic.Int64
	numFiles       atomic.Int64
	numBlocks      atomic.Int64
	failedAttempts atomic.Int64
	code           atomic.Int32
}

// NewThreadStats returns a zeroed ThreadStats.
func NewThreadStats() *ThreadStats {
	return &ThreadStats{}
}

// RecordSource folds one completed source's counters into the thread.
func (t *ThreadStats) RecordSource(s SourceStats) {
	t.headerBytes.Add(s.HeaderBytes)
	t.dataBytes.Add(s.DataBytes)
	t.effectiveBytes.Add(s.EffectiveBytes)
	t.failedAttempts.Add(s.FailedAttempts)
	t.numBlocks.Add(1)
	t.setCode(s.Code)
}

// RecordFileComplete increments the completed-file counter, called
// when a file's last block has been sent (sender side) or written
// (receiver side).
func (t *ThreadStats) RecordFileComplete() {
	t.numFiles.Add(1)
}

// SetCode records a terminal error for this worker, keeping the worst
// code seen so far rather than overwriting with a milder one.
func (t *ThreadStats) SetCode(code wdterrors.Code) {
	t.setCode(code)
}

// SetEffectiveBytes overwrites the thread's post-ack byte count with
// n, the running total a history.History has actually moved out of
// its in-flight set via AckUpTo. Unlike RecordSource's other fields,
// effective bytes aren't safe to accumulate incrementally at send
// time: a block counted effective when sent, then lost and resent
// after a connection failure, would be double-counted.
func (t *ThreadStats) SetEffectiveBytes(n int64) {
	t.effectiveBytes.Store(n)
}

func (t *ThreadStats) setCode(code wdterrors.Code) {
	for {
		cur := wdterrors.Code(t.code.Load())
		worst := wdterrors.Worse(cur, code)
		if worst == cur {
			return
		}
		if t.code.CompareAndSwap(int32(cur), int32(worst)) {
			return
		}
	}
}

// Snapshot captures a ThreadStats' current values.
type Snapshot struct {
	HeaderBytes    int64
	DataBytes      int64
	EffectiveBytes int64
	NumFiles       int64
	NumBlocks      int64
	FailedAttempts int64
	Code           wdterrors.Code
}

// Snapshot reads the thread's counters without resetting them.
func (t *ThreadStats) Snapshot() Snapshot {
	return Snapshot{
		HeaderBytes:    t.headerBytes.Load(),
		DataBytes:      t.dataBytes.Load(),
		EffectiveBytes: t.effectiveBytes.Load(),
		NumFiles:       t.numFiles.Load(),
		NumBlocks:      t.numBlocks.Load(),
		FailedAttempts: t.failedAttempts.Load(),
		Code:           wdterrors.Code(t.code.Load()),
	}
}

// TransferReport is the top-level result handed back to the caller of
// Sender.Transfer / Receiver.Run, per spec.md §3's contract with the
// (out-of-core-scope) front-end.
type TransferReport struct {
	mu        sync.Mutex
	threads   []Snapshot
	startTime time.Time
	endTime   time.Time
}

// NewTransferReport starts a report clocked from now.
func NewTransferReport() *TransferReport {
	return &TransferReport{startTime: time.Now()}
}

// AddThread folds one worker's final snapshot into the report.
func (r *TransferReport) AddThread(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = append(r.threads, s)
}

// Finish stamps the report's end time. Call once all workers joined.
func (r *TransferReport) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endTime = time.Now()
}

// TotalDataBytes sums data bytes sent across every worker.
func (r *TransferReport) TotalDataBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, t := range r.threads {
		total += t.DataBytes
	}
	return total
}

// TotalEffectiveBytes sums acked (post-ack) bytes across every worker.
func (r *TransferReport) TotalEffectiveBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, t := range r.threads {
		total += t.EffectiveBytes
	}
	return total
}

// Duration is the wall-clock time between NewTransferReport and Finish.
func (r *TransferReport) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := r.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.startTime)
}

// Summary reduces every worker's terminal code to one transfer-level
// code, applying the fixed severity order: a fatal code on any one
// worker outranks per-file errors, which outrank OK.
func (r *TransferReport) Summary() wdterrors.Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := wdterrors.OK
	for _, t := range r.threads {
		summary = wdterrors.Worse(summary, t.Code)
	}
	return summary
}

// Threads returns a copy of every worker's final snapshot, in the
// order they were added.
func (r *TransferReport) Threads() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, len(r.threads))
	copy(out, r.threads)
	return out
}
