// Package history implements the per-connection thread transfer
// history described in SPEC_FULL.md §4.6: an ordered list of sources
// sent but not yet acked, rewound into the source queue on failure.
package history

import (
	"sync"

	"github.com/yousafgill/wdt/internal/core"
)

// Queue is the subset of sourcequeue.Queue's API the history needs,
// kept as an interface so tests can substitute a fake.
type Queue interface {
	ReturnToQueue(src *core.ByteSource)
}

// History is one worker's ThreadTransferHistory (spec.md glossary).
type History struct {
	mu      sync.Mutex
	queue   Queue
	records []*core.InFlightRecord

	// lastAckedOffset tracks, per file sequence ID, the highest byte
	// offset the receiver has confirmed persisting -- used to trim a
	// partially-acked block before it is rewound to the queue.
	lastAckedOffset map[int64]int64

	effectiveBytes int64
	numAcked       int64
}

// New creates an empty history bound to queue for rewinds.
func New(queue Queue) *History {
	return &History{
		queue:           queue,
		lastAckedOffset: make(map[int64]int64),
	}
}

// Append records a source as in flight, called before each send.
func (h *History) Append(src *core.ByteSource, workerSeq int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, &core.InFlightRecord{Source: src, WorkerSeq: workerSeq})
}

// AckUpTo removes every in-flight entry for fileSeq whose block ends
// at or before ackedOffset, moving their bytes into effective data
// bytes, and remembers ackedOffset for future partial-rewind trimming.
func (h *History) AckUpTo(fileSeq int64, ackedOffset int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ackedOffset > h.lastAckedOffset[fileSeq] {
		h.lastAckedOffset[fileSeq] = ackedOffset
	}

	kept := h.records[:0]
	for _, rec := range h.records {
		if rec.Source.File.SeqID == fileSeq && rec.Source.End() <= ackedOffset {
			h.effectiveBytes += rec.Source.Length
			h.numAcked++
			continue
		}
		kept = append(kept, rec)
	}
	h.records = kept
}

// RewindAll returns every still-present entry to the queue, trimming
// any block whose leading bytes the receiver has already confirmed
// (per the most recent partial ack for that file) so they are never
// re-sent. Entries are returned in original emission order.
func (h *History) RewindAll() int {
	h.mu.Lock()
	records := h.records
	h.records = nil
	lastAcked := h.lastAckedOffset
	h.mu.Unlock()

	// ReturnToQueue pushes each source onto the head of the real queue,
	// so returning records in emission order would leave them at the
	// head in reverse. Walk backwards instead: the last record pushed
	// ends up frontmost, giving the head-to-tail block the original
	// emission order back.
	count := 0
	for i := len(records) - 1; i >= 0; i-- {
		src := records[i].Source
		if acked, ok := lastAcked[src.File.SeqID]; ok && acked > src.Offset {
			trimmedOffset := acked
			if trimmedOffset >= src.End() {
				// Entire block already persisted; nothing to resend.
				continue
			}
			trimmed := *src
			trimmed.Length = src.End() - trimmedOffset
			trimmed.Offset = trimmedOffset
			trimmed.FirstChunk = false
			h.queue.ReturnToQueue(&trimmed)
		} else {
			h.queue.ReturnToQueue(src)
		}
		count++
	}
	return count
}

// RewindOne returns exactly the in-flight record for (fileSeq, offset)
// to the queue, if still present, unmodified -- used when the receiver
// NAKs a single block's checksum rather than the whole connection
// failing. Reports whether a matching record was found.
func (h *History) RewindOne(fileSeq, offset int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, rec := range h.records {
		if rec.Source.File.SeqID == fileSeq && rec.Source.Offset == offset {
			h.records = append(h.records[:i:i], h.records[i+1:]...)
			h.queue.ReturnToQueue(rec.Source)
			return true
		}
	}
	return false
}

// EffectiveBytes returns the bytes moved out of history by AckUpTo.
func (h *History) EffectiveBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.effectiveBytes
}

// NumAcked returns the number of sources acked by the receiver.
func (h *History) NumAcked() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.numAcked
}

// Len reports the number of entries currently in flight.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
