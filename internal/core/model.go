package core

import "os"

// FileMetadata describes one source file: its path relative to the
// transfer's directory root, its size (as statted, or as declared by
// a manifest), its permission bits, and a globally-unique, emission-
// order-monotonic sequence number assigned by the source queue.
type FileMetadata struct {
	RelPath string
	Size    int64
	Mode    os.FileMode
	SeqID   int64
}

// ByteSource is a bounded byte range of one file: the unit of transfer
// and of ACK granularity (spec.md glossary: "Block").
type ByteSource struct {
	File   *FileMetadata
	Offset int64
	Length int64

	// FirstChunk/LastChunk mark file boundaries so the receiver can
	// detect them without waiting on a DONE frame (SPEC_FULL §4.1).
	FirstChunk bool
	LastChunk  bool
}

// End returns the exclusive end offset of the block.
func (b *ByteSource) End() int64 {
	return b.Offset + b.Length
}

// InFlightRecord is a ByteSource plus the worker-local position at
// which it was sent, held by ThreadTransferHistory until acked.
type InFlightRecord struct {
	Source     *ByteSource
	WorkerSeq  int64
}

// ByteRange is a half-open [Start, End) interval of one file, used by
// the transfer log's reconciled owned-range sets and by resumption's
// FILE_CHUNKS_INFO frame.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes covered by the range.
func (r ByteRange) Len() int64 { return r.End - r.Start }

// Overlaps reports whether two ranges share any byte.
func (r ByteRange) Overlaps(o ByteRange) bool {
	return r.Start < o.End && o.Start < r.End
}
