package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousafgill/wdt/internal/core"
)

// fakeQueue mirrors sourcequeue.Queue.ReturnToQueue's real behavior:
// each call inserts at the head, not the tail. Recording plain
// appends here would hide any RewindAll ordering bug behind a queue
// shape RewindAll never actually rewinds into.
type fakeQueue struct {
	returned []*core.ByteSource
}

func (q *fakeQueue) ReturnToQueue(src *core.ByteSource) {
	q.returned = append([]*core.ByteSource{src}, q.returned...)
}

func mkSrc(seq, offset, length int64) *core.ByteSource {
	return &core.ByteSource{
		File:   &core.FileMetadata{RelPath: "f", Size: offset + length, SeqID: seq},
		Offset: offset,
		Length: length,
	}
}

func TestAckUpToRemovesFullyAckedEntries(t *testing.T) {
	q := &fakeQueue{}
	h := New(q)

	h.Append(mkSrc(1, 0, 100), 0)
	h.Append(mkSrc(1, 100, 100), 1)
	require.Equal(t, 2, h.Len())

	h.AckUpTo(1, 100)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, int64(100), h.EffectiveBytes())
	assert.Equal(t, int64(1), h.NumAcked())
}

func TestRewindAllReturnsUnackedEntriesInOrder(t *testing.T) {
	q := &fakeQueue{}
	h := New(q)

	s1 := mkSrc(2, 0, 50)
	s2 := mkSrc(2, 50, 50)
	h.Append(s1, 0)
	h.Append(s2, 1)

	n := h.RewindAll()
	require.Equal(t, 2, n)
	require.Len(t, q.returned, 2)
	assert.Same(t, s1, q.returned[0])
	assert.Same(t, s2, q.returned[1])
	assert.Equal(t, 0, h.Len())
}

func TestRewindOneReturnsOnlyTheMatchingRecord(t *testing.T) {
	q := &fakeQueue{}
	h := New(q)

	s1 := mkSrc(5, 0, 50)
	s2 := mkSrc(5, 50, 50)
	h.Append(s1, 0)
	h.Append(s2, 1)

	found := h.RewindOne(5, 50)
	assert.True(t, found)
	require.Len(t, q.returned, 1)
	assert.Same(t, s2, q.returned[0])
	assert.Equal(t, 1, h.Len(), "the other in-flight record must be untouched")

	assert.False(t, h.RewindOne(5, 50), "already-returned record cannot be found again")
}

func TestRewindAllTrimsPartiallyAckedBlock(t *testing.T) {
	q := &fakeQueue{}
	h := New(q)

	// Receiver acked bytes [0,120) for file 3, but the sender's block
	// [100,200) was still in flight when the connection dropped.
	h.AckUpTo(3, 120)
	src := mkSrc(3, 100, 100)
	h.Append(src, 0)

	n := h.RewindAll()
	require.Equal(t, 1, n)
	require.Len(t, q.returned, 1)
	trimmed := q.returned[0]
	assert.Equal(t, int64(120), trimmed.Offset)
	assert.Equal(t, int64(80), trimmed.Length)
	assert.False(t, trimmed.FirstChunk)
}

func TestRewindAllSkipsBlockFullyCoveredByAck(t *testing.T) {
	q := &fakeQueue{}
	h := New(q)

	h.AckUpTo(4, 200)
	h.Append(mkSrc(4, 100, 100), 0)

	n := h.RewindAll()
	assert.Equal(t, 0, n)
	assert.Empty(t, q.returned)
}
