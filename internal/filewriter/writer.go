package filewriter

import (
	"io"
	"os"

	"github.com/yousafgill/wdt/internal/config"
	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// Writer streams bytes to an already-open destination file,
// sequentially from a fixed starting offset. Workers hold their own *os.File (from
// Creator.Open) so concurrent blocks of the same file never share a
// file offset.
type Writer struct {
	file      *os.File
	written   int64
	fileSize  int64
	direct    bool
	alignment int64
}

// NewWriter seeks file to offset and prepares to write up to
// fileSize total bytes for this destination file. direct must match
// whether file was opened O_DIRECT (via Creator's direct flag): every
// mid-file block is expected to already be a multiple of
// config.MinAlignmentBytes by construction (SPEC_FULL.md §4.2 splits
// files into fixed BlockSize pieces), so only the file's true final
// block -- identified by FlagLastChunk -- ever needs padding, applied
// in Write and reverted by Close's truncate to fileSize.
func NewWriter(file *os.File, offset, fileSize int64, direct bool) (*Writer, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, wdterrors.NewFileSystemError("seek", file.Name(), wdterrors.FILE_WRITE_ERROR, err)
	}
	return &Writer{file: file, fileSize: fileSize, direct: direct, alignment: config.MinAlignmentBytes}, nil
}

// Write persists data at the writer's current offset. Under O_DIRECT,
// a short final write is padded up to the alignment boundary before
// hitting the syscall; the padding bytes land past the file's true
// announced size and are dropped by Close's truncate.
func (w *Writer) Write(data []byte) error {
	out := data
	if w.direct {
		if rem := int64(len(data)) % w.alignment; rem != 0 {
			padded := make([]byte, int64(len(data))+(w.alignment-rem))
			copy(padded, data)
			out = padded
		}
	}
	n, err := w.file.Write(out)
	if n > len(data) {
		n = len(data)
	}
	w.written += int64(n)
	if err != nil {
		return wdterrors.NewFileSystemError("write", w.file.Name(), wdterrors.FILE_WRITE_ERROR, err)
	}
	return nil
}

// Close finalizes the write session. If isLastChunk is set and the
// receiver has now seen the file's full advertised size, the file is
// truncated to that exact size to drop any preallocation padding
// beyond the last real byte.
func (w *Writer) Close(isLastChunk bool, endOffset int64) error {
	if isLastChunk && endOffset == w.fileSize {
		if err := w.file.Truncate(w.fileSize); err != nil {
			w.file.Close()
			return wdterrors.NewFileSystemError("truncate", w.file.Name(), wdterrors.FILE_WRITE_ERROR, err)
		}
	}
	if err := w.file.Close(); err != nil {
		return wdterrors.NewFileSystemError("close", w.file.Name(), wdterrors.FILE_WRITE_ERROR, err)
	}
	return nil
}
