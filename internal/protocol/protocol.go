// Package protocol implements wdt's wire codec: a sequence of framed
// opcodes over a raw byte stream, per SPEC_FULL.md §4.1. Multi-byte
// integers are little-endian; lengths and offsets use the standard
// LEB128-style variable-length unsigned encoding, which is exactly
// what encoding/binary's {Put,Read}Uvarint already implement.
package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// Version is the protocol version this build implements. It matches
// the module's minor version per SPEC_FULL.md §4.1.
const Version = 1

// Opcodes: the nine SPEC_FULL.md §4.1 lists, plus BLOCK_FOOTER and
// BLOCK_NAK for per-block checksum verification.
const (
	OpSettings byte = iota + 1
	OpFileChunk
	OpFileChunksInfo
	OpAck
	OpSizeCmd
	OpAbort
	OpDone
	OpWait
	OpErrCmd
	OpBlockFooter
	OpBlockNak
)

// crc32Table is the Castagnoli polynomial table, which Go's hash/crc32
// computes with hardware CRC32 instructions on amd64 and arm64 when
// available (crc32.MakeTable(crc32.Castagnoli) picks the accelerated
// implementation transparently) -- this is the "fast non-cryptographic
// 32-bit checksum, hardware-accelerated" spec.md §4.1 asks for.
var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the frame checksum used to cover FILE_CHUNK bodies.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// NewChecksumHash returns a rolling CRC32C accumulator, reset once per
// block: a sender streams a block's pieces through it as they are read
// off disk, then reads Sum32 for the block's BLOCK_FOOTER frame.
func NewChecksumHash() hash.Hash32 {
	return crc32.New(crc32Table)
}

// EstimatedHeaderSize is a rough per-frame overhead used only for
// reporting header-bytes-sent statistics; actual varint framing is
// variable-length so this is an approximation, not a wire constant.
const EstimatedHeaderSize = 32

// FileChunkFlags bits, carried in FILE_CHUNK's flags varint.
const (
	FlagFirstChunk uint64 = 1 << 0
	FlagLastChunk  uint64 = 1 << 1
)

// --- low-level primitives ---

func writeByte(w *bufio.Writer, b byte) error {
	if err := w.WriteByte(b); err != nil {
		return wdterrors.NewProtocolError("write_byte", "failed to write byte", wdterrors.SOCKET_WRITE_ERROR, err)
	}
	return nil
}

func readOpcode(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, wdterrors.NewProtocolError("read_opcode", "failed to read opcode", wdterrors.SOCKET_READ_ERROR, err)
	}
	return b, nil
}

func writeUvarint(w *bufio.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	if _, err := w.Write(buf[:n]); err != nil {
		return wdterrors.NewProtocolError("write_varint", "failed to write varint", wdterrors.SOCKET_WRITE_ERROR, err)
	}
	return nil
}

func readUvarint(r *bufio.Reader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, wdterrors.NewProtocolError("read_varint", "failed to read varint", wdterrors.SOCKET_READ_ERROR, err)
	}
	return v, nil
}

func writeString(w *bufio.Writer, s string) error {
	if err := writeUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	if _, err := w.WriteString(s); err != nil {
		return wdterrors.NewProtocolError("write_string", "failed to write string", wdterrors.SOCKET_WRITE_ERROR, err)
	}
	return nil
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", wdterrors.NewProtocolError("read_string", "failed to read string body", wdterrors.SOCKET_READ_ERROR, err)
	}
	return string(buf), nil
}

func writeBool(w *bufio.Writer, v bool) error {
	if v {
		return writeByte(w, 1)
	}
	return writeByte(w, 0)
}

func readBool(r *bufio.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, wdterrors.NewProtocolError("read_bool", "failed to read bool", wdterrors.SOCKET_READ_ERROR, err)
	}
	return b != 0, nil
}

// Flush flushes the writer's buffer, wrapping any I/O error.
func Flush(w *bufio.Writer) error {
	if err := w.Flush(); err != nil {
		return wdterrors.NewProtocolError("flush", "failed to flush writer", wdterrors.SOCKET_WRITE_ERROR, err)
	}
	return nil
}

// ReadOpcode reads and returns the next frame's opcode byte.
func ReadOpcode(r *bufio.Reader) (byte, error) {
	return readOpcode(r)
}

// --- SETTINGS ---

// Settings is exchanged first by the sender and echoed (with any
// constrained-down values) by the receiver.
type Settings struct {
	ProtocolVersion          int
	SenderID                 string
	TransferID               string
	ReadTimeoutMs            int64
	WriteTimeoutMs           int64
	EnableChecksum           bool
	EnableDownloadResumption bool
	BlockSize                int64
}

func WriteSettings(w *bufio.Writer, s *Settings) error {
	if err := writeByte(w, OpSettings); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(s.ProtocolVersion)); err != nil {
		return err
	}
	if err := writeString(w, s.SenderID); err != nil {
		return err
	}
	if err := writeString(w, s.TransferID); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(s.ReadTimeoutMs)); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(s.WriteTimeoutMs)); err != nil {
		return err
	}
	if err := writeBool(w, s.EnableChecksum); err != nil {
		return err
	}
	if err := writeBool(w, s.EnableDownloadResumption); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(s.BlockSize)); err != nil {
		return err
	}
	return Flush(w)
}

func ReadSettings(r *bufio.Reader) (*Settings, error) {
	version, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	senderID, err := readString(r)
	if err != nil {
		return nil, err
	}
	transferID, err := readString(r)
	if err != nil {
		return nil, err
	}
	readTimeout, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	checksum, err := readBool(r)
	if err != nil {
		return nil, err
	}
	resumption, err := readBool(r)
	if err != nil {
		return nil, err
	}
	blockSize, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	return &Settings{
		ProtocolVersion:          int(version),
		SenderID:                 senderID,
		TransferID:               transferID,
		ReadTimeoutMs:            int64(readTimeout),
		WriteTimeoutMs:           int64(writeTimeout),
		EnableChecksum:           checksum,
		EnableDownloadResumption: resumption,
		BlockSize:                int64(blockSize),
	}, nil
}

// --- FILE_CHUNK ---

// FileChunkHeader is FILE_CHUNK's fixed-shape prefix; the body of
// Length raw bytes follows immediately on the wire and is streamed by
// the caller rather than buffered here.
type FileChunkHeader struct {
	Seq      int64
	FileSize int64
	Offset   int64
	Length   int64
	Flags    uint64
	RelPath  string
}

func WriteFileChunkHeader(w *bufio.Writer, h *FileChunkHeader) error {
	if err := writeByte(w, OpFileChunk); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(h.Seq)); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(h.FileSize)); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(h.Offset)); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(h.Length)); err != nil {
		return err
	}
	if err := writeUvarint(w, h.Flags); err != nil {
		return err
	}
	return writeString(w, h.RelPath)
}

func ReadFileChunkHeader(r *bufio.Reader) (*FileChunkHeader, error) {
	seq, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	fileSize, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	offset, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	length, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	flags, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	relPath, err := readString(r)
	if err != nil {
		return nil, err
	}
	return &FileChunkHeader{
		Seq:      int64(seq),
		FileSize: int64(fileSize),
		Offset:   int64(offset),
		Length:   int64(length),
		Flags:    flags,
		RelPath:  relPath,
	}, nil
}

// --- FILE_CHUNKS_INFO (resumption) ---

// OwnedFile describes one file the receiver already (partially) owns.
type OwnedFile struct {
	RelPath string
	Size    int64
	Ranges  []Range
}

// Range is a half-open [Start, End) byte interval on the wire.
type Range struct {
	Start int64
	End   int64
}

func WriteFileChunksInfo(w *bufio.Writer, files []OwnedFile) error {
	if err := writeByte(w, OpFileChunksInfo); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(len(files))); err != nil {
		return err
	}
	for _, f := range files {
		if err := writeString(w, f.RelPath); err != nil {
			return err
		}
		if err := writeUvarint(w, uint64(f.Size)); err != nil {
			return err
		}
		if err := writeUvarint(w, uint64(len(f.Ranges))); err != nil {
			return err
		}
		for _, rg := range f.Ranges {
			if err := writeUvarint(w, uint64(rg.Start)); err != nil {
				return err
			}
			if err := writeUvarint(w, uint64(rg.End)); err != nil {
				return err
			}
		}
	}
	return Flush(w)
}

func ReadFileChunksInfo(r *bufio.Reader) ([]OwnedFile, error) {
	count, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	files := make([]OwnedFile, 0, count)
	for i := uint64(0); i < count; i++ {
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		size, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		numRanges, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		ranges := make([]Range, 0, numRanges)
		for j := uint64(0); j < numRanges; j++ {
			start, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			end, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, Range{Start: int64(start), End: int64(end)})
		}
		files = append(files, OwnedFile{RelPath: path, Size: int64(size), Ranges: ranges})
	}
	return files, nil
}

// --- ACK ---

// Ack carries the last-persisted seq number and byte offset for one
// file, sent periodically by the receiver.
type Ack struct {
	Seq    int64
	Offset int64
}

func WriteAck(w *bufio.Writer, a *Ack) error {
	if err := writeByte(w, OpAck); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(a.Seq)); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(a.Offset)); err != nil {
		return err
	}
	return Flush(w)
}

func ReadAck(r *bufio.Reader) (*Ack, error) {
	seq, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	offset, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	return &Ack{Seq: int64(seq), Offset: int64(offset)}, nil
}

// --- SIZE_CMD ---

func WriteSizeCmd(w *bufio.Writer, totalBytes int64) error {
	if err := writeByte(w, OpSizeCmd); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(totalBytes)); err != nil {
		return err
	}
	return Flush(w)
}

func ReadSizeCmd(r *bufio.Reader) (int64, error) {
	v, err := readUvarint(r)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// --- ABORT ---

func WriteAbort(w *bufio.Writer, errorCode byte, protocolVersion int) error {
	if err := writeByte(w, OpAbort); err != nil {
		return err
	}
	if err := writeByte(w, errorCode); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(protocolVersion)); err != nil {
		return err
	}
	return Flush(w)
}

func ReadAbort(r *bufio.Reader) (errorCode byte, protocolVersion int, err error) {
	errorCode, err = r.ReadByte()
	if err != nil {
		return 0, 0, wdterrors.NewProtocolError("read_abort", "failed to read error code", wdterrors.SOCKET_READ_ERROR, err)
	}
	v, err := readUvarint(r)
	if err != nil {
		return 0, 0, err
	}
	return errorCode, int(v), nil
}

// --- DONE ---

// Done is the final frame on a connection. Per-block integrity is
// handled block-by-block via BLOCK_FOOTER/BLOCK_NAK as each FILE_CHUNK
// is received, so DONE itself carries no aggregate checksum -- there
// is nothing left uncovered for it to check at connection close.
type Done struct {
	TotalBlocks int64
}

func WriteDone(w *bufio.Writer, d *Done) error {
	if err := writeByte(w, OpDone); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(d.TotalBlocks)); err != nil {
		return err
	}
	return Flush(w)
}

func ReadDone(r *bufio.Reader) (*Done, error) {
	totalBlocks, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	return &Done{TotalBlocks: int64(totalBlocks)}, nil
}

// --- BLOCK_FOOTER ---

// WriteBlockFooter writes the CRC32C accumulated over one FILE_CHUNK's
// body, sent immediately following the body when EnableChecksum is on
// -- mirroring the original implementation's per-block FOOTER_CMD
// rather than covering a whole connection's byte stream.
func WriteBlockFooter(w *bufio.Writer, checksum uint32) error {
	if err := writeByte(w, OpBlockFooter); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], checksum)
	if _, err := w.Write(buf[:]); err != nil {
		return wdterrors.NewProtocolError("write_block_footer", "failed to write block checksum", wdterrors.SOCKET_WRITE_ERROR, err)
	}
	return Flush(w)
}

func ReadBlockFooter(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, wdterrors.NewProtocolError("read_block_footer", "failed to read block checksum", wdterrors.SOCKET_READ_ERROR, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// --- BLOCK_NAK ---

// BlockNak identifies one FILE_CHUNK, by file sequence ID and start
// offset, whose BLOCK_FOOTER checksum failed to verify: the receiver
// discarded it without writing or logging it, and the sender must
// treat it as never sent.
type BlockNak struct {
	Seq    int64
	Offset int64
}

func WriteBlockNak(w *bufio.Writer, n *BlockNak) error {
	if err := writeByte(w, OpBlockNak); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(n.Seq)); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(n.Offset)); err != nil {
		return err
	}
	return Flush(w)
}

func ReadBlockNak(r *bufio.Reader) (*BlockNak, error) {
	seq, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	offset, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	return &BlockNak{Seq: int64(seq), Offset: int64(offset)}, nil
}

// --- WAIT ---

func WriteWait(w *bufio.Writer) error {
	if err := writeByte(w, OpWait); err != nil {
		return err
	}
	return Flush(w)
}

// --- ERR_CMD ---

func WriteErrCmd(w *bufio.Writer, message string) error {
	if err := writeByte(w, OpErrCmd); err != nil {
		return err
	}
	if err := writeString(w, message); err != nil {
		return err
	}
	return Flush(w)
}

func ReadErrCmd(r *bufio.Reader) (string, error) {
	return readString(r)
}

// UnexpectedOpcode builds a protocol error for an opcode the caller
// wasn't prepared to handle in its current state.
func UnexpectedOpcode(context string, got byte) error {
	return wdterrors.NewProtocolError(context, fmt.Sprintf("unexpected opcode %d", got), wdterrors.PROTOCOL_ERROR, nil)
}
