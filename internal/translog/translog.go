// Package translog implements the receiver's crash-safe transfer log
// described in SPEC_FULL.md §4.8: an append-only file recording file
// sizes and completed byte ranges, replayed at startup to support
// download resumption.
package translog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yousafgill/wdt/internal/core"
	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

const (
	magic         uint32 = 0x57445421 // "WDT!"
	logVersion    uint32 = 1
	logFileName          = ".wdt_transfer_log"
)

// EntryKind tags a log entry's payload, matching spec.md §3's
// TransferLogEntry union: header, file-invalidated, file-resized,
// block-written.
type EntryKind byte

const (
	KindHeader          EntryKind = 1
	KindFileCreated     EntryKind = 2
	KindFileInvalidated EntryKind = 3
	KindFileResized     EntryKind = 4
	KindBlockWritten    EntryKind = 5
)

// Header is the fixed preamble written once at log creation.
type Header struct {
	SenderID       string `json:"sender_id"`
	TransferID     string `json:"transfer_id"`
	BlockSize      int64  `json:"block_size"`
	EnableChecksum bool   `json:"enable_checksum"`
}

// Entry is one appended log record. RelPath and MTime are only
// meaningful (and only written) on KindFileCreated/KindFileResized
// entries. RelPath lets a later run's Read map a logged sequence ID
// back to the file it named, since sequence IDs are only stable
// within one enumeration; MTime lets Reconcile detect a file that was
// touched out of band between runs, alongside the size check.
type Entry struct {
	Kind    EntryKind
	SeqID   int64
	Offset  int64
	Length  int64
	Size    int64
	MTime   time.Time
	RelPath string
}

// FsyncGranularity controls how often Manager flushes durably to disk.
type FsyncGranularity int

const (
	FsyncPerBlock FsyncGranularity = iota
	FsyncPerFile
)

// Manager owns the on-disk log file for one receive directory. Every
// receiver worker appends through it, serialized by its mutex;
// resumption reads a frozen snapshot taken before any append starts.
type Manager struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	writer      *bufio.Writer
	granularity FsyncGranularity
	pendingSync int
}

// Open creates or appends to the transfer log under destDir, writing
// a fresh header if the log is new.
func Open(destDir string, hdr Header, granularity FsyncGranularity) (*Manager, error) {
	path := filepath.Join(destDir, logFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, wdterrors.NewFileSystemError("open", path, wdterrors.FILE_WRITE_ERROR, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wdterrors.NewFileSystemError("stat", path, wdterrors.FILE_WRITE_ERROR, err)
	}

	m := &Manager{path: path, file: f, writer: bufio.NewWriter(f), granularity: granularity}
	if info.Size() == 0 {
		if err := m.writeHeader(hdr); err != nil {
			f.Close()
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) writeHeader(hdr Header) error {
	body, err := json.Marshal(hdr)
	if err != nil {
		return wdterrors.NewProtocolError("marshal_header", "transfer log header", wdterrors.ERROR, err)
	}
	if err := binary.Write(m.writer, binary.LittleEndian, magic); err != nil {
		return wdterrors.NewFileSystemError("write_header", m.path, wdterrors.FILE_WRITE_ERROR, err)
	}
	if err := binary.Write(m.writer, binary.LittleEndian, logVersion); err != nil {
		return wdterrors.NewFileSystemError("write_header", m.path, wdterrors.FILE_WRITE_ERROR, err)
	}
	if err := binary.Write(m.writer, binary.LittleEndian, uint32(len(body))); err != nil {
		return wdterrors.NewFileSystemError("write_header", m.path, wdterrors.FILE_WRITE_ERROR, err)
	}
	if _, err := m.writer.Write(body); err != nil {
		return wdterrors.NewFileSystemError("write_header", m.path, wdterrors.FILE_WRITE_ERROR, err)
	}
	return m.flush(true)
}

// AppendBlockWritten records a persisted, checksum-verified block.
func (m *Manager) AppendBlockWritten(seqID, offset, length int64) error {
	return m.append(Entry{Kind: KindBlockWritten, SeqID: seqID, Offset: offset, Length: length})
}

// AppendFileCreated records a newly created destination file's
// relative path, announced size and creation-time mtime, used to
// detect stale entries and to resolve seqID back to a path on
// resumption.
func (m *Manager) AppendFileCreated(seqID int64, relPath string, size int64, mtime time.Time) error {
	return m.append(Entry{Kind: KindFileCreated, SeqID: seqID, Size: size, MTime: mtime, RelPath: relPath})
}

// AppendFileResized records a file's current on-disk size and mtime,
// either because the sender re-stated a file that grew or shrank
// mid-transfer, or because the receiver just finished writing it and
// wants Reconcile to compare against its true final mtime rather than
// the stale one captured at creation.
func (m *Manager) AppendFileResized(seqID int64, relPath string, size int64, mtime time.Time) error {
	return m.append(Entry{Kind: KindFileResized, SeqID: seqID, Size: size, MTime: mtime, RelPath: relPath})
}

// AppendFileInvalidated marks every previously logged range for seqID
// as unusable, forcing a full re-transfer of that file.
func (m *Manager) AppendFileInvalidated(seqID int64) error {
	return m.append(Entry{Kind: KindFileInvalidated, SeqID: seqID})
}

func (m *Manager) append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, 0, 49+len(e.RelPath))
	buf = append(buf, byte(e.Kind))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.SeqID))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Offset))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Length))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Size))
	var mtimeNano int64
	if !e.MTime.IsZero() {
		mtimeNano = e.MTime.UnixNano()
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(mtimeNano))
	if e.RelPath != "" {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.RelPath)))
		buf = append(buf, e.RelPath...)
	}

	if err := binary.Write(m.writer, binary.LittleEndian, uint32(len(buf))); err != nil {
		return wdterrors.NewFileSystemError("append", m.path, wdterrors.FILE_WRITE_ERROR, err)
	}
	if _, err := m.writer.Write(buf); err != nil {
		return wdterrors.NewFileSystemError("append", m.path, wdterrors.FILE_WRITE_ERROR, err)
	}

	m.pendingSync++
	mustSync := m.granularity == FsyncPerBlock || e.Kind != KindBlockWritten
	return m.flush(mustSync)
}

func (m *Manager) flush(fsync bool) error {
	if err := m.writer.Flush(); err != nil {
		return wdterrors.NewFileSystemError("flush", m.path, wdterrors.FILE_WRITE_ERROR, err)
	}
	if fsync {
		if err := m.file.Sync(); err != nil {
			return wdterrors.NewFileSystemError("fsync", m.path, wdterrors.FILE_WRITE_ERROR, err)
		}
		m.pendingSync = 0
	}
	return nil
}

// Close flushes and closes the log file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.flush(true); err != nil {
		return err
	}
	return m.file.Close()
}

// Snapshot is the reconciled view of a transfer log: a set of owned
// byte ranges per file sequence ID, plus files fully invalidated.
type Snapshot struct {
	Header      Header
	Owned       map[int64][]core.ByteRange
	Sizes       map[int64]int64
	MTimes      map[int64]time.Time
	RelPaths    map[int64]string
	Invalidated map[int64]bool
}

// Read replays destDir's transfer log into a Snapshot without holding
// it open for further appends -- used both by resumption and by the
// parse-and-print diagnostic mode.
func Read(destDir string) (*Snapshot, error) {
	path := filepath.Join(destDir, logFileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return nil, wdterrors.NewFileSystemError("open", path, wdterrors.FILE_READ_ERROR, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	snap := emptySnapshot()

	var gotMagic, gotVersion uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		if err == io.EOF {
			return snap, nil
		}
		return nil, wdterrors.NewProtocolError("read_header", "transfer log", wdterrors.PROTOCOL_ERROR, err)
	}
	if gotMagic != magic {
		return nil, wdterrors.NewProtocolError("read_header", "bad transfer log magic", wdterrors.PROTOCOL_ERROR, nil)
	}
	if err := binary.Read(r, binary.LittleEndian, &gotVersion); err != nil {
		return nil, wdterrors.NewProtocolError("read_header", "transfer log", wdterrors.PROTOCOL_ERROR, err)
	}
	var hdrLen uint32
	if err := binary.Read(r, binary.LittleEndian, &hdrLen); err != nil {
		return nil, wdterrors.NewProtocolError("read_header", "transfer log", wdterrors.PROTOCOL_ERROR, err)
	}
	hdrBody := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrBody); err != nil {
		return nil, wdterrors.NewProtocolError("read_header", "transfer log", wdterrors.PROTOCOL_ERROR, err)
	}
	if err := json.Unmarshal(hdrBody, &snap.Header); err != nil {
		return nil, wdterrors.NewProtocolError("read_header", "transfer log", wdterrors.PROTOCOL_ERROR, err)
	}

	for {
		var entryLen uint32
		if err := binary.Read(r, binary.LittleEndian, &entryLen); err != nil {
			if err == io.EOF {
				break
			}
			// A truncated final entry (crash mid-append) is dropped,
			// not fatal: everything fully written so far still applies.
			break
		}
		body := make([]byte, entryLen)
		if _, err := io.ReadFull(r, body); err != nil {
			break
		}
		applyEntry(snap, body)
	}
	return snap, nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Owned:       map[int64][]core.ByteRange{},
		Sizes:       map[int64]int64{},
		MTimes:      map[int64]time.Time{},
		RelPaths:    map[int64]string{},
		Invalidated: map[int64]bool{},
	}
}

func applyEntry(snap *Snapshot, body []byte) {
	if len(body) < 41 {
		return
	}
	kind := EntryKind(body[0])
	seqID := int64(binary.LittleEndian.Uint64(body[1:9]))
	offset := int64(binary.LittleEndian.Uint64(body[9:17]))
	length := int64(binary.LittleEndian.Uint64(body[17:25]))
	size := int64(binary.LittleEndian.Uint64(body[25:33]))
	mtimeNano := int64(binary.LittleEndian.Uint64(body[33:41]))

	relPath := ""
	if len(body) >= 45 {
		n := binary.LittleEndian.Uint32(body[41:45])
		if len(body) >= 45+int(n) {
			relPath = string(body[45 : 45+n])
		}
	}

	switch kind {
	case KindFileCreated, KindFileResized:
		snap.Sizes[seqID] = size
		if mtimeNano != 0 {
			snap.MTimes[seqID] = time.Unix(0, mtimeNano)
		}
		if relPath != "" {
			snap.RelPaths[seqID] = relPath
		}
		delete(snap.Invalidated, seqID)
	case KindFileInvalidated:
		snap.Invalidated[seqID] = true
		delete(snap.Owned, seqID)
	case KindBlockWritten:
		if snap.Invalidated[seqID] {
			return
		}
		snap.Owned[seqID] = append(snap.Owned[seqID], core.ByteRange{Start: offset, End: offset + length})
	}
}

// Reconcile stats each file referenced in the snapshot under destDir
// and drops (invalidates) any whose current size or mtime disagrees
// with what the log recorded, per spec.md §4.7 resumption semantics.
func Reconcile(destDir string, snap *Snapshot, relPathOf map[int64]string, logMTime map[int64]time.Time) {
	for seqID, relPath := range relPathOf {
		if snap.Invalidated[seqID] {
			continue
		}
		info, err := os.Stat(filepath.Join(destDir, relPath))
		if err != nil {
			snap.Invalidated[seqID] = true
			delete(snap.Owned, seqID)
			continue
		}
		if want, ok := snap.Sizes[seqID]; ok && info.Size() != want {
			snap.Invalidated[seqID] = true
			delete(snap.Owned, seqID)
			continue
		}
		if want, ok := logMTime[seqID]; ok && !info.ModTime().Equal(want) {
			snap.Invalidated[seqID] = true
			delete(snap.Owned, seqID)
		}
	}
}
