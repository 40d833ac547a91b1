// Package receiver implements the Receiver runtime described in
// SPEC_FULL.md §4.5: bind N ports, accept one connection per port,
// and drive each through the FILE_CHUNK parse loop, writing bytes via
// the file creator/writer and logging completed ranges for
// resumption.
package receiver

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/yousafgill/wdt/internal/abortctl"
	"github.com/yousafgill/wdt/internal/config"
	"github.com/yousafgill/wdt/internal/core"
	wdterrors "github.com/yousafgill/wdt/internal/errors"
	"github.com/yousafgill/wdt/internal/filewriter"
	"github.com/yousafgill/wdt/internal/progress"
	"github.com/yousafgill/wdt/internal/protocol"
	"github.com/yousafgill/wdt/internal/report"
	"github.com/yousafgill/wdt/internal/throttle"
	"github.com/yousafgill/wdt/internal/translog"
)

// Receiver binds a range of ports and accepts one sender connection
// per port for a single directory transfer.
type Receiver struct {
	req   *core.TransferRequest
	opts  *config.WdtOptions
	abort *abortctl.Checker

	creator   *filewriter.Creator
	log       *translog.Manager
	throttler *throttle.Throttler

	progress *progress.Stats

	listeners  []net.Listener
	boundPorts []int
	snap       *translog.Snapshot
}

// New builds a Receiver for req using opts.
func New(req *core.TransferRequest, opts *config.WdtOptions, abort *abortctl.Checker) *Receiver {
	if abort == nil {
		abort = abortctl.New()
	}
	return &Receiver{
		req:       req,
		opts:      opts,
		abort:     abort,
		creator:   filewriter.New(req.Directory, opts.EnablePreallocation, true, opts.EnableODirect),
		throttler: throttle.New(opts.AvgMBytesPerSec*1024*1024, opts.PeakMBytesPerSec*1024*1024),
	}
}

// Abort returns the checker workers observe.
func (r *Receiver) Abort() *abortctl.Checker { return r.abort }

// SetProgress attaches stats a front-end's progress.Reporter can poll
// while Run serves the transfer. Optional; nil (the default) disables
// tracking.
func (r *Receiver) SetProgress(stats *progress.Stats) { r.progress = stats }

// BoundPorts returns the ports actually bound by the most recent Bind
// call -- which may be fewer than NumPorts requested, per spec.md
// §4.4. Empty until Bind has run, and cleared again by Serve (and so
// by Run).
func (r *Receiver) BoundPorts() []int { return r.boundPorts }

// Bind opens the transfer log, reads any resumable snapshot, and
// binds NumPorts listeners starting at StartPort, recording the ports
// that actually succeeded so a caller can publish the true connection
// URL before a single byte moves. Run calls Bind itself if the
// receiver hasn't been bound yet; a front-end that needs the bound
// ports before printing anything should call Bind explicitly first.
func (r *Receiver) Bind() error {
	if r.req.Directory == "" {
		return wdterrors.NewValidationError("directory", r.req.Directory, "receiver requires a destination directory")
	}

	var err error
	r.log, err = translog.Open(r.req.Directory, translog.Header{
		SenderID:       r.req.TransferID,
		TransferID:     r.req.TransferID,
		BlockSize:      r.opts.BlockSize,
		EnableChecksum: r.opts.EnableChecksum,
	}, translog.FsyncPerFile)
	if err != nil {
		return err
	}

	r.snap = nil
	if r.opts.EnableDownloadResumption {
		snap, err := translog.Read(r.req.Directory)
		if err != nil {
			slog.Warn("failed to read transfer log for resumption", "error", err)
		} else {
			translog.Reconcile(r.req.Directory, snap, snap.RelPaths, snap.MTimes)
			r.snap = snap
		}
	}

	listeners := make([]net.Listener, 0, r.req.NumPorts)
	ports := make([]int, 0, r.req.NumPorts)
	for i := 0; i < r.req.NumPorts; i++ {
		port := r.req.StartPort + i
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			slog.Warn("failed to bind receiver port", "port", port, "error", err)
			continue
		}
		listeners = append(listeners, ln)
		ports = append(ports, port)
	}
	if len(listeners) == 0 {
		r.log.Close()
		return wdterrors.NewNetworkError("listen", r.req.DestHost, wdterrors.CONN_ERROR, nil)
	}
	if len(listeners) < r.req.NumPorts && r.opts.TreatFewerPortsAsError {
		for _, ln := range listeners {
			ln.Close()
		}
		r.log.Close()
		return wdterrors.NewNetworkError("listen", r.req.DestHost, wdterrors.FEWER_PORTS, nil)
	}

	r.listeners = listeners
	r.boundPorts = ports
	return nil
}

// Run binds (if Bind hasn't already been called for this transfer)
// and serves exactly one transfer -- one connection per bound port --
// before returning. Daemon mode is the front-end calling Bind and
// Serve in a loop until the abort checker fires.
func (r *Receiver) Run() (*report.TransferReport, error) {
	if r.listeners == nil {
		if err := r.Bind(); err != nil {
			return nil, err
		}
	}
	return r.Serve()
}

// Serve drives the listeners a prior Bind call established through
// exactly one transfer, then releases them so a later Bind can
// rebind the same ports for the next one (daemon mode).
func (r *Receiver) Serve() (*report.TransferReport, error) {
	listeners := r.listeners
	snap := r.snap
	r.listeners = nil
	r.boundPorts = nil
	defer r.log.Close()

	rep := report.NewTransferReport()
	var wg sync.WaitGroup
	for _, ln := range listeners {
		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			defer ln.Close()
			snapshot := r.serveOne(ln, snap)
			rep.AddThread(snapshot)
		}(ln)
	}
	wg.Wait()
	rep.Finish()
	return rep, nil
}

func (r *Receiver) serveOne(ln net.Listener, snap *translog.Snapshot) report.Snapshot {
	stats := report.NewThreadStats()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		accepted <- acceptResult{conn, err}
	}()

	select {
	case res := <-accepted:
		if res.err != nil {
			stats.SetCode(wdterrors.CONN_ERROR)
			return stats.Snapshot()
		}
		return r.handleConnection(res.conn, snap, stats)
	case <-r.abort.Done():
		ln.Close()
		stats.SetCode(r.abort.Code())
		return stats.Snapshot()
	}
}

func (r *Receiver) handleConnection(conn net.Conn, snap *translog.Snapshot, stats *report.ThreadStats) report.Snapshot {
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
	}

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	settings, err := r.negotiate(reader, writer, snap)
	if err != nil {
		slog.Error("negotiation failed", "error", err)
		stats.SetCode(wdterrors.CodeOf(err))
		return stats.Snapshot()
	}

	cs := &connState{writers: make(map[string]*filewriter.Writer), next: make(map[string]int64)}
	defer cs.closeAll()

	for {
		if r.abort.IsSet() {
			stats.SetCode(r.abort.Code())
			return stats.Snapshot()
		}

		conn.SetReadDeadline(time.Now().Add(r.opts.ReadTimeout))
		op, err := protocol.ReadOpcode(reader)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			stats.SetCode(wdterrors.CodeOf(err))
			return stats.Snapshot()
		}

		switch op {
		case protocol.OpFileChunk:
			if err := r.handleFileChunk(reader, writer, settings, cs, stats); err != nil {
				slog.Error("file chunk handling failed", "error", err)
				stats.SetCode(wdterrors.CodeOf(err))
				return stats.Snapshot()
			}
		case protocol.OpDone:
			// Per-block integrity is settled block-by-block via
			// BLOCK_FOOTER/BLOCK_NAK as each FILE_CHUNK arrives, so
			// there is nothing left for DONE to check.
			if _, err := protocol.ReadDone(reader); err != nil {
				stats.SetCode(wdterrors.CodeOf(err))
			}
			return stats.Snapshot()
		case protocol.OpAbort:
			code, _, _ := protocol.ReadAbort(reader)
			stats.SetCode(wdterrors.Code(code))
			return stats.Snapshot()
		case protocol.OpErrCmd:
			msg, _ := protocol.ReadErrCmd(reader)
			slog.Warn("sender reported transient error", "message", msg)
		default:
			stats.SetCode(wdterrors.PROTOCOL_ERROR)
			return stats.Snapshot()
		}
	}
}

// connState holds the per-connection accumulators a receiver worker
// needs across many FILE_CHUNK frames: one Writer per file currently
// open on this connection, and the file offset each one writes next.
type connState struct {
	writers map[string]*filewriter.Writer
	next    map[string]int64
}

func (cs *connState) closeAll() {
	for _, w := range cs.writers {
		w.Close(false, 0)
	}
}

func (r *Receiver) handleFileChunk(reader *bufio.Reader, writer *bufio.Writer, settings *protocol.Settings, cs *connState, stats *report.ThreadStats) error {
	hdr, err := protocol.ReadFileChunkHeader(reader)
	if err != nil {
		return err
	}
	body := make([]byte, hdr.Length)
	if _, err := io.ReadFull(reader, body); err != nil {
		return wdterrors.NewNetworkError("read_chunk_body", hdr.RelPath, wdterrors.SOCKET_READ_ERROR, err)
	}

	if settings.EnableChecksum {
		op, err := protocol.ReadOpcode(reader)
		if err != nil {
			return err
		}
		if op != protocol.OpBlockFooter {
			return protocol.UnexpectedOpcode("block_footer", op)
		}
		want, err := protocol.ReadBlockFooter(reader)
		if err != nil {
			return err
		}
		if got := protocol.Checksum(body); got != want {
			slog.Warn("block checksum mismatch, discarding and requesting resend", "path", hdr.RelPath, "seq", hdr.Seq, "offset", hdr.Offset, "want", want, "got", got)
			stats.RecordSource(report.SourceStats{FailedAttempts: 1})
			return protocol.WriteBlockNak(writer, &protocol.BlockNak{Seq: hdr.Seq, Offset: hdr.Offset})
		}
	}

	w, ok := cs.writers[hdr.RelPath]
	if ok && cs.next[hdr.RelPath] != hdr.Offset {
		// Blocks in between went over other connections, so this
		// writer's position is not hdr.Offset: reopen at the block.
		w.Close(false, 0)
		delete(cs.writers, hdr.RelPath)
		if w, err = r.openWriter(hdr); err != nil {
			return err
		}
		cs.writers[hdr.RelPath] = w
	}
	if !ok {
		w, err = r.openWriter(hdr)
		if err != nil {
			return err
		}
		cs.writers[hdr.RelPath] = w
		if err := r.log.AppendFileCreated(hdr.Seq, hdr.RelPath, hdr.FileSize, r.statMTime(hdr.RelPath)); err != nil {
			return err
		}
	}

	if err := w.Write(body); err != nil {
		return err
	}
	cs.next[hdr.RelPath] = hdr.Offset + hdr.Length
	if err := r.log.AppendBlockWritten(hdr.Seq, hdr.Offset, hdr.Length); err != nil {
		return err
	}
	if r.progress != nil {
		r.progress.UpdateTransferred(hdr.Length)
	}

	endOffset := hdr.Offset + hdr.Length
	isLast := hdr.Flags&protocol.FlagLastChunk != 0
	if isLast {
		if err := w.Close(true, endOffset); err != nil {
			return err
		}
		delete(cs.writers, hdr.RelPath)
		// Re-log the file's true final size/mtime now that writing and
		// the padding truncate in Close have both happened, so a future
		// Reconcile compares against the mtime this file actually ends
		// up with rather than the one it had when first created.
		if err := r.log.AppendFileResized(hdr.Seq, hdr.RelPath, endOffset, r.statMTime(hdr.RelPath)); err != nil {
			return err
		}
	}

	stats.RecordSource(report.SourceStats{DataBytes: hdr.Length, EffectiveBytes: hdr.Length, Code: wdterrors.OK})
	if isLast {
		stats.RecordFileComplete()
	}

	return protocol.WriteAck(writer, &protocol.Ack{Seq: hdr.Seq, Offset: endOffset})
}

// openWriter opens the destination file backing hdr's block. A block
// that starts mid-file (offset > 0, no FirstChunk flag) means the
// sender is resuming into a file this receiver already partially
// owns; anything else is a fresh (or freshly re-)created destination.
func (r *Receiver) openWriter(hdr *protocol.FileChunkHeader) (*filewriter.Writer, error) {
	var f *os.File
	var err error
	if hdr.Offset > 0 && hdr.Flags&protocol.FlagFirstChunk == 0 {
		f, err = r.creator.ReopenForResume(hdr.RelPath)
	} else {
		f, err = r.creator.Open(hdr.RelPath, hdr.FileSize)
	}
	if err != nil {
		return nil, err
	}
	w, err := filewriter.NewWriter(f, hdr.Offset, hdr.FileSize, r.opts.EnableODirect)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (r *Receiver) negotiate(reader *bufio.Reader, writer *bufio.Writer, snap *translog.Snapshot) (*protocol.Settings, error) {
	op, err := protocol.ReadOpcode(reader)
	if err != nil {
		return nil, err
	}
	if op != protocol.OpSettings {
		return nil, protocol.UnexpectedOpcode("negotiate", op)
	}
	settings, err := protocol.ReadSettings(reader)
	if err != nil {
		return nil, err
	}
	if settings.ProtocolVersion != protocol.Version {
		slog.Error("protocol version mismatch", "sender_version", settings.ProtocolVersion, "receiver_version", protocol.Version)
		protocol.WriteAbort(writer, byte(wdterrors.VERSION_MISMATCH), protocol.Version)
		return nil, wdterrors.NewProtocolError("negotiate", "protocol version mismatch", wdterrors.VERSION_MISMATCH, nil)
	}
	if err := protocol.WriteSettings(writer, settings); err != nil {
		return nil, err
	}

	if settings.EnableDownloadResumption {
		var owned []protocol.OwnedFile
		if snap != nil {
			owned = buildOwnedFiles(snap)
		}
		if err := protocol.WriteFileChunksInfo(writer, owned); err != nil {
			return nil, err
		}
	}
	return settings, nil
}

func buildOwnedFiles(snap *translog.Snapshot) []protocol.OwnedFile {
	files := make([]protocol.OwnedFile, 0, len(snap.Owned))
	for seqID, ranges := range snap.Owned {
		if snap.Invalidated[seqID] {
			continue
		}
		relPath, ok := snap.RelPaths[seqID]
		if !ok {
			continue
		}
		wireRanges := make([]protocol.Range, len(ranges))
		for i, rg := range ranges {
			wireRanges[i] = protocol.Range{Start: rg.Start, End: rg.End}
		}
		files = append(files, protocol.OwnedFile{
			RelPath: relPath,
			Size:    snap.Sizes[seqID],
			Ranges:  wireRanges,
		})
	}
	return files
}

// statMTime returns relPath's current on-disk mtime under the
// destination directory, or the zero time if it can't be stat'd (e.g.
// a resumed file the sender is about to reopen).
func (r *Receiver) statMTime(relPath string) time.Time {
	info, err := os.Stat(filepath.Join(r.req.Directory, relPath))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var te timeouter
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
