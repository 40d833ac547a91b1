// Package sender implements the Sender runtime described in
// SPEC_FULL.md §4.4: N worker goroutines, each owning one TCP
// connection to a receiver port, draining a shared source queue and
// framing bytes onto the wire.
package sender

import (
	"bufio"
	"errors"
	"hash"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yousafgill/wdt/internal/abortctl"
	"github.com/yousafgill/wdt/internal/config"
	"github.com/yousafgill/wdt/internal/core"
	wdterrors "github.com/yousafgill/wdt/internal/errors"
	"github.com/yousafgill/wdt/internal/filesource"
	"github.com/yousafgill/wdt/internal/history"
	"github.com/yousafgill/wdt/internal/progress"
	"github.com/yousafgill/wdt/internal/protocol"
	"github.com/yousafgill/wdt/internal/report"
	"github.com/yousafgill/wdt/internal/sourcequeue"
	"github.com/yousafgill/wdt/internal/throttle"
)

// Sender drives one directory transfer to a Receiver.
type Sender struct {
	req   *core.TransferRequest
	opts  *config.WdtOptions
	abort *abortctl.Checker

	queue     *sourcequeue.Queue
	throttler *throttle.Throttler
	seqCtr    int64

	progress *progress.Stats
}

// New builds a Sender for req using opts. abort may be nil, in which
// case the Sender creates its own.
func New(req *core.TransferRequest, opts *config.WdtOptions, abort *abortctl.Checker) *Sender {
	if abort == nil {
		abort = abortctl.New()
	}
	return &Sender{
		req:       req,
		opts:      opts,
		abort:     abort,
		queue:     sourcequeue.New(opts.BlockSize),
		throttler: throttle.New(opts.AvgMBytesPerSec*1024*1024, opts.PeakMBytesPerSec*1024*1024),
	}
}

// Abort returns the checker workers observe, so a caller (e.g. a
// signal handler in the front-end) can request early termination.
func (s *Sender) Abort() *abortctl.Checker { return s.abort }

// SetProgress attaches stats a front-end's progress.Reporter can poll
// while Transfer runs. Optional; nil (the default) disables tracking.
func (s *Sender) SetProgress(stats *progress.Stats) { s.progress = stats }

// Transfer connects to every port in the request's range, negotiates
// settings and resumption on the first connection, then runs one
// worker per port until the queue drains or the transfer is aborted.
func (s *Sender) Transfer() (*report.TransferReport, error) {
	if err := s.req.Init(); err != nil {
		return nil, err
	}
	stop := s.abort.StartAbortAfter(s.opts.AbortAfter)
	defer stop()

	rep := report.NewTransferReport()

	conns := make([]*connection, 0, s.req.NumPorts)
	var negotiated bool
	var handshakeErr error
	for i := 0; i < s.req.NumPorts; i++ {
		port := s.req.StartPort + i
		conn, err := s.dial(port)
		if err != nil {
			slog.Warn("failed to connect to receiver port", "port", port, "error", err)
			continue
		}
		if !negotiated {
			if err := s.handshake(conn); err != nil {
				slog.Error("handshake failed", "port", port, "error", err)
				conn.raw.Close()
				handshakeErr = err
				continue
			}
			negotiated = true
			s.startEnumeration(conn.ownedRanges)
		} else {
			if err := s.sendSettingsOnly(conn); err != nil {
				slog.Error("settings exchange failed", "port", port, "error", err)
				conn.raw.Close()
				continue
			}
		}
		conns = append(conns, conn)
	}

	if len(conns) == 0 {
		if handshakeErr != nil {
			return nil, handshakeErr
		}
		return nil, wdterrors.NewNetworkError("connect", s.req.DestHost, wdterrors.CONN_ERROR, nil)
	}
	if !negotiated {
		// First connection dropped before settling; still enumerate so
		// the remaining workers have work to pull.
		s.startEnumeration(nil)
	}
	if len(conns) < s.req.NumPorts && s.opts.TreatFewerPortsAsError {
		rep.Finish()
		return rep, wdterrors.NewNetworkError("connect", s.req.DestHost, wdterrors.FEWER_PORTS, nil)
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *connection) {
			defer wg.Done()
			snap := s.runWorker(c)
			rep.AddThread(snap)
		}(c)
	}
	wg.Wait()
	rep.Finish()
	return rep, nil
}

func (s *Sender) startEnumeration(owned map[string][]core.ByteRange) {
	if owned != nil {
		s.queue.SetOwnedRanges(owned)
	}
	if len(s.req.FileList) > 0 {
		s.queue.StartFromList(s.req.Directory, s.req.FileList)
	} else {
		s.queue.StartWalk(s.req.Directory)
	}
}

type connection struct {
	port        int
	raw         net.Conn
	reader      *bufio.Reader
	writer      *bufio.Writer
	settings    *protocol.Settings
	ownedRanges map[string][]core.ByteRange
}

func (s *Sender) dial(port int) (*connection, error) {
	addr := net.JoinHostPort(s.req.DestHost, strconv.Itoa(port))
	raw, err := net.DialTimeout("tcp", addr, s.opts.WriteTimeout)
	if err != nil {
		return nil, wdterrors.NewNetworkError("dial", addr, wdterrors.CONN_ERROR, err)
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
	}
	return &connection{
		port:   port,
		raw:    raw,
		reader: bufio.NewReader(raw),
		writer: bufio.NewWriter(raw),
	}, nil
}

// reconnect re-dials the same port and repeats the settings-only
// handshake, used by a worker retrying in place after a
// connection-level failure instead of giving up on its whole share of
// the queue, per spec.md §7's retry-in-place error category.
func (s *Sender) reconnect(port int) (*connection, error) {
	c, err := s.dial(port)
	if err != nil {
		return nil, err
	}
	if err := s.sendSettingsOnly(c); err != nil {
		c.raw.Close()
		return nil, err
	}
	return c, nil
}

func (s *Sender) settingsFrame() *protocol.Settings {
	version := s.req.ProtocolVersion
	if version == 0 {
		version = protocol.Version
	}
	return &protocol.Settings{
		ProtocolVersion:          version,
		SenderID:                 s.req.TransferID,
		TransferID:               s.req.TransferID,
		ReadTimeoutMs:            s.opts.ReadTimeout.Milliseconds(),
		WriteTimeoutMs:           s.opts.WriteTimeout.Milliseconds(),
		EnableChecksum:           s.opts.EnableChecksum,
		EnableDownloadResumption: s.opts.EnableDownloadResumption,
		BlockSize:                s.opts.BlockSize,
	}
}

// handshake performs the settings exchange, and, if resumption is
// enabled, reads the receiver's FILE_CHUNKS_INFO frame.
func (s *Sender) handshake(c *connection) error {
	if err := protocol.WriteSettings(c.writer, s.settingsFrame()); err != nil {
		return err
	}
	op, err := protocol.ReadOpcode(c.reader)
	if err != nil {
		return err
	}
	if op == protocol.OpAbort {
		code, _, aerr := protocol.ReadAbort(c.reader)
		if aerr != nil {
			return aerr
		}
		return wdterrors.NewProtocolError("handshake", "receiver rejected settings", wdterrors.Code(code), nil)
	}
	if op != protocol.OpSettings {
		return protocol.UnexpectedOpcode("handshake", op)
	}
	settings, err := protocol.ReadSettings(c.reader)
	if err != nil {
		return err
	}
	c.settings = settings
	if settings.ProtocolVersion != protocol.Version {
		return wdterrors.NewProtocolError("handshake", "protocol version mismatch", wdterrors.VERSION_MISMATCH, nil)
	}

	if s.opts.EnableDownloadResumption {
		op, err := protocol.ReadOpcode(c.reader)
		if err != nil {
			return err
		}
		if op != protocol.OpFileChunksInfo {
			return protocol.UnexpectedOpcode("resumption handshake", op)
		}
		owned, err := protocol.ReadFileChunksInfo(c.reader)
		if err != nil {
			return err
		}
		ranges := make(map[string][]core.ByteRange, len(owned))
		for _, of := range owned {
			rs := make([]core.ByteRange, len(of.Ranges))
			for i, r := range of.Ranges {
				rs[i] = core.ByteRange{Start: r.Start, End: r.End}
			}
			ranges[of.RelPath] = rs
		}
		c.ownedRanges = ranges
	}
	return nil
}

func (s *Sender) sendSettingsOnly(c *connection) error {
	if err := protocol.WriteSettings(c.writer, s.settingsFrame()); err != nil {
		return err
	}
	op, err := protocol.ReadOpcode(c.reader)
	if err != nil {
		return err
	}
	if op == protocol.OpAbort {
		code, _, aerr := protocol.ReadAbort(c.reader)
		if aerr != nil {
			return aerr
		}
		return wdterrors.NewProtocolError("handshake", "receiver rejected settings", wdterrors.Code(code), nil)
	}
	if op != protocol.OpSettings {
		return protocol.UnexpectedOpcode("handshake", op)
	}
	settings, err := protocol.ReadSettings(c.reader)
	if err != nil {
		return err
	}
	c.settings = settings
	if settings.ProtocolVersion != protocol.Version {
		return wdterrors.NewProtocolError("handshake", "protocol version mismatch", wdterrors.VERSION_MISMATCH, nil)
	}
	if s.opts.EnableDownloadResumption {
		op, err := protocol.ReadOpcode(c.reader)
		if err != nil {
			return err
		}
		if op == protocol.OpFileChunksInfo {
			if _, err := protocol.ReadFileChunksInfo(c.reader); err != nil {
				return err
			}
		}
	}
	return nil
}

// runWorker drains the source queue over one connection until either
// the queue is exhausted or the connection/transfer fails.
func (s *Sender) runWorker(c *connection) (snap report.Snapshot) {
	conn := c
	defer func() { conn.raw.Close() }()

	stats := report.NewThreadStats()
	hist := history.New(s.queue)
	// history.EffectiveBytes only grows as AckUpTo confirms bytes the
	// receiver has actually persisted, so it -- not the bytes written
	// to the socket -- is what a worker's final effective-bytes count
	// must reflect; a block resent after a rewind must not be counted
	// twice just because it was sent twice.
	defer func() {
		stats.SetEffectiveBytes(hist.EffectiveBytes())
		snap = stats.Snapshot()
	}()

	retriesLeft := s.opts.Retries

	// recoverFromConnError implements the retry-in-place error category
	// from spec.md §7: rewind whatever this connection had in flight,
	// then, if attempts remain, redial the same port and keep going
	// with the reconnected socket rather than exiting the worker.
	// Returns false once retries are exhausted or a reconnect attempt
	// itself fails, at which point the caller must fall back to
	// rewind-and-exit with CONN_ERROR.
	recoverFromConnError := func(err error) bool {
		slog.Warn("worker connection failed, rewinding history", "error", err)
		hist.RewindAll()
		if retriesLeft <= 0 {
			stats.SetCode(wdterrors.CONN_ERROR)
			return false
		}
		retriesLeft--
		old := conn
		newConn, rerr := s.reconnect(old.port)
		old.raw.Close()
		if rerr != nil {
			slog.Warn("reconnect attempt failed", "port", old.port, "error", rerr)
			stats.SetCode(wdterrors.CONN_ERROR)
			return false
		}
		slog.Warn("reconnected, resuming worker", "port", old.port, "retries_left", retriesLeft)
		conn = newConn
		return true
	}

	for {
		if s.abort.IsSet() {
			s.sendAbort(conn, s.abort.Code())
			hist.RewindAll()
			stats.SetCode(s.abort.Code())
			return
		}

		res := s.queue.GetNextSource(s.opts.ReadTimeout)
		if res.TimedOut {
			continue
		}
		if res.EndOfQueue {
			if err := s.sendDone(conn); err != nil {
				stats.SetCode(wdterrors.CodeOf(err))
			}
			return
		}

		src := res.Source
		seq := atomic.AddInt64(&s.seqCtr, 1)
		hist.Append(src, seq)

		sent, err := s.sendBlock(conn, src, seq)
		if err != nil {
			if !recoverFromConnError(err) {
				return
			}
			continue
		}
		s.throttler.Limit(sent)
		if s.progress != nil {
			s.progress.UpdateTransferred(sent)
		}

		stats.RecordSource(report.SourceStats{
			HeaderBytes: protocol.EstimatedHeaderSize,
			DataBytes:   sent,
			Code:        wdterrors.OK,
		})
		if src.LastChunk {
			stats.RecordFileComplete()
		}

		if err := s.drainAcks(conn, hist, stats); err != nil {
			if !recoverFromConnError(err) {
				return
			}
			continue
		}
	}
}

func (s *Sender) sendBlock(c *connection, src *core.ByteSource, seq int64) (int64, error) {
	flags := uint64(0)
	if src.FirstChunk {
		flags |= protocol.FlagFirstChunk
	}
	if src.LastChunk {
		flags |= protocol.FlagLastChunk
	}
	hdr := &protocol.FileChunkHeader{
		Seq:      src.File.SeqID,
		FileSize: src.File.Size,
		Offset:   src.Offset,
		Length:   src.Length,
		Flags:    flags,
		RelPath:  src.File.RelPath,
	}
	c.raw.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := protocol.WriteFileChunkHeader(c.writer, hdr); err != nil {
		return 0, err
	}

	fs, err := filesource.Open(s.req.Directory, src, s.opts.BufferSize, s.opts.EnableODirect)
	if err != nil {
		return 0, err
	}
	defer fs.Close()

	// One CRC32C accumulator per block, reset here rather than carried
	// across the whole connection, so a corrupted block can be pinned
	// down and NAKed on its own instead of only surfacing at DONE once
	// every block on the connection is already on disk.
	var checksum hash.Hash32
	if s.opts.EnableChecksum {
		checksum = protocol.NewChecksumHash()
	}

	var sent int64
	for {
		piece, err := fs.Read()
		if len(piece) > 0 {
			if _, werr := c.writer.Write(piece); werr != nil {
				return sent, wdterrors.NewNetworkError("write_block", c.raw.RemoteAddr().String(), wdterrors.SOCKET_WRITE_ERROR, werr)
			}
			if checksum != nil {
				checksum.Write(piece)
			}
			sent += int64(len(piece))
		}
		if err != nil {
			break
		}
	}
	if checksum != nil {
		if err := protocol.WriteBlockFooter(c.writer, checksum.Sum32()); err != nil {
			return sent, err
		}
	}
	if err := protocol.Flush(c.writer); err != nil {
		return sent, wdterrors.NewNetworkError("flush_block", c.raw.RemoteAddr().String(), wdterrors.SOCKET_WRITE_ERROR, err)
	}
	return sent, nil
}

// drainAcks reads any ACK/WAIT/BLOCK_NAK frames the receiver has
// queued up without blocking indefinitely, applying acked ranges to
// history and returning any NAKed block to the queue for resending.
func (s *Sender) drainAcks(c *connection, hist *history.History, stats *report.ThreadStats) error {
	c.raw.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	for {
		op, err := protocol.ReadOpcode(c.reader)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return wdterrors.NewNetworkError("read_ack", c.raw.RemoteAddr().String(), wdterrors.SOCKET_READ_ERROR, err)
		}
		switch op {
		case protocol.OpAck:
			ack, err := protocol.ReadAck(c.reader)
			if err != nil {
				return err
			}
			hist.AckUpTo(ack.Seq, ack.Offset)
		case protocol.OpBlockNak:
			nak, err := protocol.ReadBlockNak(c.reader)
			if err != nil {
				return err
			}
			slog.Warn("block failed checksum verification, resending", "seq", nak.Seq, "offset", nak.Offset)
			if hist.RewindOne(nak.Seq, nak.Offset) {
				stats.RecordSource(report.SourceStats{FailedAttempts: 1})
			}
		case protocol.OpWait:
			continue
		case protocol.OpAbort:
			code, _, err := protocol.ReadAbort(c.reader)
			if err != nil {
				return err
			}
			return wdterrors.NewProtocolError("receiver_abort", "receiver aborted", wdterrors.Code(code), nil)
		case protocol.OpErrCmd:
			msg, err := protocol.ReadErrCmd(c.reader)
			if err != nil {
				return err
			}
			slog.Warn("receiver reported transient error", "message", msg)
		default:
			return protocol.UnexpectedOpcode("ack_loop", op)
		}
	}
}

func (s *Sender) sendDone(c *connection) error {
	c.raw.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	return protocol.WriteDone(c.writer, &protocol.Done{TotalBlocks: atomic.LoadInt64(&s.seqCtr)})
}

func (s *Sender) sendAbort(c *connection, code wdterrors.Code) {
	c.raw.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	protocol.WriteAbort(c.writer, byte(code), protocol.Version)
}
