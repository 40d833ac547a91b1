package receiver

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousafgill/wdt/internal/config"
	"github.com/yousafgill/wdt/internal/core"
	wdterrors "github.com/yousafgill/wdt/internal/errors"
	"github.com/yousafgill/wdt/internal/report"
	"github.com/yousafgill/wdt/internal/sender"
	"github.com/yousafgill/wdt/internal/translog"
)

func freePort(t *testing.T) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestTransferRoundTripWritesFileContents(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0644))

	port := freePort(t)
	opts := config.DefaultOptions()
	opts.EnableDownloadResumption = false
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	rcvReq := &core.TransferRequest{StartPort: port, NumPorts: 1, Directory: dstDir}
	rcv := New(rcvReq, opts, nil)

	done := make(chan struct{})
	var rcvErr error
	go func() {
		defer close(done)
		_, rcvErr = rcv.Run()
	}()

	// Give the receiver a moment to bind before the sender dials.
	time.Sleep(50 * time.Millisecond)

	sndReq := &core.TransferRequest{
		DestHost:  "127.0.0.1",
		StartPort: port,
		NumPorts:  1,
		Directory: srcDir,
	}
	s := sender.New(sndReq, opts, nil)
	sndRep, err := s.Transfer()
	require.NoError(t, err)
	assert.Equal(t, wdterrors.OK, sndRep.Summary())

	<-done
	require.NoError(t, rcvErr)

	got, err := os.ReadFile(filepath.Join(dstDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestVersionMismatchAbortsHandshake(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))

	port := freePort(t)
	opts := config.DefaultOptions()
	opts.EnableDownloadResumption = false
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	rcvReq := &core.TransferRequest{StartPort: port, NumPorts: 1, Directory: dstDir}
	rcv := New(rcvReq, opts, nil)

	done := make(chan struct{})
	var rcvRep *report.TransferReport
	go func() {
		defer close(done)
		rcvRep, _ = rcv.Run()
	}()

	time.Sleep(50 * time.Millisecond)

	sndReq := &core.TransferRequest{
		DestHost:        "127.0.0.1",
		StartPort:       port,
		NumPorts:        1,
		Directory:       srcDir,
		ProtocolVersion: 9999,
	}
	s := sender.New(sndReq, opts, nil)
	_, err := s.Transfer()
	require.Error(t, err)
	assert.Equal(t, wdterrors.VERSION_MISMATCH, wdterrors.CodeOf(err))

	<-done
	require.NotNil(t, rcvRep)
	assert.Equal(t, wdterrors.VERSION_MISMATCH, rcvRep.Summary())
}

func TestTamperedFileIsInvalidatedBeforeResumption(t *testing.T) {
	dstDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "a.txt"), []byte("0123456789"), 0644))
	info, err := os.Stat(filepath.Join(dstDir, "a.txt"))
	require.NoError(t, err)

	log, err := translog.Open(dstDir, translog.Header{SenderID: "s1", TransferID: "t1"}, translog.FsyncPerFile)
	require.NoError(t, err)
	require.NoError(t, log.AppendFileCreated(1, "a.txt", info.Size(), info.ModTime()))
	require.NoError(t, log.AppendBlockWritten(1, 0, 10))
	require.NoError(t, log.Close())

	// A file touched out of band after the log entry was written (here
	// simulated by truncating it) must not be reported as owned on the
	// next run's FILE_CHUNKS_INFO negotiation.
	require.NoError(t, os.Truncate(filepath.Join(dstDir, "a.txt"), 3))

	snap, err := translog.Read(dstDir)
	require.NoError(t, err)
	require.Len(t, snap.Owned[1], 1)

	translog.Reconcile(dstDir, snap, snap.RelPaths, snap.MTimes)
	assert.True(t, snap.Invalidated[1])

	owned := buildOwnedFiles(snap)
	assert.Empty(t, owned)
}
