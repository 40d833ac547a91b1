// Package logging sets up wdt's process-wide structured logger and a
// handful of call sites that log in a consistent shape across the
// sender and receiver runtimes.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// Setup installs the default slog logger, teeing to stdout and, when
// logDir is non-empty, to a timestamped file under logDir.
func Setup(logDir string) error {
	if logDir == "" {
		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
		slog.SetDefault(slog.New(handler))
		return nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		slog.Warn("failed to create log directory, using console only", "error", err)
		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
		slog.SetDefault(slog.New(handler))
		return nil
	}

	logFileName := filepath.Join(logDir, "wdt_"+time.Now().Format("20060102_150405")+".log")
	logFile, err := os.Create(logFileName)
	if err != nil {
		slog.Warn("failed to create log file, using console only", "error", err)
		handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
		slog.SetDefault(slog.New(handler))
		return nil
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	handler := slog.NewTextHandler(multi, &slog.HandlerOptions{Level: slog.LevelInfo, AddSource: false})
	slog.SetDefault(slog.New(handler))

	slog.Info("logging initialized", "session_id", time.Now().Format("20060102_150405"))
	return nil
}

// LogError logs an error with a type-appropriate set of structured
// attributes, mirroring the closed error taxonomy in internal/errors.
func LogError(err error, context string) {
	switch e := err.(type) {
	case *wdterrors.NetworkError:
		slog.Error("network error", "context", context, "op", e.Op, "addr", e.Addr, "code", e.Code)
	case *wdterrors.FileSystemError:
		slog.Error("file system error", "context", context, "op", e.Op, "path", e.Path, "code", e.Code)
	case *wdterrors.ProtocolError:
		slog.Error("protocol error", "context", context, "op", e.Op, "message", e.Message, "code", e.Code)
	case *wdterrors.ValidationError:
		slog.Error("validation error", "context", context, "field", e.Field, "message", e.Message)
	default:
		slog.Error("unhandled error", "context", context, "error", err)
	}
}

// LogSessionStart logs the start of a transfer session.
func LogSessionStart(role string, totalBytes, blockSize int64, workers int) {
	slog.Info("transfer session started",
		"role", role,
		"total_mb", float64(totalBytes)/(1024*1024),
		"block_size_kb", float64(blockSize)/1024,
		"workers", workers)
}

// LogTransferProgress logs a periodic snapshot of an in-progress
// transfer, mirroring the teacher's per-file progress log line but at
// whole-transfer granularity since one wdt session stripes many files
// across many connections at once.
func LogTransferProgress(transferred, total int64, mbPerSec float64) {
	percent := 0.0
	if total > 0 {
		percent = float64(transferred) / float64(total) * 100
	}
	slog.Info("transfer progress",
		"transferred_mb", float64(transferred)/(1024*1024),
		"total_mb", float64(total)/(1024*1024),
		"percent", percent,
		"speed_mbps", mbPerSec)
}

// LogSessionEnd logs the end of a transfer session with its outcome.
func LogSessionEnd(code wdterrors.Code, totalBytes int64, duration time.Duration) {
	rate := 0.0
	if duration.Seconds() > 0 {
		rate = float64(totalBytes) / (1024 * 1024) / duration.Seconds()
	}
	slog.Info("transfer session ended",
		"status", code.String(),
		"total_bytes", totalBytes,
		"duration_seconds", duration.Seconds(),
		"avg_throughput_mbps", rate)
}
