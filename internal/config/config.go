// Package config holds WdtOptions, the tunable parameters shared by
// the sender and receiver runtimes, independent of how a front-end
// gathers them (flags, a config file, or a library caller).
package config

import (
	"fmt"
	"runtime"
	"time"

	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// Defaults mirror spec.md §6's WdtOptions tunables.
const (
	DefaultStartPort      = 22356
	DefaultNumPorts       = 8
	DefaultBlockSize      = 16 * 1024 * 1024 // 16MiB
	DefaultBufferSize     = 256 * 1024
	DefaultReadTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 60 * time.Second
	DefaultRetries        = 5
	DefaultAvgMBytesPerSec  = 0 // 0 disables throttling
	DefaultPeakMBytesPerSec = 0
	DefaultAbortAfter     = 0 // 0 disables the abort timer

	MinAlignmentBytes = 4096 // O_DIRECT alignment granularity
)

// WdtOptions is the full tunable surface a TransferRequest carries
// alongside its endpoint/identity fields (see internal/core).
type WdtOptions struct {
	NumPorts    int
	BlockSize   int64
	BufferSize  int
	Workers     int
	ReadTimeout time.Duration
	WriteTimeout time.Duration
	Retries     int

	EnableChecksum            bool
	EnableDownloadResumption  bool
	TreatFewerPortsAsError    bool

	AvgMBytesPerSec  float64
	PeakMBytesPerSec float64

	EnableODirect       bool
	EnablePreallocation bool

	AbortAfter time.Duration

	ShowProgress bool
}

// DefaultOptions returns WdtOptions populated with spec.md's defaults.
func DefaultOptions() *WdtOptions {
	return &WdtOptions{
		NumPorts:                 DefaultNumPorts,
		BlockSize:                DefaultBlockSize,
		BufferSize:               DefaultBufferSize,
		Workers:                  runtime.NumCPU(),
		ReadTimeout:              DefaultReadTimeout,
		WriteTimeout:             DefaultWriteTimeout,
		Retries:                  DefaultRetries,
		EnableChecksum:           true,
		EnableDownloadResumption: true,
		TreatFewerPortsAsError:   false,
		AvgMBytesPerSec:          DefaultAvgMBytesPerSec,
		PeakMBytesPerSec:         DefaultPeakMBytesPerSec,
		EnableODirect:            false,
		EnablePreallocation:      true,
		AbortAfter:               DefaultAbortAfter,
		ShowProgress:             true,
	}
}

// Validate checks internal consistency of the options, the way the
// teacher's Config.Validate does for its flat flag set.
func (o *WdtOptions) Validate() error {
	if o.NumPorts <= 0 {
		return wdterrors.NewValidationError("num_ports", o.NumPorts, "must be positive")
	}
	if o.BlockSize <= 0 {
		return wdterrors.NewValidationError("block_size", o.BlockSize, "must be positive")
	}
	if o.BufferSize <= 0 {
		return wdterrors.NewValidationError("buffer_size", o.BufferSize, "must be positive")
	}
	if o.Workers <= 0 {
		return wdterrors.NewValidationError("workers", o.Workers, "must be positive")
	}
	if o.Retries < 0 {
		return wdterrors.NewValidationError("retries", o.Retries, "cannot be negative")
	}
	if o.ReadTimeout <= 0 || o.WriteTimeout <= 0 {
		return wdterrors.NewValidationError("timeout", nil, "read/write timeouts must be positive")
	}
	if o.PeakMBytesPerSec > 0 && o.AvgMBytesPerSec > o.PeakMBytesPerSec {
		return wdterrors.NewValidationError("avg_mbytes_per_sec", o.AvgMBytesPerSec, "cannot exceed peak_mbytes_per_sec")
	}
	return nil
}

func (o *WdtOptions) String() string {
	return fmt.Sprintf("WdtOptions{ports=%d block=%dKB workers=%d checksum=%v resumption=%v throttle=%.1f/%.1fMBps}",
		o.NumPorts, o.BlockSize/1024, o.Workers, o.EnableChecksum, o.EnableDownloadResumption,
		o.AvgMBytesPerSec, o.PeakMBytesPerSec)
}
