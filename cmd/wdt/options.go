package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/yousafgill/wdt/internal/abortctl"
	"github.com/yousafgill/wdt/internal/config"
	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// bindOptionFlags registers the WdtOptions tunables spec.md §6
// enumerates onto cmd, defaulting from config.DefaultOptions.
func bindOptionFlags(cmd *cobra.Command, opts *config.WdtOptions) {
	def := config.DefaultOptions()
	cmd.Flags().IntVar(&opts.NumPorts, "num-ports", def.NumPorts, "number of concurrent TCP connections")
	cmd.Flags().Int64Var(&opts.BlockSize, "block-size", def.BlockSize, "bytes per block")
	cmd.Flags().IntVar(&opts.BufferSize, "buffer-size", def.BufferSize, "read/write buffer size in bytes")
	cmd.Flags().IntVar(&opts.Workers, "workers", def.Workers, "GOMAXPROCS for this process")
	cmd.Flags().DurationVar(&opts.ReadTimeout, "read-timeout", def.ReadTimeout, "socket read timeout")
	cmd.Flags().DurationVar(&opts.WriteTimeout, "write-timeout", def.WriteTimeout, "socket write timeout")
	cmd.Flags().IntVar(&opts.Retries, "retries", def.Retries, "reconnect attempts per connection before giving up")
	cmd.Flags().BoolVar(&opts.EnableChecksum, "checksum", def.EnableChecksum, "verify a CRC32C checksum per block")
	cmd.Flags().BoolVar(&opts.EnableDownloadResumption, "resume", def.EnableDownloadResumption, "resume from the receiver's transfer log")
	cmd.Flags().BoolVar(&opts.TreatFewerPortsAsError, "strict-ports", def.TreatFewerPortsAsError, "fail if fewer than num-ports connections succeed")
	cmd.Flags().Float64Var(&opts.AvgMBytesPerSec, "avg-mbps", def.AvgMBytesPerSec, "average throughput cap in MB/s (0 disables)")
	cmd.Flags().Float64Var(&opts.PeakMBytesPerSec, "peak-mbps", def.PeakMBytesPerSec, "peak burst cap in MB/s (0 disables)")
	cmd.Flags().BoolVar(&opts.EnableODirect, "odirect", def.EnableODirect, "open source and destination files O_DIRECT, bypassing the page cache")
	cmd.Flags().BoolVar(&opts.EnablePreallocation, "preallocate", def.EnablePreallocation, "preallocate destination file size on creation")
	cmd.Flags().DurationVar(&opts.AbortAfter, "abort-after", def.AbortAfter, "abort the transfer after this long (0 disables)")
	cmd.Flags().BoolVar(&opts.ShowProgress, "progress", def.ShowProgress, "show a console progress bar")
}

// setupSignalHandling requests abort on SIGINT/SIGTERM, mirroring the
// teacher's main.go signal setup but routing through the abort
// checker instead of an immediate os.Exit, so an in-flight transfer
// gets a chance to rewind and report cleanly. SIGPIPE is ignored
// outright: a worker whose peer has already hung up finds out from a
// failed write's error return, not from the process dying underneath
// it.
func setupSignalHandling(abort *abortctl.Checker) {
	signal.Ignore(syscall.SIGPIPE)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		slog.Info("received shutdown signal", "signal", sig)
		abort.Set(wdterrors.ABORTED_BY_APPLICATION)

		time.Sleep(5 * time.Second)
		slog.Warn("forcing exit after grace period")
		os.Exit(1)
	}()
}
