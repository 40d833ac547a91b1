package main

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/yousafgill/wdt/internal/config"
	"github.com/yousafgill/wdt/internal/core"
	"github.com/yousafgill/wdt/internal/receiver"
)

var (
	daemonDir       string
	daemonStartPort int
	daemonOpts      = config.DefaultOptions()
)

// daemonCmd runs the receiver forever, resetting per-transfer state
// and re-binding after each transfer completes, per SPEC_FULL.md
// §4.5's daemon mode.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "run the receiver in a loop, serving one transfer after another",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVarP(&daemonDir, "dir", "d", "", "destination directory (required)")
	daemonCmd.Flags().IntVarP(&daemonStartPort, "start-port", "p", config.DefaultStartPort, "first port to bind")

	bindOptionFlags(daemonCmd, daemonOpts)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	opts := daemonOpts
	if err := opts.Validate(); err != nil {
		return err
	}
	runtime.GOMAXPROCS(opts.Workers)
	if daemonDir == "" {
		return fmt.Errorf("--dir is required")
	}

	req := &core.TransferRequest{StartPort: daemonStartPort, NumPorts: opts.NumPorts, Directory: daemonDir}
	r := receiver.New(req, opts, nil)
	setupSignalHandling(r.Abort())

	for {
		select {
		case <-r.Abort().Done():
			slog.Info("daemon received abort, exiting")
			return nil
		default:
		}

		req.TransferID = ""
		if err := req.Init(); err != nil {
			return err
		}

		if err := r.Bind(); err != nil {
			slog.Error("failed to bind receiver ports", "error", err)
			return err
		}
		url := req.ConnectionURL(localHostname(), r.BoundPorts())
		slog.Info("daemon awaiting next transfer", "connection_url", url)
		fmt.Println(url)

		rep, err := r.Serve()
		if err != nil {
			slog.Error("transfer failed", "error", err)
			continue
		}
		slog.Info("transfer finished", "code", rep.Summary().String(), "bytes", rep.TotalDataBytes())
	}
}
