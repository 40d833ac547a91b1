package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/yousafgill/wdt/internal/config"
	"github.com/yousafgill/wdt/internal/core"
	"github.com/yousafgill/wdt/internal/logging"
	"github.com/yousafgill/wdt/internal/progress"
	"github.com/yousafgill/wdt/internal/receiver"
)

var (
	receiveDir       string
	receiveStartPort int
	receiveTransferID string
	receiveOpts      = config.DefaultOptions()
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "receive a directory from a wdt sender",
	RunE:  runReceive,
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVarP(&receiveDir, "dir", "d", "", "destination directory (required)")
	receiveCmd.Flags().IntVarP(&receiveStartPort, "start-port", "p", config.DefaultStartPort, "first port to bind")
	receiveCmd.Flags().StringVar(&receiveTransferID, "transfer-id", "", "transfer ID to publish (auto-generated if empty)")

	bindOptionFlags(receiveCmd, receiveOpts)
}

func runReceive(cmd *cobra.Command, args []string) error {
	opts := receiveOpts
	if err := opts.Validate(); err != nil {
		return err
	}
	runtime.GOMAXPROCS(opts.Workers)
	if receiveDir == "" {
		return fmt.Errorf("--dir is required")
	}

	req := &core.TransferRequest{
		StartPort:  receiveStartPort,
		NumPorts:   opts.NumPorts,
		Directory:  receiveDir,
		TransferID: receiveTransferID,
	}
	if err := req.Init(); err != nil {
		return err
	}

	r := receiver.New(req, opts, nil)
	setupSignalHandling(r.Abort())

	if err := r.Bind(); err != nil {
		return err
	}
	url := req.ConnectionURL(localHostname(), r.BoundPorts())
	fmt.Println(url)
	slog.Info("receiver listening", "connection_url", url)

	var reporter *progress.Reporter
	if opts.ShowProgress {
		stats := &progress.Stats{StartTime: time.Now()}
		r.SetProgress(stats)
		reporter = progress.NewReporter(stats, true)
		reporter.Start()
	}

	rep, err := r.Serve()
	if reporter != nil {
		reporter.Stop()
	}
	if err != nil {
		logging.LogError(err, "receive")
		os.Exit(1)
	}

	code := rep.Summary()
	slog.Info("transfer finished", "code", code.String(), "bytes", rep.TotalDataBytes(), "duration", rep.Duration())
	os.Exit(int(code))
	return nil
}

func localHostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}
