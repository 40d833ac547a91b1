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
	"github.com/yousafgill/wdt/internal/manifest"
	"github.com/yousafgill/wdt/internal/progress"
	"github.com/yousafgill/wdt/internal/sender"
)

var (
	sendDir           string
	sendManifest      string
	sendConnectionURL string
	sendDestHost      string
	sendStartPort     int
	sendTransferID    string
	sendOpts          = config.DefaultOptions()
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "send a directory to a running wdt receiver",
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendDir, "dir", "d", "", "directory to send (required)")
	sendCmd.Flags().StringVarP(&sendManifest, "manifest", "m", "", "manifest file listing files to send instead of walking --dir ('-' for stdin)")
	sendCmd.Flags().StringVarP(&sendConnectionURL, "connection-url", "u", "", "wdt:// URL published by the receiver; overrides --host/--start-port")
	sendCmd.Flags().StringVarP(&sendDestHost, "host", "H", "", "receiver host")
	sendCmd.Flags().IntVarP(&sendStartPort, "start-port", "p", config.DefaultStartPort, "first receiver port")
	sendCmd.Flags().StringVar(&sendTransferID, "transfer-id", "", "transfer ID to present (auto-generated if empty)")

	bindOptionFlags(sendCmd, sendOpts)
}

func runSend(cmd *cobra.Command, args []string) error {
	opts := sendOpts
	if err := opts.Validate(); err != nil {
		return err
	}
	runtime.GOMAXPROCS(opts.Workers)
	if sendDir == "" {
		return fmt.Errorf("--dir is required")
	}

	req := &core.TransferRequest{
		DestHost:  sendDestHost,
		StartPort: sendStartPort,
		NumPorts:  opts.NumPorts,
		Directory: sendDir,
		TransferID: sendTransferID,
	}

	if sendConnectionURL != "" {
		host, ports, transferID, protoVersion, err := core.ParseConnectionURL(sendConnectionURL)
		if err != nil {
			return err
		}
		req.DestHost = host
		req.StartPort = ports[0]
		req.NumPorts = len(ports)
		req.TransferID = transferID
		req.ProtocolVersion = protoVersion
	}

	if sendManifest != "" {
		entries, err := manifest.Load(sendManifest)
		if err != nil {
			return err
		}
		req.FileList = entries
	}

	if req.DestHost == "" {
		return fmt.Errorf("--host or --connection-url is required")
	}

	s := sender.New(req, opts, nil)
	setupSignalHandling(s.Abort())

	var reporter *progress.Reporter
	if opts.ShowProgress {
		stats := &progress.Stats{StartTime: time.Now()}
		s.SetProgress(stats)
		reporter = progress.NewReporter(stats, true)
		reporter.Start()
	}

	rep, err := s.Transfer()
	if reporter != nil {
		reporter.Stop()
	}
	if err != nil {
		logging.LogError(err, "send")
		os.Exit(1)
	}

	code := rep.Summary()
	slog.Info("transfer finished", "code", code.String(), "bytes", rep.TotalDataBytes(), "duration", rep.Duration())
	os.Exit(int(code))
	return nil
}
