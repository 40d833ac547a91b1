/*
Copyright 2025 Yousaf Gill. All rights reserved.
Use of this source code is governed by the MIT license
that can be found in the LICENSE file.
*/

// Package main is wdt's CLI front-end: it turns flags, a manifest, or
// a connection URL into a core.TransferRequest and hands it to the
// sender or receiver runtime, printing the resulting TransferReport's
// summary code as the process exit code. All option parsing lives
// here, out of the core engine's scope, per SPEC_FULL.md §4.14.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yousafgill/wdt/internal/logging"
)

var logDir string

// rootCmd is the wdt CLI's entry point; send/receive/daemon/parse-log
// are registered as subcommands in their own files, the way
// bill2cipher-kcp_tran/cmd splits each subcommand into its own file
// under one RootCmd.
var rootCmd = &cobra.Command{
	Use:   "wdt",
	Short: "wdt stripes a directory tree across many TCP connections",
	Long: `wdt (Warp-speed Data Transfer) is a peer-to-peer bulk file
transfer tool. It splits a directory into blocks and sends them over
several concurrent TCP connections, with per-file resumption,
checksumming, throttling, and abort handling.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(logDir)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "directory to also write a timestamped log file to")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
