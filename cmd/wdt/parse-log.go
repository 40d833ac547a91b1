package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yousafgill/wdt/internal/translog"
)

var parseLogCmd = &cobra.Command{
	Use:   "parse-log <destination-dir>",
	Short: "print a destination directory's transfer log",
	Args:  cobra.ExactArgs(1),
	RunE:  runParseLog,
}

func init() {
	rootCmd.AddCommand(parseLogCmd)
}

func runParseLog(cmd *cobra.Command, args []string) error {
	snap, err := translog.Read(args[0])
	if err != nil {
		return fmt.Errorf("read transfer log: %w", err)
	}
	return translog.PrintSummary(os.Stdout, snap)
}
