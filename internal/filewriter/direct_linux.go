//go:build linux

package filewriter

import "golang.org/x/sys/unix"

// directFlag is the extra open(2) flag bit that puts a destination
// file descriptor into O_DIRECT mode, bypassing the page cache for
// writes. Only meaningful on Linux; see direct_other.go.
func directFlag() int {
	return unix.O_DIRECT
}
