//go:build linux

package filesource

import (
	"os"

	"golang.org/x/sys/unix"
)

// alignmentSupported reports whether this platform can honor O_DIRECT
// alignment hints. Linux supports O_DIRECT; other platforms degrade to
// buffered reads (see align_other.go).
func alignmentSupported() bool {
	return true
}

// openDirect opens path bypassing the page cache. Read still rounds
// every request up to the alignment boundary, since O_DIRECT rejects
// misaligned read lengths on most filesystems.
func openDirect(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECT, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
