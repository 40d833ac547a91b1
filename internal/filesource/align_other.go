//go:build !linux

package filesource

import "os"

// alignmentSupported is false on platforms without O_DIRECT, matching
// the teacher's fallocate fallback-to-truncate pattern: degrade
// silently rather than fail the transfer.
func alignmentSupported() bool {
	return false
}

// openDirect is never called on this platform since alignmentSupported
// returns false, but is defined for symmetry with align_linux.go.
func openDirect(path string) (*os.File, error) {
	return os.Open(path)
}
