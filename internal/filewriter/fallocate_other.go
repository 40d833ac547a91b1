//go:build !linux

package filewriter

import (
	"errors"
	"os"
)

// fallocate is unavailable outside Linux; setFileSize falls back to a
// plain truncate, same as the teacher's Windows fallback path.
func fallocate(f *os.File, size int64) error {
	return errors.New("fallocate not supported on this platform")
}
