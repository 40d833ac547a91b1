// Package manifest parses the pre-enumerated file list format
// SPEC_FULL.md §4.13 describes: tab-separated `<relative_path>\t<size>`
// lines, one per source file, letting a caller skip directory-walk
// enumeration when it already knows what it wants to send. This lives
// outside internal/core so the core engine never has to import
// CLI-adjacent parsing code.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/yousafgill/wdt/internal/core"
	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// Parse reads a manifest from r, one entry per non-empty line, as
// "<relative_path>\t<size>". A size of "-" is accepted and mapped to
// -1 (unknown; the sender must stat the file itself).
func Parse(r io.Reader) ([]core.ManifestEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var entries []core.ManifestEntry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			return nil, wdterrors.NewValidationError("manifest_line", lineNo, "empty lines are not allowed")
		}
		entry, err := parseLine(line)
		if err != nil {
			return nil, wdterrors.NewValidationError("manifest_line", lineNo, err.Error())
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, wdterrors.NewFileSystemError("read", "manifest", wdterrors.FILE_READ_ERROR, err)
	}
	return entries, nil
}

func parseLine(line string) (core.ManifestEntry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 2 {
		return core.ManifestEntry{}, fmt.Errorf("expected \"<path>\\t<size>\", got %d fields", len(fields))
	}
	path := fields[0]
	if path == "" {
		return core.ManifestEntry{}, fmt.Errorf("relative path must not be empty")
	}
	if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return core.ManifestEntry{}, fmt.Errorf("path %q must be relative and must not escape the transfer root", path)
	}

	sizeField := fields[1]
	if sizeField == "-" {
		return core.ManifestEntry{Path: path, Size: -1}, nil
	}
	size, err := strconv.ParseInt(sizeField, 10, 64)
	if err != nil {
		return core.ManifestEntry{}, fmt.Errorf("invalid size %q: %w", sizeField, err)
	}
	if size < 0 {
		return core.ManifestEntry{}, fmt.Errorf("size must not be negative")
	}
	return core.ManifestEntry{Path: path, Size: size}, nil
}

// Load reads a manifest from the named path, or from stdin when path
// is "-", per spec.md §6.
func Load(path string) ([]core.ManifestEntry, error) {
	if path == "-" {
		return Parse(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, wdterrors.NewFileSystemError("open", path, wdterrors.FILE_READ_ERROR, err)
	}
	defer f.Close()
	return Parse(f)
}

// Write serializes entries back into the manifest format, mainly used
// by a receiver-side or diagnostic tool that wants to re-emit what a
// directory walk discovered.
func Write(w io.Writer, entries []core.ManifestEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		sizeField := "-"
		if e.Size >= 0 {
			sizeField = strconv.FormatInt(e.Size, 10)
		}
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", e.Path, sizeField); err != nil {
			return wdterrors.NewFileSystemError("write", "manifest", wdterrors.FILE_WRITE_ERROR, err)
		}
	}
	return bw.Flush()
}
