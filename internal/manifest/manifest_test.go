package manifest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousafgill/wdt/internal/core"
)

func TestParseTabSeparatedEntries(t *testing.T) {
	input := "a/b.txt\t100\nc.bin\t-\n"
	entries, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, core.ManifestEntry{Path: "a/b.txt", Size: 100}, entries[0])
	assert.Equal(t, core.ManifestEntry{Path: "c.bin", Size: -1}, entries[1])
}

func TestParseRejectsEmptyLines(t *testing.T) {
	input := "a.txt\t10\n\nb.txt\t20\n"
	_, err := Parse(strings.NewReader(input))
	require.Error(t, err)
}

func TestParseRejectsEscapingPaths(t *testing.T) {
	_, err := Parse(strings.NewReader("../etc/passwd\t10\n"))
	require.Error(t, err)
}

func TestParseRejectsMalformedSize(t *testing.T) {
	_, err := Parse(strings.NewReader("a.txt\tnotasize\n"))
	require.Error(t, err)
}

func TestWriteRoundTripsThroughParse(t *testing.T) {
	entries := []core.ManifestEntry{
		{Path: "a.txt", Size: 42},
		{Path: "b.txt", Size: -1},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, entries))

	got, err := Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}
