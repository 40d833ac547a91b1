package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitGeneratesTransferID(t *testing.T) {
	req := &TransferRequest{Directory: "/data/set"}
	require.NoError(t, req.Init())
	assert.NotEmpty(t, req.TransferID)
	assert.Equal(t, 1, req.NumPorts)
}

func TestInitRejectsEmptyDirectory(t *testing.T) {
	req := &TransferRequest{}
	assert.Error(t, req.Init())
}

func TestConnectionURLRoundTrip(t *testing.T) {
	req := &TransferRequest{Directory: "/data", TransferID: "abc123", ProtocolVersion: 1}
	require.NoError(t, req.Init())

	url := req.ConnectionURL("host.example.com", []int{22356, 22357, 22358})

	host, ports, id, version, err := ParseConnectionURL(url)
	require.NoError(t, err)
	assert.Equal(t, "host.example.com", host)
	assert.Equal(t, []int{22356, 22357, 22358}, ports)
	assert.Equal(t, "abc123", id)
	assert.Equal(t, 1, version)
}

func TestParseConnectionURLRejectsWrongScheme(t *testing.T) {
	_, _, _, _, err := ParseConnectionURL("http://host?ports=1")
	assert.Error(t, err)
}

func TestByteRangeOverlaps(t *testing.T) {
	a := ByteRange{Start: 0, End: 100}
	b := ByteRange{Start: 50, End: 150}
	c := ByteRange{Start: 100, End: 200}

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
	assert.Equal(t, int64(100), a.Len())
}
