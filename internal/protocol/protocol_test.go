package protocol

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	in := &Settings{
		ProtocolVersion:          1,
		SenderID:                 "sender-1",
		TransferID:               "xfer-42",
		ReadTimeoutMs:            60000,
		WriteTimeoutMs:           60000,
		EnableChecksum:           true,
		EnableDownloadResumption: true,
		BlockSize:                16 * 1024 * 1024,
	}
	require.NoError(t, WriteSettings(w, in))

	r := bufio.NewReader(&buf)
	opcode, err := ReadOpcode(r)
	require.NoError(t, err)
	require.Equal(t, OpSettings, opcode)

	out, err := ReadSettings(r)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFileChunkHeaderRoundTripWithBody(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	header := &FileChunkHeader{
		Seq:      7,
		FileSize: 1024,
		Offset:   512,
		Length:   4,
		Flags:    FlagLastChunk,
		RelPath:  "sub/b.bin",
	}
	require.NoError(t, WriteFileChunkHeader(w, header))
	body := []byte{0xAB, 0xCD, 0xEF, 0x01}
	_, err := w.Write(body)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	r := bufio.NewReader(&buf)
	opcode, err := ReadOpcode(r)
	require.NoError(t, err)
	require.Equal(t, OpFileChunk, opcode)

	out, err := ReadFileChunkHeader(r)
	require.NoError(t, err)
	assert.Equal(t, header, out)

	gotBody := make([]byte, out.Length)
	_, err = r.Read(gotBody)
	require.NoError(t, err)
	assert.Equal(t, body, gotBody)
}

func TestFileChunksInfoRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	files := []OwnedFile{
		{RelPath: "a.txt", Size: 6, Ranges: []Range{{Start: 0, End: 6}}},
		{RelPath: "sub/b.bin", Size: 1048576, Ranges: []Range{{Start: 0, End: 65536}, {Start: 131072, End: 262144}}},
	}
	require.NoError(t, WriteFileChunksInfo(w, files))

	r := bufio.NewReader(&buf)
	_, err := ReadOpcode(r)
	require.NoError(t, err)

	out, err := ReadFileChunksInfo(r)
	require.NoError(t, err)
	assert.Equal(t, files, out)
}

func TestAckRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteAck(w, &Ack{Seq: 3, Offset: 4096}))

	r := bufio.NewReader(&buf)
	_, err := ReadOpcode(r)
	require.NoError(t, err)
	out, err := ReadAck(r)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Seq)
	assert.Equal(t, int64(4096), out.Offset)
}

func TestDoneRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteDone(w, &Done{TotalBlocks: 5}))

	r := bufio.NewReader(&buf)
	_, err := ReadOpcode(r)
	require.NoError(t, err)
	out, err := ReadDone(r)
	require.NoError(t, err)
	assert.Equal(t, int64(5), out.TotalBlocks)
}

func TestChecksumDetectsCorruption(t *testing.T) {
	data := []byte("the quick brown fox")
	sum := Checksum(data)

	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0x01

	assert.NotEqual(t, sum, Checksum(corrupted))
}

func TestBlockFooterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	sum := Checksum([]byte("hello\n"))
	require.NoError(t, WriteBlockFooter(w, sum))

	r := bufio.NewReader(&buf)
	opcode, err := ReadOpcode(r)
	require.NoError(t, err)
	require.Equal(t, OpBlockFooter, opcode)
	out, err := ReadBlockFooter(r)
	require.NoError(t, err)
	assert.Equal(t, sum, out)
}

func TestBlockNakRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteBlockNak(w, &BlockNak{Seq: 3, Offset: 4096}))

	r := bufio.NewReader(&buf)
	opcode, err := ReadOpcode(r)
	require.NoError(t, err)
	require.Equal(t, OpBlockNak, opcode)
	out, err := ReadBlockNak(r)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Seq)
	assert.Equal(t, int64(4096), out.Offset)
}

func TestAbortRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteAbort(w, 9, 1))

	r := bufio.NewReader(&buf)
	_, err := ReadOpcode(r)
	require.NoError(t, err)
	code, version, err := ReadAbort(r)
	require.NoError(t, err)
	assert.Equal(t, byte(9), code)
	assert.Equal(t, 1, version)
}

func TestErrCmdRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteErrCmd(w, "disk full"))

	r := bufio.NewReader(&buf)
	_, err := ReadOpcode(r)
	require.NoError(t, err)
	msg, err := ReadErrCmd(r)
	require.NoError(t, err)
	assert.Equal(t, "disk full", msg)
}
