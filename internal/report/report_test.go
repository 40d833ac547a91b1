package report

import (
	"testing"

	"github.com/stretchr/testify/assert"

	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

func TestThreadStatsRecordSourceAccumulates(t *testing.T) {
	ts := NewThreadStats()
	ts.RecordSource(SourceStats{DataBytes: 100, EffectiveBytes: 90, Code: wdterrors.OK})
	ts.RecordSource(SourceStats{DataBytes: 50, EffectiveBytes: 50, Code: wdterrors.OK})

	snap := ts.Snapshot()
	assert.Equal(t, int64(150), snap.DataBytes)
	assert.Equal(t, int64(140), snap.EffectiveBytes)
	assert.Equal(t, int64(2), snap.NumBlocks)
	assert.Equal(t, wdterrors.OK, snap.Code)
}

// TestSetEffectiveBytesOverwritesRatherThanAccumulates guards against
// the double-counting a worker would otherwise produce when a block it
// sent is later rewound and resent by a different connection: the
// block's DataBytes get recorded once per send attempt, but its
// EffectiveBytes must come from a single post-ack total read at worker
// exit, not from accumulating a value at every send.
func TestSetEffectiveBytesOverwritesRatherThanAccumulates(t *testing.T) {
	ts := NewThreadStats()
	ts.RecordSource(SourceStats{DataBytes: 100, Code: wdterrors.OK})
	ts.RecordSource(SourceStats{DataBytes: 100, Code: wdterrors.OK}) // the same block, resent

	ts.SetEffectiveBytes(100) // history.EffectiveBytes: only one send was ever acked
	assert.Equal(t, int64(200), ts.Snapshot().DataBytes)
	assert.Equal(t, int64(100), ts.Snapshot().EffectiveBytes)

	ts.SetEffectiveBytes(150)
	assert.Equal(t, int64(150), ts.Snapshot().EffectiveBytes, "SetEffectiveBytes must overwrite, not add")
}

func TestThreadStatsKeepsWorstCode(t *testing.T) {
	ts := NewThreadStats()
	ts.SetCode(wdterrors.CHECKSUM_MISMATCH)
	ts.SetCode(wdterrors.OK)
	assert.Equal(t, wdterrors.CHECKSUM_MISMATCH, ts.Snapshot().Code)

	ts.SetCode(wdterrors.ABORT)
	assert.Equal(t, wdterrors.ABORT, ts.Snapshot().Code)
}

func TestTransferReportSummaryUsesWorstThreadCode(t *testing.T) {
	r := NewTransferReport()
	r.AddThread(Snapshot{DataBytes: 10, Code: wdterrors.OK})
	r.AddThread(Snapshot{DataBytes: 20, Code: wdterrors.SOCKET_WRITE_ERROR})
	r.Finish()

	assert.Equal(t, wdterrors.SOCKET_WRITE_ERROR, r.Summary())
	assert.Equal(t, int64(30), r.TotalDataBytes())
}

func TestTransferReportAllOKSummarizesOK(t *testing.T) {
	r := NewTransferReport()
	r.AddThread(Snapshot{Code: wdterrors.OK})
	r.AddThread(Snapshot{Code: wdterrors.OK})
	assert.Equal(t, wdterrors.OK, r.Summary())
}
