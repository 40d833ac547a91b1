package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUpdateAndGetTransferredRoundTrip(t *testing.T) {
	s := &Stats{TotalBytes: 1000, StartTime: time.Now()}
	s.UpdateTransferred(400)
	s.UpdateTransferred(100)
	assert.Equal(t, int64(500), s.GetTransferred())
}

func TestCurrentStatsReportsPercentComplete(t *testing.T) {
	s := &Stats{TotalBytes: 200, StartTime: time.Now().Add(-time.Second)}
	s.UpdateTransferred(50)
	r := NewReporter(s, false)

	transferred, percent, elapsed := r.CurrentStats()
	assert.Equal(t, int64(50), transferred)
	assert.InDelta(t, 25.0, percent, 0.001)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
}

func TestEtaStringHandlesUnknownTotal(t *testing.T) {
	assert.Equal(t, "calculating...", etaString(0, 0, 5.0))
	assert.Equal(t, "calculating...", etaString(1000, 0, 0.0))
}

func TestStartStopDoesNotPanic(t *testing.T) {
	s := &Stats{TotalBytes: 100, StartTime: time.Now()}
	r := NewReporter(s, false)
	r.Start()
	r.Stop()
}
