// Package throttle implements the shared, reference-counted
// token-bucket rate limiter described in SPEC_FULL.md §4.9: every
// worker on one side of a transfer calls Limit before sending or
// persisting bytes, and blocks until the bucket admits them.
package throttle

import (
	"sync"
	"time"
)

// Throttler caps aggregate throughput across every worker holding a
// reference to it. AvgBytesPerSec bounds sustained rate; PeakBytesPerSec
// bounds instantaneous bursts. A zero average disables the sustained
// cap; a zero peak sets the burst capacity to twice the average, so
// bursts are uncapped only when both are zero.
type Throttler struct {
	mu             sync.Mutex
	avgBytesPerSec float64
	peakBucket     float64
	peakCapacity   float64
	lastRefill     time.Time
	refCount       int
	bytesSent      int64
	started        time.Time
}

// New creates a Throttler with the given average and peak caps in
// bytes/sec. A zero average disables the sustained cap; a zero peak
// falls back to a burst capacity of twice the average.
func New(avgBytesPerSec, peakBytesPerSec float64) *Throttler {
	now := time.Now()
	capacity := peakBytesPerSec
	if capacity <= 0 {
		capacity = avgBytesPerSec * 2
	}
	return &Throttler{
		avgBytesPerSec: avgBytesPerSec,
		peakCapacity:   capacity,
		peakBucket:     capacity,
		lastRefill:     now,
		started:        now,
		refCount:       1,
	}
}

// Acquire increments the reference count, for a new transfer joining
// an already-running throttler on a long-lived receiver.
func (t *Throttler) Acquire() {
	t.mu.Lock()
	t.refCount++
	t.mu.Unlock()
}

// Release decrements the reference count and reports whether this was
// the last holder (callers should discard the throttler in that case).
func (t *Throttler) Release() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refCount--
	return t.refCount <= 0
}

// Limit blocks the caller until the bucket admits n bytes, then
// records them as sent. A disabled throttler (both caps zero) records
// them and returns immediately.
func (t *Throttler) Limit(n int64) {
	if t.avgBytesPerSec <= 0 && t.peakCapacity <= 0 {
		t.mu.Lock()
		t.bytesSent += n
		t.mu.Unlock()
		return
	}
	for {
		wait := t.tryAdmit(n)
		if wait <= 0 {
			return
		}
		time.Sleep(wait)
	}
}

func (t *Throttler) tryAdmit(n int64) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.lastRefill).Seconds()
	if elapsed > 0 && t.peakCapacity > 0 {
		t.peakBucket += elapsed * t.peakCapacity
		if t.peakBucket > t.peakCapacity {
			t.peakBucket = t.peakCapacity
		}
		t.lastRefill = now
	}

	if t.avgBytesPerSec > 0 {
		if sinceStart := now.Sub(t.started).Seconds(); sinceStart > 0 {
			allowedByNow := sinceStart * t.avgBytesPerSec
			if float64(t.bytesSent+n) > allowedByNow {
				deficit := float64(t.bytesSent+n) - allowedByNow
				return time.Duration(deficit / t.avgBytesPerSec * float64(time.Second))
			}
		}
	}

	if t.peakCapacity > 0 && float64(n) > t.peakBucket {
		deficit := float64(n) - t.peakBucket
		return time.Duration(deficit / t.peakCapacity * float64(time.Second))
	}

	if t.peakCapacity > 0 {
		t.peakBucket -= float64(n)
	}
	t.bytesSent += n
	return 0
}

// BytesSent reports the cumulative bytes admitted through Limit.
func (t *Throttler) BytesSent() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesSent
}
