// Package progress drives the operator-facing console progress bar
// and periodic log lines for a running transfer, adapted from the
// teacher's per-file progress.Reporter (internal/progress/progress.go)
// to a whole-directory-transfer granularity: one wdt session stripes
// many files across many connections at once, so there is no single
// "current filename" to report against, only aggregate bytes moved.
package progress

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yousafgill/wdt/internal/logging"
)

// Stats holds the counters a Reporter polls. TotalBytes is filled in
// once enumeration has counted the full source tree (or is 0 if that
// count isn't available yet, e.g. a manifest with unknown sizes).
type Stats struct {
	TotalBytes       int64
	TransferredBytes atomic.Int64
	StartTime        time.Time
}

// UpdateTransferred atomically adds to the transferred byte count.
func (s *Stats) UpdateTransferred(bytes int64) {
	s.TransferredBytes.Add(bytes)
}

// GetTransferred atomically reads the transferred byte count.
func (s *Stats) GetTransferred() int64 {
	return s.TransferredBytes.Load()
}

// Reporter periodically logs and (optionally) renders a console
// progress bar for a Stats the caller updates from its worker
// goroutines.
type Reporter struct {
	stats       *Stats
	ticker      *time.Ticker
	done        chan struct{}
	showConsole bool
}

// NewReporter creates a Reporter over stats, updating once a second.
func NewReporter(stats *Stats, showConsole bool) *Reporter {
	return &Reporter{
		stats:       stats,
		ticker:      time.NewTicker(1 * time.Second),
		done:        make(chan struct{}),
		showConsole: showConsole,
	}
}

// Start begins the reporting loop in a background goroutine.
func (r *Reporter) Start() {
	go r.reportLoop()
}

// Stop halts the reporting loop and, if a console bar was shown,
// prints a trailing newline so following output starts on its own line.
func (r *Reporter) Stop() {
	r.ticker.Stop()
	close(r.done)
	if r.showConsole {
		fmt.Println()
	}
}

func (r *Reporter) reportLoop() {
	var lastTransferred int64
	lastUpdateTime := time.Now()

	const speedWindowSize = 5
	speedHistory := make([]float64, 0, speedWindowSize)

	for {
		select {
		case <-r.ticker.C:
			r.updateProgress(&lastTransferred, &lastUpdateTime, &speedHistory)
		case <-r.done:
			return
		}
	}
}

func (r *Reporter) updateProgress(lastTransferred *int64, lastUpdateTime *time.Time, speedHistory *[]float64) {
	now := time.Now()
	transferred := r.stats.TransferredBytes.Load()

	timeDiff := now.Sub(*lastUpdateTime).Seconds()
	byteDiff := transferred - *lastTransferred
	currentSpeed := 0.0
	if timeDiff > 0 {
		currentSpeed = float64(byteDiff) / 1024 / 1024 / timeDiff
	}

	*speedHistory = append(*speedHistory, currentSpeed)
	if len(*speedHistory) > 5 {
		*speedHistory = (*speedHistory)[1:]
	}

	var avgSpeed float64
	for _, s := range *speedHistory {
		avgSpeed += s
	}
	if len(*speedHistory) > 0 {
		avgSpeed /= float64(len(*speedHistory))
	}

	eta := etaString(r.stats.TotalBytes, transferred, avgSpeed)

	if int(now.Sub(r.stats.StartTime).Seconds())%10 == 0 {
		logging.LogTransferProgress(transferred, r.stats.TotalBytes, avgSpeed)
	}

	if r.showConsole {
		r.showConsoleProgress(transferred, avgSpeed, eta)
	}

	*lastTransferred = transferred
	*lastUpdateTime = now
}

func etaString(total, transferred int64, avgSpeedMBps float64) string {
	if avgSpeedMBps <= 0.1 || total <= 0 {
		return "calculating..."
	}
	remainingBytes := total - transferred
	remainingSeconds := float64(remainingBytes) / (avgSpeedMBps * 1024 * 1024)
	switch {
	case remainingSeconds < 60:
		return fmt.Sprintf("%.0f sec", remainingSeconds)
	case remainingSeconds < 3600:
		return fmt.Sprintf("%.1f min", remainingSeconds/60)
	default:
		return fmt.Sprintf("%.1f hr", remainingSeconds/3600)
	}
}

func (r *Reporter) showConsoleProgress(transferred int64, avgSpeed float64, eta string) {
	const barWidth = 30
	percent := 0.0
	if r.stats.TotalBytes > 0 {
		percent = float64(transferred) / float64(r.stats.TotalBytes) * 100
		if percent > 100 {
			percent = 100
		}
	}
	completedWidth := int(float64(barWidth) * percent / 100)
	bar := strings.Repeat("█", completedWidth) + strings.Repeat("░", barWidth-completedWidth)

	fmt.Printf("\r[%s] %.1f%% (%.2f/%.2f MB) at %.2f MB/s ETA: %s",
		bar,
		percent,
		float64(transferred)/1024/1024,
		float64(r.stats.TotalBytes)/1024/1024,
		avgSpeed,
		eta)
}

// CurrentStats returns a point-in-time read of transferred bytes,
// percent complete, and elapsed time.
func (r *Reporter) CurrentStats() (transferred int64, percent float64, elapsed time.Duration) {
	transferred = r.stats.TransferredBytes.Load()
	if r.stats.TotalBytes > 0 {
		percent = float64(transferred) / float64(r.stats.TotalBytes) * 100
	}
	elapsed = time.Since(r.stats.StartTime)
	return
}
