// Package abortctl implements the cooperative abort flag shared by
// every worker on one side of a transfer, per SPEC_FULL.md §4.10.
// Workers poll IsSet at loop heads and around blocking calls; no
// goroutine is ever forcibly killed.
package abortctl

import (
	"sync/atomic"
	"time"

	wdterrors "github.com/yousafgill/wdt/internal/errors"
)

// Checker holds the process-wide abort state for one transfer.
type Checker struct {
	flag int32
	code int32
	stop chan struct{}
}

// New creates a Checker in the not-aborted state.
func New() *Checker {
	return &Checker{stop: make(chan struct{})}
}

// Set records code as the reason for abort and flips the flag, if it
// isn't already set. Later calls after the first are no-ops so the
// first (usually most specific) error code wins.
func (c *Checker) Set(code wdterrors.Code) {
	if atomic.CompareAndSwapInt32(&c.flag, 0, 1) {
		atomic.StoreInt32(&c.code, int32(code))
		close(c.stop)
	}
}

// IsSet reports whether abort has been requested.
func (c *Checker) IsSet() bool {
	return atomic.LoadInt32(&c.flag) == 1
}

// Code returns the abort reason, or errors.OK if not set.
func (c *Checker) Code() wdterrors.Code {
	if !c.IsSet() {
		return wdterrors.OK
	}
	return wdterrors.Code(atomic.LoadInt32(&c.code))
}

// Done returns a channel closed the moment abort is requested, for
// select-based cancellation of blocking waits.
func (c *Checker) Done() <-chan struct{} {
	return c.stop
}

// StartAbortAfter arms a timer that calls Set(ABORTED_BY_APPLICATION)
// once d elapses, implementing the abort-after-seconds knob. A
// non-positive duration disables the timer. The returned func stops
// the timer if the transfer finishes first.
func (c *Checker) StartAbortAfter(d time.Duration) func() {
	if d <= 0 {
		return func() {}
	}
	timer := time.AfterFunc(d, func() {
		c.Set(wdterrors.ABORTED_BY_APPLICATION)
	})
	return func() { timer.Stop() }
}
