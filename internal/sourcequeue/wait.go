package sourcequeue

import (
	"sync"
	"time"
)

// waitWithTimeout blocks on cond.Wait (caller must hold cond.L) until
// either a signal/broadcast arrives or dur elapses, whichever is
// first. It returns false if the timeout fired, true otherwise; either
// way the caller re-checks its own condition since a woken waiter and
// a timed-out waiter both need to.
func waitWithTimeout(cond *sync.Cond, dur time.Duration) bool {
	timedOut := false
	timer := time.AfterFunc(dur, func() {
		cond.L.Lock()
		timedOut = true
		cond.Broadcast()
		cond.L.Unlock()
	})
	cond.Wait()
	timer.Stop()
	return !timedOut
}
