package rangefinder

import (
	"fmt"
	"sync/atomic"
	"time"
)

// TimeoutGuard is the per-cycle echo deadline. Its flag goes from false to true at most
// once between calls to Clear.
type TimeoutGuard struct {
	tb        Timebase
	retries   int
	retryWait time.Duration
	sleep     func(time.Duration)

	fired  atomic.Bool
	signal chan struct{}
}

func NewTimeoutGuard(tb Timebase, retries int, retryWait time.Duration) *TimeoutGuard {
	return &TimeoutGuard{
		tb:        tb,
		retries:   retries,
		retryWait: retryWait,
		sleep:     time.Sleep,
		signal:    make(chan struct{}, 1),
	}
}

// Arm schedules the deadline d from now. Scheduling is retried up to the configured
// number of times before giving up.
func (g *TimeoutGuard) Arm(d time.Duration) (AlarmID, error) {
	var err error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			g.sleep(g.retryWait)
		}
		var id AlarmID
		id, err = g.tb.AddAlarm(d, g.onDeadline)
		if err == nil {
			return id, nil
		}
		log.Debugf("Failed to add timer (attempt %d of %d): %v", attempt+1, g.retries+1, err)
	}
	return 0, fmt.Errorf("failed to add timer after %d attempts: %w", g.retries+1, err)
}

func (g *TimeoutGuard) onDeadline(AlarmID) time.Duration {
	if g.fired.CompareAndSwap(false, true) {
		select {
		case g.signal <- struct{}{}:
		default:
		}
	}
	return 0
}

// Cancel deactivates the deadline. It is a no-op once the deadline has fired.
func (g *TimeoutGuard) Cancel(id AlarmID) {
	if id <= 0 {
		return
	}
	g.tb.CancelAlarm(id)
}

func (g *TimeoutGuard) Fired() bool {
	return g.fired.Load()
}

// Done is signalled when the deadline fires.
func (g *TimeoutGuard) Done() <-chan struct{} {
	return g.signal
}

// Clear resets the flag and drops a pending signal.
func (g *TimeoutGuard) Clear() {
	g.fired.Store(false)
	select {
	case <-g.signal:
	default:
	}
}
