package rangefinder

import (
	"errors"
	"sync"
	"time"
)

// AlarmID identifies a scheduled one-shot alarm. Valid IDs are always positive.
type AlarmID int32

// AlarmCallback runs when an alarm fires. Returning a positive duration schedules the same
// alarm again after that delay, returning 0 ends it.
type AlarmCallback func(id AlarmID) time.Duration

var ErrNoAlarmSlots = errors.New("no alarm slots available")

// Timebase is the monotonic clock and alarm service used by a measurement cycle.
type Timebase interface {
	// NowMicros returns microseconds since the timebase was created.
	NowMicros() uint64
	// AddAlarm schedules cb to run once after d.
	AddAlarm(d time.Duration, cb AlarmCallback) (AlarmID, error)
	// CancelAlarm stops a pending alarm. It returns false if the alarm already fired or
	// was never scheduled.
	CancelAlarm(id AlarmID) bool
}

// HostTimebase is a Timebase backed by the Go runtime timers, with a fixed number of
// alarm slots like a hardware alarm pool.
type HostTimebase struct {
	boot time.Time

	mu     sync.Mutex
	slots  int
	nextID AlarmID
	alarms map[AlarmID]*time.Timer
}

func NewTimebase(slots int) *HostTimebase {
	return &HostTimebase{
		boot:   time.Now(),
		slots:  slots,
		alarms: map[AlarmID]*time.Timer{},
	}
}

func (tb *HostTimebase) NowMicros() uint64 {
	return uint64(time.Since(tb.boot).Microseconds())
}

func (tb *HostTimebase) AddAlarm(d time.Duration, cb AlarmCallback) (AlarmID, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if len(tb.alarms) >= tb.slots {
		return 0, ErrNoAlarmSlots
	}
	tb.nextID++
	if tb.nextID <= 0 {
		tb.nextID = 1
	}
	id := tb.nextID
	tb.schedule(id, d, cb)
	return id, nil
}

// schedule must be called with tb.mu held.
func (tb *HostTimebase) schedule(id AlarmID, d time.Duration, cb AlarmCallback) {
	tb.alarms[id] = time.AfterFunc(d, func() { tb.fire(id, cb) })
}

func (tb *HostTimebase) fire(id AlarmID, cb AlarmCallback) {
	tb.mu.Lock()
	if _, ok := tb.alarms[id]; !ok {
		// Cancelled after the timer expired but before it got here.
		tb.mu.Unlock()
		return
	}
	delete(tb.alarms, id)
	tb.mu.Unlock()

	next := cb(id)
	if next <= 0 {
		return
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if len(tb.alarms) < tb.slots {
		tb.schedule(id, next, cb)
	} else {
		log.Warnf("Dropping reschedule of alarm %d, no alarm slots available", id)
	}
}

func (tb *HostTimebase) CancelAlarm(id AlarmID) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	t, ok := tb.alarms[id]
	if !ok {
		return false
	}
	delete(tb.alarms, id)
	t.Stop()
	return true
}
