package rangefinder

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/tc2-hat-rangefinder/internal/rtc"
)

const (
	DefaultFailureMarker = "Falha"
	timerFailureMessage  = "Failed to add timer"
	failureEventType     = "rangefinderFailure"
)

// Reporter writes one console line per measurement result and keeps the latest result.
type Reporter struct {
	w             io.Writer
	failureMarker string
	reportEvents  bool
	addEvent      func(eventclient.Event) error

	mu         sync.Mutex
	last       Result
	hasLast    bool
	lastFailed bool
}

func NewReporter(w io.Writer, failureMarker string, reportEvents bool) *Reporter {
	if failureMarker == "" {
		failureMarker = DefaultFailureMarker
	}
	return &Reporter{
		w:             w,
		failureMarker: failureMarker,
		reportEvents:  reportEvents,
		addEvent:      eventclient.AddEvent,
	}
}

// Line renders a result as "<datetime> - <value>".
func (r *Reporter) Line(res Result) string {
	value := r.failureMarker
	if res.Outcome == Success {
		value = fmt.Sprintf("%.2f", res.DistanceCm)
	}
	return fmt.Sprintf("%s - %s", rtc.FormatDateTime(res.Time), value)
}

func (r *Reporter) Report(res Result) error {
	if res.Outcome == SchedulingError {
		if _, err := fmt.Fprintln(r.w, timerFailureMessage); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(r.w, r.Line(res)); err != nil {
		return err
	}

	if res.Outcome == Success {
		log.Debugf("Distance: %.2fcm, echo: %dµs", res.DistanceCm, res.ElapsedMicros)
	} else {
		log.Debugf("Measurement failed: %s", res.Outcome)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	failed := res.Outcome != Success
	if failed && (!r.hasLast || !r.lastFailed) && r.reportEvents {
		r.reportFailure(res)
	}
	r.last = res
	r.hasLast = true
	r.lastFailed = failed
	return nil
}

func (r *Reporter) reportFailure(res Result) {
	log.Infof("Reporting %s after %s", failureEventType, res.Outcome)
	details := map[string]interface{}{
		"outcome": res.Outcome.String(),
	}
	if res.ElapsedMicros > 0 {
		details["distance"] = res.DistanceCm
	}
	err := r.addEvent(eventclient.Event{
		Timestamp: time.Now(),
		Type:      failureEventType,
		Details:   details,
	})
	if err != nil {
		log.Error("Error adding event:", err)
	}
}

// Last returns the most recent result, if any.
func (r *Reporter) Last() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}
