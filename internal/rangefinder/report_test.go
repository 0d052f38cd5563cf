package rangefinder

import (
	"bytes"
	"testing"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportLines(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(&out, "", false)

	require.NoError(t, r.Report(Result{Time: testTime, Outcome: Success, ElapsedMicros: 1000, DistanceCm: Distance(1000)}))
	require.NoError(t, r.Report(Result{Time: testTime, Outcome: Timeout}))
	require.NoError(t, r.Report(Result{Time: testTime, Outcome: OutOfRange, ElapsedMicros: 20000, DistanceCm: Distance(20000)}))
	require.NoError(t, r.Report(Result{Time: testTime, Outcome: SchedulingError}))

	expected := "Saturday 15 March 19:05:00 2025 - 17.15\n" +
		"Saturday 15 March 19:05:00 2025 - Falha\n" +
		"Saturday 15 March 19:05:00 2025 - Falha\n" +
		"Failed to add timer\n" +
		"Saturday 15 March 19:05:00 2025 - Falha\n"
	assert.Equal(t, expected, out.String())
}

func TestReportFailureMarker(t *testing.T) {
	r := NewReporter(&bytes.Buffer{}, "No reading", false)
	assert.Equal(t, "Saturday 15 March 19:05:00 2025 - No reading", r.Line(Result{Time: testTime, Outcome: Timeout}))
	assert.Equal(t, "Saturday 15 March 19:05:00 2025 - 34.30", r.Line(Result{Time: testTime, Outcome: Success, DistanceCm: Distance(2000)}))
}

func TestReportLast(t *testing.T) {
	r := NewReporter(&bytes.Buffer{}, "", false)
	_, ok := r.Last()
	assert.False(t, ok)

	res := Result{Time: testTime, Outcome: Success, ElapsedMicros: 2000, DistanceCm: Distance(2000)}
	require.NoError(t, r.Report(res))
	last, ok := r.Last()
	assert.True(t, ok)
	assert.Equal(t, res, last)
}

func TestReportFailureEvents(t *testing.T) {
	r := NewReporter(&bytes.Buffer{}, "", true)
	var events []eventclient.Event
	r.addEvent = func(e eventclient.Event) error {
		events = append(events, e)
		return nil
	}

	outcomes := []Outcome{Timeout, Timeout, Success, Success, OutOfRange, SchedulingError, Success}
	for _, o := range outcomes {
		require.NoError(t, r.Report(Result{Time: testTime, Outcome: o}))
	}

	require.Len(t, events, 2)
	assert.Equal(t, failureEventType, events[0].Type)
	assert.Equal(t, "timeout", events[0].Details["outcome"])
	assert.Equal(t, "outOfRange", events[1].Details["outcome"])
}

func TestReportEventsDisabled(t *testing.T) {
	r := NewReporter(&bytes.Buffer{}, "", false)
	r.addEvent = func(e eventclient.Event) error {
		t.Fatal("event reported while disabled")
		return nil
	}
	require.NoError(t, r.Report(Result{Time: testTime, Outcome: Timeout}))
}
