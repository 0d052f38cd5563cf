package rangefinder

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceReadings(t *testing.T) {
	reporter := NewReporter(&bytes.Buffer{}, "", false)
	session := NewSession(&fakeConsole{}, &scriptedMeasurer{}, reporter, DefaultSessionConfig())
	s := rangefinderService{session: session, reporter: reporter}

	state, dErr := s.GetState()
	assert.Nil(t, dErr)
	assert.Equal(t, "idle", state)

	_, _, _, dErr = s.GetLastReading()
	require.NotNil(t, dErr)
	assert.Equal(t, []interface{}{errNoReading.Error()}, dErr.Body)

	require.NoError(t, reporter.Report(Result{Time: testTime, Outcome: Success, ElapsedMicros: 2000, DistanceCm: Distance(2000)}))
	session.setState(Running)

	state, _ = s.GetState()
	assert.Equal(t, "running", state)
	ts, outcome, distance, dErr := s.GetLastReading()
	assert.Nil(t, dErr)
	assert.Equal(t, "2025-03-15T19:05:00Z", ts)
	assert.Equal(t, "success", outcome)
	assert.InDelta(t, 34.30, distance, 1e-9)
}
