package rangefinder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConsole feeds scripted bytes. Once the idle input runs out it cancels the session.
type fakeConsole struct {
	mu      sync.Mutex
	out     bytes.Buffer
	idle    []byte
	polls   []byte // 0 means nothing arrives during that poll
	readErr error
	cancel  context.CancelFunc
}

func (f *fakeConsole) ReadByte(ctx context.Context) (byte, error) {
	f.mu.Lock()
	if f.readErr != nil {
		f.mu.Unlock()
		return 0, f.readErr
	}
	if len(f.idle) == 0 {
		f.mu.Unlock()
		f.cancel()
		<-ctx.Done()
		return 0, ctx.Err()
	}
	b := f.idle[0]
	f.idle = f.idle[1:]
	f.mu.Unlock()
	return b, nil
}

func (f *fakeConsole) PollByte(timeout time.Duration) (byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.polls) == 0 {
		return 0, false
	}
	b := f.polls[0]
	f.polls = f.polls[1:]
	return b, b != 0
}

func (f *fakeConsole) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

func (f *fakeConsole) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

type scriptedMeasurer struct {
	result Result
	calls  int
}

func (m *scriptedMeasurer) Measure(ctx context.Context) (Result, error) {
	m.calls++
	return m.result, nil
}

func newTestSession(console *fakeConsole, m Measurer) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	console.cancel = cancel
	s := NewSession(console, m, NewReporter(console, "", false), DefaultSessionConfig())
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s, ctx
}

func runSession(t *testing.T, s *Session, ctx context.Context) {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}

var successResult = Result{Time: testTime, Outcome: Success, ElapsedMicros: 2000, DistanceCm: Distance(2000)}

func TestSessionIdleIgnoresEverythingButStart(t *testing.T) {
	console := &fakeConsole{idle: []byte("abN\nY"), polls: []byte{'N'}}
	m := &scriptedMeasurer{result: successResult}
	s, ctx := newTestSession(console, m)

	runSession(t, s, ctx)

	expected := "Start? (Y)\n" +
		"a\nStart? (Y)\n" +
		"b\nStart? (Y)\n" +
		"N\nStart? (Y)\n" +
		"\n\nStart? (Y)\n" +
		"Y\n" +
		"Saturday 15 March 19:05:00 2025 - 34.30\n" +
		"Start? (Y)\n"
	assert.Equal(t, expected, console.String())
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, Idle, s.State())
}

func TestSessionIdleEchoesLineEndings(t *testing.T) {
	console := &fakeConsole{idle: []byte("\r\nY"), polls: []byte{'N'}}
	s, ctx := newTestSession(console, &scriptedMeasurer{result: successResult})

	runSession(t, s, ctx)

	expected := "Start? (Y)\n" +
		"\r\nStart? (Y)\n" +
		"\n\nStart? (Y)\n" +
		"Y\n" +
		"Saturday 15 March 19:05:00 2025 - 34.30\n" +
		"Start? (Y)\n"
	assert.Equal(t, expected, console.String())
}

func TestSessionRunningIgnoresEverythingButStop(t *testing.T) {
	console := &fakeConsole{idle: []byte("Y"), polls: []byte{0, 'x', 'Y', 'N'}}
	m := &scriptedMeasurer{result: successResult}
	s, ctx := newTestSession(console, m)

	runSession(t, s, ctx)

	line := "Saturday 15 March 19:05:00 2025 - 34.30\n"
	expected := "Start? (Y)\nY\n" + strings.Repeat(line, 4) + "Start? (Y)\n"
	assert.Equal(t, expected, console.String())
	assert.Equal(t, 4, m.calls)
}

func TestSessionSleepsAfterEveryCycle(t *testing.T) {
	console := &fakeConsole{idle: []byte("Y"), polls: []byte{0, 'N'}}
	s, ctx := newTestSession(console, &scriptedMeasurer{result: successResult})
	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	runSession(t, s, ctx)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeps)
}

func TestSessionConsoleError(t *testing.T) {
	console := &fakeConsole{readErr: io.ErrUnexpectedEOF}
	s, ctx := newTestSession(console, &scriptedMeasurer{})

	err := s.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestSessionEndToEnd(t *testing.T) {
	cycle, pin, tb := newTestCycle(2000, time.Second)
	console := &fakeConsole{idle: []byte("Y"), polls: []byte{0, 'N'}}
	s, ctx := newTestSession(console, cycle)

	runSession(t, s, ctx)

	lines := strings.Split(strings.TrimSuffix(console.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Start? (Y)", lines[0])
	assert.Equal(t, "Y", lines[1])
	assert.True(t, strings.HasSuffix(lines[2], "- 34.30"), lines[2])
	assert.True(t, strings.HasSuffix(lines[3], "- 34.30"), lines[3])
	assert.Equal(t, "Start? (Y)", lines[4])
	assert.Len(t, pin.windowAtPulse, 2)
	assert.Equal(t, 0, tb.pending())
}

func TestSessionEndToEndNoEcho(t *testing.T) {
	cycle, _, _ := newTestCycle(0, 20*time.Millisecond)
	console := &fakeConsole{idle: []byte("Y"), polls: []byte{'N'}}
	s, ctx := newTestSession(console, cycle)

	start := time.Now()
	runSession(t, s, ctx)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, "Start? (Y)\nY\nSaturday 15 March 19:05:00 2025 - Falha\nStart? (Y)\n", console.String())
}
