package rangefinder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// timeoutReader behaves like a serial port with a read timeout, returning io.EOF when idle.
type timeoutReader struct {
	data chan []byte
}

func (r *timeoutReader) Read(p []byte) (int, error) {
	select {
	case b := <-r.data:
		return copy(p, b), nil
	case <-time.After(5 * time.Millisecond):
		return 0, io.EOF
	}
}

func TestStreamConsoleReadByte(t *testing.T) {
	var out bytes.Buffer
	c := NewStreamConsole(strings.NewReader("Y\nN"), &out, false)

	for _, expected := range []byte("Y\nN") {
		b, err := c.ReadByte(context.Background())
		require.NoError(t, err)
		assert.Equal(t, expected, b)
	}

	_, err := c.ReadByte(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	_, err = io.WriteString(c, "Start? (Y)\n")
	require.NoError(t, err)
	assert.Equal(t, "Start? (Y)\n", out.String())
}

func TestStreamConsoleTimeoutReader(t *testing.T) {
	r := &timeoutReader{data: make(chan []byte, 1)}
	c := NewStreamConsole(r, io.Discard, true)

	_, ok := c.PollByte(20 * time.Millisecond)
	assert.False(t, ok)

	r.data <- []byte("N")
	b, err := c.ReadByte(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte('N'), b)

	r.data <- []byte("x")
	require.Eventually(t, func() bool {
		b, ok := c.PollByte(time.Millisecond)
		return ok && b == 'x'
	}, time.Second, time.Millisecond)
}

func TestStreamConsoleReadCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := NewStreamConsole(pr, io.Discard, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.ReadByte(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
