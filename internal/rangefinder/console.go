package rangefinder

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-rangefinder/serialhelper"
)

// serialReadTimeout is how long a serial read waits before returning with no data.
const serialReadTimeout = 100 * time.Millisecond

// Console is the character stream commands are read from and readings are written to.
type Console interface {
	io.Writer
	// ReadByte blocks until a byte is available.
	ReadByte(ctx context.Context) (byte, error)
	// PollByte returns a byte if one arrives within timeout.
	PollByte(timeout time.Duration) (byte, bool)
}

// StreamConsole is a Console over a reader and a writer. Bytes are read in the background
// so a poll never blocks on the underlying reader.
type StreamConsole struct {
	wmu sync.Mutex
	w   io.Writer

	bytes  chan byte
	err    error
	closer io.Closer
}

// NewStreamConsole starts reading r. When eofIsTimeout is set an io.EOF from r means no
// data was ready yet rather than the end of the stream, as with a serial port read timeout.
func NewStreamConsole(r io.Reader, w io.Writer, eofIsTimeout bool) *StreamConsole {
	c := &StreamConsole{
		w:     w,
		bytes: make(chan byte, 64),
	}
	go c.readLoop(r, eofIsTimeout)
	return c
}

func (c *StreamConsole) readLoop(r io.Reader, eofIsTimeout bool) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			c.bytes <- b
		}
		if errors.Is(err, io.EOF) && eofIsTimeout {
			continue
		}
		if err != nil {
			c.err = err
			close(c.bytes)
			return
		}
	}
}

func (c *StreamConsole) ReadByte(ctx context.Context) (byte, error) {
	select {
	case b, ok := <-c.bytes:
		if !ok {
			return 0, c.err
		}
		return b, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *StreamConsole) PollByte(timeout time.Duration) (byte, bool) {
	select {
	case b, ok := <-c.bytes:
		return b, ok
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b, ok := <-c.bytes:
		return b, ok
	case <-t.C:
		return 0, false
	}
}

func (c *StreamConsole) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.w.Write(p)
}

func (c *StreamConsole) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// openConsole opens the serial device as the console, or stdin and stdout when device is empty.
func openConsole(device string, baud int) (*StreamConsole, error) {
	if device == "" {
		log.Info("Using stdin/stdout as the console")
		return NewStreamConsole(os.Stdin, os.Stdout, false), nil
	}
	log.Infof("Using serial device '%s' at %d baud as the console", device, baud)
	port, err := serialhelper.OpenPort(device, baud, serialReadTimeout)
	if err != nil {
		return nil, err
	}
	c := NewStreamConsole(port, port, true)
	c.closer = port
	return c, nil
}
