package rangefinder

import "sync/atomic"

type EdgeEvent uint8

const (
	EdgeRise EdgeEvent = iota + 1
	EdgeFall
)

func (e EdgeEvent) String() string {
	switch e {
	case EdgeRise:
		return "rise"
	case EdgeFall:
		return "fall"
	default:
		return "unknown"
	}
}

// PulseWindow holds the echo pulse edge timestamps in microseconds. Zero means unset.
type PulseWindow struct {
	start atomic.Uint64
	end   atomic.Uint64
}

func (w *PulseWindow) Reset() {
	w.start.Store(0)
	w.end.Store(0)
}

func (w *PulseWindow) Start() uint64 {
	return w.start.Load()
}

func (w *PulseWindow) End() uint64 {
	return w.end.Load()
}

// EdgeCapture stamps a PulseWindow from echo line edges. OnEdge may be called from any
// goroutine while a single measurement cycle reads the window.
type EdgeCapture struct {
	window *PulseWindow
	echo   chan struct{}
}

func NewEdgeCapture(w *PulseWindow) *EdgeCapture {
	return &EdgeCapture{
		window: w,
		echo:   make(chan struct{}, 1),
	}
}

func (c *EdgeCapture) OnEdge(ev EdgeEvent, ts uint64) {
	switch ev {
	case EdgeRise:
		c.window.start.Store(ts)
	case EdgeFall:
		c.window.end.Store(ts)
		select {
		case c.echo <- struct{}{}:
		default:
		}
	}
}

// Echo is signalled after a falling edge has been stored.
func (c *EdgeCapture) Echo() <-chan struct{} {
	return c.echo
}

func (c *EdgeCapture) drain() {
	select {
	case <-c.echo:
	default:
	}
}
