// This section deals with the trigger and echo lines of the sensor.

package rangefinder

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgePollInterval bounds how long the echo watcher waits before checking for shutdown.
const edgePollInterval = 100 * time.Millisecond

type TriggerLine interface {
	Out(l gpio.Level) error
}

type EchoLine interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
	Read() gpio.Level
}

func openPins(triggerName, echoName string) (gpio.PinIO, gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph: %v", err)
	}

	trigger := gpioreg.ByName(triggerName)
	if trigger == nil {
		return nil, nil, fmt.Errorf("failed to find trigger pin '%s'", triggerName)
	}
	if err := trigger.Out(gpio.Low); err != nil {
		return nil, nil, fmt.Errorf("failed to set trigger pin low: %v", err)
	}

	echo := gpioreg.ByName(echoName)
	if echo == nil {
		return nil, nil, fmt.Errorf("failed to find echo pin '%s'", echoName)
	}
	return trigger, echo, nil
}

// EchoWatcher delivers rising and falling edges of the echo line to a cycle's edge capture.
type EchoWatcher struct {
	echo    EchoLine
	tb      Timebase
	capture *EdgeCapture
	wait    func(EchoLine) (bool, error)
}

// NewEchoWatcher enables edge detection on echo before returning, so the first cycle can't
// trigger before edges are being reported.
func NewEchoWatcher(echo EchoLine, tb Timebase, capture *EdgeCapture) (*EchoWatcher, error) {
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("failed to set echo pin edge detection: %w", err)
	}
	return &EchoWatcher{
		echo:    echo,
		tb:      tb,
		capture: capture,
		wait:    waitForEdge,
	}, nil
}

func waitForEdge(echo EchoLine) (bool, error) {
	return echo.WaitForEdge(edgePollInterval), nil
}

// Run watches the echo line while fn runs. If watching fails fn's context is cancelled and
// the watch error is returned in place of fn's result.
func (w *EchoWatcher) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchErr := make(chan error, 1)
	go func() {
		err := w.watch(ctx)
		if err != nil {
			log.Errorf("Echo watcher stopped: %v", err)
		}
		watchErr <- err
		cancel()
	}()

	err := fn(ctx)
	cancel()
	if werr := <-watchErr; werr != nil {
		return werr
	}
	return err
}

func (w *EchoWatcher) watch(ctx context.Context) error {
	for ctx.Err() == nil {
		edge, err := w.wait(w.echo)
		if err != nil {
			return fmt.Errorf("failed waiting for echo edge: %w", err)
		}
		if !edge {
			continue
		}
		ts := w.tb.NowMicros()
		if w.echo.Read() == gpio.High {
			w.capture.OnEdge(EdgeRise, ts)
		} else {
			w.capture.OnEdge(EdgeFall, ts)
		}
	}
	return nil
}
