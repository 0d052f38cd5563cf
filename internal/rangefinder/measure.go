/*
tc2-hat-rangefinder - Ultrasonic range finder on the TC2 hat
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package rangefinder

import (
	"context"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-rangefinder/internal/rtc"
	"periph.io/x/conn/v3/gpio"
)

// SpeedOfSoundCmPerMicros is the speed of sound in air at about 20°C.
const SpeedOfSoundCmPerMicros = 0.0343

// Distance converts an echo pulse width to a one way distance in centimetres.
func Distance(elapsedMicros uint64) float64 {
	return float64(elapsedMicros) * SpeedOfSoundCmPerMicros / 2
}

type Outcome int

const (
	Success Outcome = iota
	Timeout
	OutOfRange
	SchedulingError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case OutOfRange:
		return "outOfRange"
	case SchedulingError:
		return "schedulingError"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one measurement cycle. ElapsedMicros and DistanceCm are set
// whenever a complete echo pulse was seen, including out of range readings.
type Result struct {
	Time          time.Time
	Outcome       Outcome
	ElapsedMicros uint64
	DistanceCm    float64
}

type CycleConfig struct {
	TriggerPulse  time.Duration
	EchoTimeout   time.Duration
	MaxDistanceCm float64
	ArmRetries    int
}

func DefaultCycleConfig() CycleConfig {
	return CycleConfig{
		TriggerPulse:  10 * time.Microsecond,
		EchoTimeout:   time.Second,
		MaxDistanceCm: 300,
		ArmRetries:    3,
	}
}

// Cycle runs measurement cycles. It owns the pulse window and the timeout flag for its
// lifetime. Only one Measure call may be in flight at a time.
type Cycle struct {
	cfg     CycleConfig
	trigger TriggerLine
	clock   rtc.Clock
	window  PulseWindow
	capture *EdgeCapture
	guard   *TimeoutGuard
	sleep   func(time.Duration)
}

func NewCycle(trigger TriggerLine, tb Timebase, clock rtc.Clock, cfg CycleConfig) *Cycle {
	c := &Cycle{
		cfg:     cfg,
		trigger: trigger,
		clock:   clock,
		guard:   NewTimeoutGuard(tb, cfg.ArmRetries, time.Millisecond),
		sleep:   time.Sleep,
	}
	c.capture = NewEdgeCapture(&c.window)
	return c
}

// Capture is the edge handler to register against the echo line.
func (c *Cycle) Capture() *EdgeCapture {
	return c.capture
}

// Measure runs one trigger, wait, compute cycle. The returned error is only set if the
// trigger line could not be driven or ctx was cancelled, every other failure is an Outcome.
func (c *Cycle) Measure(ctx context.Context) (Result, error) {
	c.window.Reset()
	c.capture.drain()
	c.guard.Clear()

	if err := c.pulseTrigger(); err != nil {
		return Result{}, err
	}

	id, err := c.guard.Arm(c.cfg.EchoTimeout)
	if err != nil {
		log.Error("Failed to add timer: ", err)
		return c.result(SchedulingError, 0), nil
	}

	select {
	case <-c.capture.Echo():
	case <-c.guard.Done():
	case <-ctx.Done():
		c.guard.Cancel(id)
		return Result{}, ctx.Err()
	}
	c.guard.Cancel(id)

	end := c.window.End()
	if end == 0 {
		c.guard.Clear()
		log.Debug("No echo before timeout")
		return c.result(Timeout, 0), nil
	}
	c.guard.Clear()

	start := c.window.Start()
	if start == 0 || end < start {
		log.Debugf("Implausible echo edges, start: %d, end: %d", start, end)
		return c.result(OutOfRange, 0), nil
	}
	elapsed := end - start
	res := c.result(Success, elapsed)
	if res.DistanceCm > c.cfg.MaxDistanceCm {
		log.Debugf("Distance %.2fcm is above %.2fcm", res.DistanceCm, c.cfg.MaxDistanceCm)
		res.Outcome = OutOfRange
	}
	return res, nil
}

func (c *Cycle) pulseTrigger() error {
	if err := c.trigger.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to set trigger pin high: %w", err)
	}
	c.sleep(c.cfg.TriggerPulse)
	if err := c.trigger.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to set trigger pin low: %w", err)
	}
	return nil
}

func (c *Cycle) result(o Outcome, elapsed uint64) Result {
	res := Result{
		Time:    c.now(),
		Outcome: o,
	}
	if elapsed > 0 {
		res.ElapsedMicros = elapsed
		res.DistanceCm = Distance(elapsed)
	}
	return res
}

func (c *Cycle) now() time.Time {
	t, err := c.clock.Now()
	if err != nil {
		log.Errorf("Error reading RTC, using system time: %v", err)
		return time.Now()
	}
	return t
}
