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

// Package rtc provides the wall clock used to timestamp readings.
package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
)

const (
	SourceSoft    = "soft"
	SourcePCF8563 = "pcf8563"

	// InitialTimeLayout is the layout of the configured initial wall-clock value.
	InitialTimeLayout = "2006-01-02 15:04:05"
)

var log = logging.NewLogger("info")

func SetLogger(l *logging.Logger) {
	log = l
}

// Clock is a wall clock. It is only read for formatting log lines.
type Clock interface {
	Now() (time.Time, error)
}

// SoftRTC is a wall clock seeded once with a fixed value that then advances with the
// monotonic clock, much like an RTC peripheral that was set at boot.
type SoftRTC struct {
	mu    sync.Mutex
	seed  time.Time
	setAt time.Time
	since func(time.Time) time.Duration
}

func NewSoftRTC() *SoftRTC {
	return &SoftRTC{since: time.Since}
}

// Set seeds the clock.
func (r *SoftRTC) Set(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seed = t.Truncate(time.Second)
	r.setAt = time.Now()
}

func (r *SoftRTC) Now() (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setAt.IsZero() {
		return time.Time{}, fmt.Errorf("soft RTC has not been set")
	}
	return r.seed.Add(r.since(r.setAt)).Truncate(time.Second), nil
}

// ParseInitialTime parses a configured initial wall-clock value.
func ParseInitialTime(s string) (time.Time, error) {
	t, err := time.Parse(InitialTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid initial time '%s', expected format '%s': %w", s, InitialTimeLayout, err)
	}
	return t, nil
}

// New returns the clock for the given source. A soft clock is seeded with initial,
// a PCF8563 keeps its own time and initial is ignored.
func New(source string, initial time.Time) (Clock, error) {
	switch source {
	case "", SourceSoft:
		r := NewSoftRTC()
		r.Set(initial)
		log.Infof("Soft RTC set to %s", FormatDateTime(initial))
		return r, nil
	case SourcePCF8563:
		log.Debug("Connecting to PCF8563 RTC")
		return InitPCF8563()
	default:
		return nil, fmt.Errorf("unknown RTC source '%s'", source)
	}
}

// FormatDateTime renders t as "<Weekday> <day> <Month> <hour>:<mm>:<ss> <year>".
func FormatDateTime(t time.Time) string {
	return fmt.Sprintf("%s %d %s %d:%02d:%02d %d",
		t.Weekday(), t.Day(), t.Month(), t.Hour(), t.Minute(), t.Second(), t.Year())
}
