package rangefinder

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

const (
	StartCommand = 'Y'
	StopCommand  = 'N'
	prompt       = "Start? (Y)\n"
)

type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Measurer runs one measurement cycle.
type Measurer interface {
	Measure(ctx context.Context) (Result, error)
}

type SessionConfig struct {
	// Interval is the pause after every cycle while running.
	Interval time.Duration
	// CommandPoll is how long to wait for a stop command after each cycle.
	CommandPoll time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Interval:    time.Second,
		CommandPoll: 100 * time.Microsecond,
	}
}

// Session is the idle/running loop driven by single character console commands.
type Session struct {
	cfg      SessionConfig
	console  Console
	cycle    Measurer
	reporter *Reporter
	sleep    func(ctx context.Context, d time.Duration) error

	state atomic.Int32
}

func NewSession(console Console, cycle Measurer, reporter *Reporter, cfg SessionConfig) *Session {
	return &Session{
		cfg:      cfg,
		console:  console,
		cycle:    cycle,
		reporter: reporter,
		sleep:    sleepCtx,
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	log.Infof("Session %s", state)
	s.state.Store(int32(state))
}

// Run processes commands and measurements until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if err := s.prompt(); err != nil {
		return err
	}
	for ctx.Err() == nil {
		var err error
		switch s.State() {
		case Idle:
			err = s.idle(ctx)
		case Running:
			err = s.running(ctx)
		}
		if err != nil && ctx.Err() == nil {
			return err
		}
	}
	log.Info("Session stopped")
	return nil
}

func (s *Session) idle(ctx context.Context) error {
	c, err := s.console.ReadByte(ctx)
	if err != nil {
		return fmt.Errorf("failed to read from console: %w", err)
	}
	if _, err := fmt.Fprintf(s.console, "%c\n", c); err != nil {
		return err
	}
	if c == StartCommand {
		s.setState(Running)
		return nil
	}
	log.Debugf("Ignoring %q while idle", c)
	return s.prompt()
}

func (s *Session) running(ctx context.Context) error {
	res, err := s.cycle.Measure(ctx)
	if err != nil {
		return err
	}
	if err := s.reporter.Report(res); err != nil {
		return err
	}

	if c, ok := s.console.PollByte(s.cfg.CommandPoll); ok {
		if c == StopCommand {
			s.setState(Idle)
			if err := s.prompt(); err != nil {
				return err
			}
		} else {
			log.Debugf("Ignoring %q while running", c)
		}
	}
	return s.sleep(ctx, s.cfg.Interval)
}

func (s *Session) prompt() error {
	_, err := io.WriteString(s.console, prompt)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
