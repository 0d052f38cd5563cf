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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/tc2-hat-rangefinder/internal/rtc"
	"github.com/TheCacophonyProject/tc2-hat-rangefinder/serialhelper"
	"github.com/alexflint/go-arg"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type Args struct {
	Once      *subcommand `arg:"subcommand:once" help:"Make a single measurement, print it and exit."`
	Console   string      `arg:"--console" help:"Serial device to use as the command console, overrides the config. Use '-' for stdin/stdout."`
	Baud      int         `arg:"--baud" help:"Console baud rate, overrides the config."`
	ConfigDir string      `arg:"-c,--config" help:"configuration folder"`
	logging.LogArgs
}

type subcommand struct {
}

var defaultArgs = Args{
	ConfigDir: goconfig.DefaultConfigDir,
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	log = logging.NewLogger(args.LogLevel)
	rtc.SetLogger(log)
	serialhelper.SetLogger(log)

	log.Infof("Running version: %s", version)

	fileConfig, err := ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	config := applyArgs(*fileConfig, args)
	log.Debugf("Config: %+v", config)

	initialTime, err := rtc.ParseInitialTime(config.InitialTime)
	if err != nil {
		return err
	}
	clock, err := rtc.New(config.RTC, initialTime)
	if err != nil {
		return err
	}

	trigger, echo, err := openPins(config.TriggerPin, config.EchoPin)
	if err != nil {
		return err
	}
	log.Infof("Trigger pin: %s, echo pin: %s", trigger, echo)

	tb := NewTimebase(config.AlarmSlots)
	cycle := NewCycle(trigger, tb, clock, config.cycleConfig())
	watcher, err := NewEchoWatcher(echo, tb, cycle.Capture())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args.Once != nil {
		reporter := NewReporter(os.Stdout, config.FailureMarker, false)
		return watcher.Run(ctx, func(ctx context.Context) error {
			res, err := cycle.Measure(ctx)
			if err != nil {
				return err
			}
			return reporter.Report(res)
		})
	}

	go func() {
		if err := checkConfigChanges(fileConfig, args.ConfigDir); err != nil {
			log.Errorf("Not watching config for changes: %v", err)
		}
	}()

	console, err := openConsole(config.Console, config.BaudRate)
	if err != nil {
		return err
	}
	defer console.Close()

	reporter := NewReporter(console, config.FailureMarker, config.ReportEvents)
	session := NewSession(console, cycle, reporter, config.sessionConfig())

	if config.DBusService {
		log.Debug("Starting rangefinder DBus service.")
		if err := startService(session, reporter); err != nil {
			return fmt.Errorf("failed to start dbus service: %w", err)
		}
	}

	return watcher.Run(ctx, session.Run)
}

// applyArgs returns the config with command line overrides applied.
func applyArgs(c Config, args Args) Config {
	if args.Console == "-" {
		c.Console = ""
	} else if args.Console != "" {
		c.Console = args.Console
	}
	if args.Baud > 0 {
		c.BaudRate = args.Baud
	}
	return c
}
