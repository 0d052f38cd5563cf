package rangefinder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/tc2-hat-rangefinder/internal/rtc"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"
)

const configKey = "rangefinder"

type Config struct {
	TriggerPin    string        `mapstructure:"trigger-pin"`
	EchoPin       string        `mapstructure:"echo-pin"`
	Console       string        `mapstructure:"console"`
	BaudRate      int           `mapstructure:"baud-rate"`
	TriggerPulse  time.Duration `mapstructure:"trigger-pulse"`
	EchoTimeout   time.Duration `mapstructure:"echo-timeout"`
	CycleInterval time.Duration `mapstructure:"cycle-interval"`
	CommandPoll   time.Duration `mapstructure:"command-poll"`
	MaxDistance   float64       `mapstructure:"max-distance"`
	FailureMarker string        `mapstructure:"failure-marker"`
	RTC           string        `mapstructure:"rtc"`
	InitialTime   string        `mapstructure:"initial-time"`
	AlarmSlots    int           `mapstructure:"alarm-slots"`
	ArmRetries    int           `mapstructure:"arm-retries"`
	ReportEvents  bool          `mapstructure:"report-events"`
	DBusService   bool          `mapstructure:"dbus-service"`
}

func DefaultConfig() Config {
	cycle := DefaultCycleConfig()
	session := DefaultSessionConfig()
	return Config{
		TriggerPin:    "GPIO3",
		EchoPin:       "GPIO2",
		BaudRate:      115200,
		TriggerPulse:  cycle.TriggerPulse,
		EchoTimeout:   cycle.EchoTimeout,
		CycleInterval: session.Interval,
		CommandPoll:   session.CommandPoll,
		MaxDistance:   cycle.MaxDistanceCm,
		FailureMarker: DefaultFailureMarker,
		RTC:           rtc.SourceSoft,
		InitialTime:   "2025-03-15 19:05:00",
		AlarmSlots:    16,
		ArmRetries:    cycle.ArmRetries,
		DBusService:   true,
	}
}

func ParseConfig(configDir string) (*Config, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	if err := conf.Unmarshal(configKey, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c Config) Validate() error {
	if c.TriggerPin == "" || c.EchoPin == "" {
		return fmt.Errorf("trigger and echo pins must be set")
	}
	if c.TriggerPin == c.EchoPin {
		return fmt.Errorf("trigger and echo pins can't both be '%s'", c.TriggerPin)
	}
	if c.EchoTimeout <= 0 {
		return fmt.Errorf("echo timeout must be positive, got %s", c.EchoTimeout)
	}
	if c.TriggerPulse <= 0 {
		return fmt.Errorf("trigger pulse must be positive, got %s", c.TriggerPulse)
	}
	if c.CycleInterval < 0 || c.CommandPoll < 0 {
		return fmt.Errorf("cycle interval and command poll can't be negative")
	}
	if c.MaxDistance <= 0 {
		return fmt.Errorf("max distance must be positive, got %v", c.MaxDistance)
	}
	if c.AlarmSlots < 1 {
		return fmt.Errorf("need at least one alarm slot, got %d", c.AlarmSlots)
	}
	if c.ArmRetries < 0 {
		return fmt.Errorf("arm retries can't be negative, got %d", c.ArmRetries)
	}
	if c.RTC != rtc.SourceSoft && c.RTC != rtc.SourcePCF8563 {
		return fmt.Errorf("unknown rtc '%s'", c.RTC)
	}
	if _, err := rtc.ParseInitialTime(c.InitialTime); err != nil {
		return err
	}
	return nil
}

func (c Config) cycleConfig() CycleConfig {
	return CycleConfig{
		TriggerPulse:  c.TriggerPulse,
		EchoTimeout:   c.EchoTimeout,
		MaxDistanceCm: c.MaxDistance,
		ArmRetries:    c.ArmRetries,
	}
}

func (c Config) sessionConfig() SessionConfig {
	return SessionConfig{
		Interval:    c.CycleInterval,
		CommandPoll: c.CommandPoll,
	}
}

// checkConfigChanges will compare the config from when first loaded to a new config each time
// the config file is modified.
// If there is a difference then the program will exit and systemd will restart the service, causing
// the new config to be loaded.
func checkConfigChanges(conf *Config, configDir string) error {
	configFilePath := filepath.Join(configDir, goconfig.ConfigFileName)
	fsEvents := make(chan notify.EventInfo, 1)
	if err := notify.Watch(configFilePath, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
		return err
	}
	defer notify.Stop(fsEvents)

	for {
		<-fsEvents
		newConfig, err := ParseConfig(configDir)
		if err != nil {
			log.Error("error reloading config:", err)
			continue
		}
		diff := cmp.Diff(conf, newConfig)
		log.Debug("Config diff:", diff)
		if diff != "" {
			log.Info("Config changed. Exiting to allow systemctl to restart service.")
			os.Exit(0)
		} else {
			log.Info("No relevant changes detected in config file.")
		}
	}
}
