package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/tc2-hat-rangefinder/i2crequest"
)

const (
	pcf8563Address = 0x51
	timeRegister   = 0x02
	i2cTimeout     = 1000
)

var sleepFn = time.Sleep

type PCF8563 struct {
	mu                  sync.Mutex
	integrityLostLogged bool
}

// InitPCF8563 checks that a PCF8563 answers on the i2c bus.
func InitPCF8563() (*PCF8563, error) {
	if err := i2crequest.CheckAddress(pcf8563Address, i2cTimeout); err != nil {
		return nil, fmt.Errorf("failed to find pcf8563 device on i2c bus: %w", err)
	}
	log.Println("Found PCF8563 device on i2c bus")
	return &PCF8563{}, nil
}

// Now returns the RTC time. An RTC that has lost integrity is reported once and its
// time is still returned, the reading timestamp is informational only.
func (rtc *PCF8563) Now() (time.Time, error) {
	t, integrity, err := rtc.GetTime()
	if err != nil {
		return time.Time{}, err
	}
	rtc.mu.Lock()
	defer rtc.mu.Unlock()
	if !integrity && !rtc.integrityLostLogged {
		rtc.integrityLostLogged = true
		log.Warnf("RTC clock doesn't have integrity, RTC time is %s", t.Format(time.DateTime))
		if err := eventclient.AddEvent(eventclient.Event{
			Timestamp: time.Now(),
			Type:      "rtcIntegrityLost",
			Details: map[string]interface{}{
				"rtcTime": t.Format(time.DateTime),
			},
		}); err != nil {
			log.Error("Error adding event:", err)
		}
	}
	return t, nil
}

// GetTime will get the time from the PCF8563.
// It will attempt 3 times to get the time.
func (rtc *PCF8563) GetTime() (time.Time, bool, error) {
	attempts := 3
	var t time.Time
	var integrity bool
	var err error
	for range attempts {
		t, integrity, err = rtc.getTimeFromMultipleReads()
		if err == nil {
			break
		}
		log.Debug("Error reading RTC time: ", err)
		sleepFn(500 * time.Millisecond)
	}
	return t, integrity, err
}

// getTimeFromMultipleReads reads the time a few times and checks the reads agree.
func (rtc *PCF8563) getTimeFromMultipleReads() (time.Time, bool, error) {
	attempts := 3
	previousTime, previousIntegrity, err := readTime()
	if err != nil {
		return time.Time{}, false, err
	}
	for range attempts - 1 {
		currentTime, currentIntegrity, err := readTime()
		if err != nil {
			return time.Time{}, false, err
		}
		if previousIntegrity != currentIntegrity {
			return time.Time{}, false, fmt.Errorf("integrity mismatch")
		}
		if currentTime.Sub(previousTime).Abs() > 2*time.Second {
			return time.Time{}, false, fmt.Errorf("time mismatch")
		}
		previousIntegrity = currentIntegrity
		previousTime = currentTime
		sleepFn(10 * time.Millisecond)
	}
	return previousTime, previousIntegrity, nil
}

func readTime() (time.Time, bool, error) {
	data, err := i2crequest.Tx(pcf8563Address, []byte{timeRegister}, 7, i2cTimeout)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(data) != 7 {
		return time.Time{}, false, fmt.Errorf("read %d bytes from RTC, expected 7", len(data))
	}
	return decodeTime(data)
}

// decodeTime converts the seven BCD time registers, only using the valid bits of each.
func decodeTime(data []byte) (time.Time, bool, error) {
	seconds := fromBCD(data[0] & 0x7F)
	minutes := fromBCD(data[1] & 0x7F)
	hours := fromBCD(data[2] & 0x3F)
	days := fromBCD(data[3] & 0x3F)
	months := fromBCD(data[5] & 0x1F)
	years := 2000 + fromBCD(data[6])
	if months < 1 || months > 12 || days < 1 || days > 31 || hours > 23 || minutes > 59 || seconds > 59 {
		return time.Time{}, false, fmt.Errorf("invalid RTC time registers % X", data)
	}
	integrity := data[0]&(1<<7) == 0
	return time.Date(years, time.Month(months), days, hours, minutes, seconds, 0, time.UTC), integrity, nil
}

func fromBCD(b byte) int {
	return int(b&0x0F) + int(b>>4)*10
}
