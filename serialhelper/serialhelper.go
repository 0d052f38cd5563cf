package serialhelper

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/tarm/serial"
)

var log = logging.NewLogger("info")

var cmdlineFile = "/boot/firmware/cmdline.txt"

func SetLogger(l *logging.Logger) {
	log = l
}

type SerialUnavailableError struct {
	msg string
}

func (e *SerialUnavailableError) Error() string {
	return e.msg
}

func NewSerialUnavailableError(msg string) error {
	return &SerialUnavailableError{msg: msg}
}

// SerialInUseFromTerminal checks if the kernel console is attached to the given serial device.
func SerialInUseFromTerminal(device string) bool {
	b, err := os.ReadFile(cmdlineFile)
	if err != nil {
		log.Printf("Error when reading %s: %s", cmdlineFile, err)
		return false
	}
	return strings.Contains(string(b), "console="+strings.TrimPrefix(device, "/dev/"))
}

// GetSerial will try to get a file lock on the serial device.
// defer ReleaseSerial(serialFile) should be called to release the lock and close the serial file.
func GetSerial(device string, retries int, wait time.Duration) (*os.File, error) {
	if SerialInUseFromTerminal(device) {
		return nil, NewSerialUnavailableError(fmt.Sprintf("%s is in use by the terminal console", device))
	}

	serialFile, err := os.OpenFile(device, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	lockAcquired := false
	defer func() {
		if !lockAcquired {
			serialFile.Close()
		}
	}()

	i := retries
	for {
		err = syscall.Flock(int(serialFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			lockAcquired = true
			break
		}

		if errno, ok := err.(syscall.Errno); ok && errno == syscall.EWOULDBLOCK {
			log.Printf("Serial port is locked. Checking locking process...")
			process, err := getLockingProcess(device)
			if err != nil {
				log.Printf("Error checking locking process: %v", err)
			} else if process == "" {
				log.Printf("No active process found holding the lock. Forcing lock acquisition...")
				if err := syscall.Flock(int(serialFile.Fd()), syscall.LOCK_UN); err != nil {
					return nil, fmt.Errorf("failed to force unlock: %v", err)
				}
				continue
			} else {
				log.Printf("Serial port is locked by process: %s", process)
			}

			if i > 0 {
				log.Printf("Serial port is locked by another process. Retrying %d more times in %s...", i, wait)
				time.Sleep(wait)
				i--
			} else {
				return nil, NewSerialUnavailableError("failed to get lock on serial, might be in use by other process")
			}
		} else {
			return nil, err
		}
	}

	return serialFile, nil
}

func getLockingProcess(serialPath string) (string, error) {
	cmd := exec.Command("fuser", serialPath)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok && exitError.ExitCode() == 1 {
			// Exit code 1 from `fuser` means no process is using the file
			return "", nil
		}
		return "", fmt.Errorf("failed to execute fuser: %v", err)
	}
	return strings.TrimSpace(output.String()), nil
}

func ReleaseSerial(serialFile *os.File) error {
	err := syscall.Flock(int(serialFile.Fd()), syscall.LOCK_UN)
	serialFile.Close()
	return err
}

// Port is an open serial port that holds the device lock until closed.
type Port struct {
	*serial.Port
	lockFile *os.File
}

// OpenPort locks the device and opens it at the given baud rate. Reads return after
// readTimeout with no data so callers can stop reading.
func OpenPort(device string, baud int, readTimeout time.Duration) (*Port, error) {
	lockFile, err := GetSerial(device, 3, 5*time.Second)
	if err != nil {
		return nil, err
	}
	c := &serial.Config{Name: device, Baud: baud, ReadTimeout: readTimeout}
	p, err := serial.OpenPort(c)
	if err != nil {
		ReleaseSerial(lockFile)
		return nil, err
	}
	return &Port{Port: p, lockFile: lockFile}, nil
}

func (p *Port) Close() error {
	err := p.Port.Close()
	if releaseErr := ReleaseSerial(p.lockFile); err == nil {
		err = releaseErr
	}
	return err
}
