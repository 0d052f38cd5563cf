package i2crequest

import (
	"errors"
	"sync"

	"github.com/godbus/dbus"
)

const (
	dbusName = "org.cacophony.i2c"
	dbusPath = "/org/cacophony/i2c"
)

// TxResponse is a canned reply used in place of the i2c dbus service.
type TxResponse struct {
	Response []byte
	Err      error
}

var (
	mockMu        sync.Mutex
	mockResponses []TxResponse
	mocking       bool
)

// MockTxResponses makes Tx return the given responses in order instead of calling the
// i2c dbus service. Passing nil stops mocking.
func MockTxResponses(responses []TxResponse) {
	mockMu.Lock()
	defer mockMu.Unlock()
	mockResponses = responses
	mocking = responses != nil
}

func nextMockResponse() (TxResponse, bool) {
	mockMu.Lock()
	defer mockMu.Unlock()
	if !mocking {
		return TxResponse{}, false
	}
	if len(mockResponses) == 0 {
		return TxResponse{Err: errors.New("no more mocked i2c responses")}, true
	}
	r := mockResponses[0]
	mockResponses = mockResponses[1:]
	return r, true
}

// Tx writes to and then reads from the device at the given address through the i2c dbus service.
func Tx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	if r, ok := nextMockResponse(); ok {
		return r.Response, r.Err
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusName, dbusPath)

	var response []byte
	if err := obj.Call(dbusName+".Tx", 0, address, write, readLen, timeout).Store(&response); err != nil {
		return nil, err
	}

	return response, nil
}

func CheckAddress(address byte, timeout int) error {
	_, err := Tx(address, []byte{0x00}, 1, timeout)
	return err
}
