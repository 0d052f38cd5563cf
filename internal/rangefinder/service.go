package rangefinder

import (
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.Rangefinder"
	dbusPath = "/org/cacophony/Rangefinder"
)

var errNoReading = errors.New("no reading has been made yet")

type rangefinderService struct {
	session  *Session
	reporter *Reporter
}

func startService(session *Session, reporter *Reporter) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &rangefinderService{
		session:  session,
		reporter: reporter,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

// GetState returns "idle" or "running".
func (s rangefinderService) GetState() (string, *dbus.Error) {
	return s.session.State().String(), nil
}

// GetLastReading returns the time, outcome and distance in centimetres of the latest cycle.
func (s rangefinderService) GetLastReading() (string, string, float64, *dbus.Error) {
	res, ok := s.reporter.Last()
	if !ok {
		return "", "", 0, dbusErr(errNoReading)
	}
	return res.Time.Format(time.RFC3339), res.Outcome.String(), res.DistanceCm, nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}
