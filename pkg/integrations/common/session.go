package common

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
)

const busTimeout = 2 * time.Second

// screenSavers are the session-bus services that answer GetActive, in the
// order they are tried.
var screenSavers = []struct {
	dest, path, iface string
}{
	{"org.freedesktop.ScreenSaver", "/org/freedesktop/ScreenSaver", "org.freedesktop.ScreenSaver"},
	{"org.gnome.ScreenSaver", "/org/gnome/ScreenSaver", "org.gnome.ScreenSaver"},
}

// ScreenLocked asks the desktop screen saver over the session bus whether
// the screen is locked. It fails when no screen saver service answers.
func ScreenLocked(ctx context.Context) (bool, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return false, errors.Wrap(err, "connect to session bus")
	}

	ctx, cancel := context.WithTimeout(ctx, busTimeout)
	defer cancel()

	var lastErr error
	for _, s := range screenSavers {
		var active bool
		obj := conn.Object(s.dest, dbus.ObjectPath(s.path))
		if err := obj.CallWithContext(ctx, s.iface+".GetActive", 0).Store(&active); err != nil {
			lastErr = err
			continue
		}
		return active, nil
	}
	return false, errors.Wrap(lastErr, "query screen saver")
}

// ProcessName returns the executable name of pid, or "" when it cannot be read.
func ProcessName(pid int) string {
	if pid <= 0 {
		return ""
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	name, err := proc.Name()
	if err != nil {
		return ""
	}
	return name
}
