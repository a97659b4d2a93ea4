// Package daemon manages the PID file and detaching of the background
// launcher service.
package daemon

import (
	"context"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// ChildEnv marks the re-executed, detached child process.
const ChildEnv = "GAMELAUNCH_DAEMON_CHILD"

var ErrNotRunning = errors.New("daemon is not running")

type Daemon struct {
	pidFile string
	exists  func(pid int32) (bool, error)
}

func New(pidFile string) *Daemon {
	return &Daemon{pidFile: pidFile, exists: process.PidExists}
}

func (d *Daemon) PIDFile() string {
	return d.pidFile
}

func (d *Daemon) WritePID() error {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(d.pidFile, []byte(pid), 0644); err != nil {
		return errors.Wrap(err, "failed to write PID file")
	}
	return nil
}

// ReadPID returns 0 without error when there is no PID file.
func (d *Daemon) ReadPID() (int, error) {
	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read PID file")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrap(err, "invalid PID in file")
	}

	return pid, nil
}

func (d *Daemon) RemovePID() error {
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove PID file")
	}
	return nil
}

// IsRunning reports whether the recorded process is alive. A stale PID file
// is removed.
func (d *Daemon) IsRunning() (bool, int, error) {
	pid, err := d.ReadPID()
	if err != nil {
		return false, 0, err
	}

	if pid == 0 {
		return false, 0, nil
	}

	alive, err := d.exists(int32(pid))
	if err != nil || !alive {
		d.RemovePID()
		return false, 0, nil
	}

	return true, pid, nil
}

// Stop sends SIGTERM and waits up to timeout for the process to exit.
func (d *Daemon) Stop(ctx context.Context, timeout time.Duration) error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return errors.Wrap(err, "error checking daemon status")
	}

	if !running {
		return ErrNotRunning
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrap(err, "failed to find process")
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return d.RemovePID()
		}
		return errors.Wrap(err, "failed to send SIGTERM")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if alive, _ := d.exists(int32(pid)); !alive {
			return d.RemovePID()
		}
		select {
		case <-ctx.Done():
			return errors.Errorf("daemon (PID %d) did not exit within %v", pid, timeout)
		case <-ticker.C:
		}
	}
}

// IsChild reports whether this process is the detached daemon.
func IsChild() bool {
	return os.Getenv(ChildEnv) == "1"
}

// Detach re-executes the current binary with args in a new session. Its
// standard output and error go to logFile. It returns the child's PID.
func Detach(args []string, logFile string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, errors.Wrap(err, "locate executable")
	}

	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, errors.Wrap(err, "open log file")
	}
	defer out.Close()

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, errors.Wrap(err, "open "+os.DevNull)
	}
	defer devNull.Close()

	procAttr := &os.ProcAttr{
		Env:   append(os.Environ(), ChildEnv+"=1"),
		Files: []*os.File{devNull, out, out},
		Sys: &syscall.SysProcAttr{
			Setsid: true, // Create new session
		},
	}

	proc, err := os.StartProcess(exe, append([]string{exe}, args...), procAttr)
	if err != nil {
		return 0, errors.Wrap(err, "failed to start daemon process")
	}
	pid := proc.Pid
	proc.Release()
	return pid, nil
}
