package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestPIDFileRoundTrip(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "gamelaunch.pid"))

	pid, err := d.ReadPID()
	if err != nil || pid != 0 {
		t.Fatalf("ReadPID() without file = %d, %v", pid, err)
	}

	if err := d.WritePID(); err != nil {
		t.Fatalf("WritePID() error: %v", err)
	}
	pid, err = d.ReadPID()
	if err != nil || pid != os.Getpid() {
		t.Fatalf("ReadPID() = %d, %v; want %d", pid, err, os.Getpid())
	}

	running, got, err := d.IsRunning()
	if err != nil || !running || got != os.Getpid() {
		t.Errorf("IsRunning() = %v, %d, %v", running, got, err)
	}

	if err := d.RemovePID(); err != nil {
		t.Fatalf("RemovePID() error: %v", err)
	}
	if err := d.RemovePID(); err != nil {
		t.Errorf("second RemovePID() error: %v", err)
	}
}

func TestIsRunningRemovesStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gamelaunch.pid")
	if err := os.WriteFile(path, []byte("4242\n"), 0644); err != nil {
		t.Fatal(err)
	}
	d := New(path)
	d.exists = func(int32) (bool, error) { return false, nil }

	running, _, err := d.IsRunning()
	if err != nil || running {
		t.Fatalf("IsRunning() = %v, %v", running, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale PID file left behind")
	}
}

func TestReadPIDGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gamelaunch.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path).ReadPID(); err == nil {
		t.Error("ReadPID() accepted garbage")
	}
}

func TestStopNotRunning(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "gamelaunch.pid"))
	err := d.Stop(context.Background(), time.Second)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestIsChild(t *testing.T) {
	t.Setenv(ChildEnv, "")
	if IsChild() {
		t.Error("IsChild() true without marker")
	}
	t.Setenv(ChildEnv, "1")
	if !IsChild() {
		t.Error("IsChild() false with marker")
	}
}
