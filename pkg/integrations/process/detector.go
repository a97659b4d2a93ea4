package process

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/gamelaunch/gamelaunch/pkg/integrations/common"
)

var ErrNoActiveApp = errors.New("no active GUI application detected")

const scanTimeout = 3 * time.Second

// blacklist holds shells and session daemons that inherit DISPLAY but never
// own a window.
var blacklist = []string{
	"bash", "zsh", "fish", "sh", "dash", "tcsh", "ksh",
	"goa-daemon", "goa-identity-service", "gvfs", "dbus-daemon", "dbus-broker", "systemd",
	"pulseaudio", "pipewire", "wireplumber", "bluetoothd",
	"ssh-agent", "gpg-agent", "dconf-service", "xdg-desktop-portal",
	"at-spi", "ibus", "fcitx",
}

// Snapshot is one process as seen by a scan.
type Snapshot struct {
	PID     int
	Name    string
	CPUTime float64 // user + system seconds
	GUI     bool
}

// Lister returns the current process table.
type Lister func(ctx context.Context) ([]Snapshot, error)

// Detector guesses the active application from the process table: among
// GUI processes it picks the one that used the most CPU since the
// previous scan.
type Detector struct {
	list Lister

	mu       sync.Mutex
	previous map[int]float64
	lastScan time.Time
}

func NewDetector() *Detector {
	return &Detector{list: listProcesses, previous: make(map[int]float64)}
}

func (d *Detector) GetActiveApp() (*common.AppInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	snaps, err := d.list(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan processes")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		best      *Snapshot
		bestDelta float64
	)
	current := make(map[int]float64, len(snaps))
	for i := range snaps {
		s := &snaps[i]
		if !s.GUI || isBlacklisted(s.Name) {
			continue
		}
		current[s.PID] = s.CPUTime

		prev, seen := d.previous[s.PID]
		if !seen {
			continue
		}
		if delta := s.CPUTime - prev; delta > bestDelta {
			best, bestDelta = s, delta
		}
	}
	d.previous = current
	d.lastScan = time.Now()

	if best == nil {
		return nil, ErrNoActiveApp
	}
	return &common.AppInfo{
		AppName:         best.Name,
		ProcessName:     best.Name,
		PID:             best.PID,
		LastActivity:    d.lastScan,
		Confidence:      0.5,
		DetectionMethod: common.MethodProcess,
	}, nil
}

func isBlacklisted(name string) bool {
	for _, blocked := range blacklist {
		if name == blocked || strings.HasPrefix(name, blocked) {
			return true
		}
	}
	return false
}

func (d *Detector) IsAvailable() bool {
	ok, err := process.PidExists(1)
	return err == nil && ok
}

func (d *Detector) Close() error {
	return nil
}

// listProcesses reads the process table through gopsutil. Processes that
// vanish or cannot be inspected mid-scan are skipped.
func listProcesses(ctx context.Context) ([]Snapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		times, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			PID:     int(p.Pid),
			Name:    name,
			CPUTime: times.User + times.System,
			GUI:     hasDisplay(ctx, p),
		})
	}
	return snaps, nil
}

func hasDisplay(ctx context.Context, p *process.Process) bool {
	env, err := p.EnvironWithContext(ctx)
	if err != nil {
		return false
	}
	for _, kv := range env {
		if strings.HasPrefix(kv, "DISPLAY=") || strings.HasPrefix(kv, "WAYLAND_DISPLAY=") {
			return true
		}
	}
	return false
}
