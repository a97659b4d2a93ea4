package hybrid

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/gamelaunch/gamelaunch/pkg/integrations/common"
	"github.com/gamelaunch/gamelaunch/pkg/integrations/process"
	"github.com/gamelaunch/gamelaunch/pkg/integrations/wayland"
	"github.com/gamelaunch/gamelaunch/pkg/integrations/x11"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

// AppSource is a detector that can only name the busiest application, not
// the focused window.
type AppSource interface {
	GetActiveApp() (*common.AppInfo, error)
	IsAvailable() bool
	Close() error
}

// Detector combines the window detector for the current session with the
// process table fallback.
type Detector struct {
	windowDetector  window.Detector
	processDetector AppSource
	logger          *slog.Logger

	mu         sync.Mutex
	lastMethod string
}

func NewDetector(logger *slog.Logger) (*Detector, error) {
	win := detectWindowDetector(os.Getenv)
	if win != nil {
		logger.Info("window detector initialized", "display", win.GetDisplayServer())
	} else {
		logger.Warn("no window detector available, using process-based detection only")
	}

	proc := process.NewDetector()
	if win == nil && !proc.IsAvailable() {
		return nil, errors.New("no window or process detector available")
	}
	return newDetector(win, proc, logger), nil
}

func newDetector(win window.Detector, proc AppSource, logger *slog.Logger) *Detector {
	return &Detector{
		windowDetector:  win,
		processDetector: proc,
		logger:          logger,
	}
}

func detectWindowDetector(getenv func(string) string) window.Detector {
	if getenv("WAYLAND_DISPLAY") != "" || getenv("XDG_SESSION_TYPE") == "wayland" {
		det := wayland.NewDetector()
		if det.IsAvailable() {
			return det
		}
	}

	if getenv("DISPLAY") != "" {
		det := x11.NewDetector()
		if det.IsAvailable() {
			return det
		}
	}

	return nil
}

// GetFocusedWindow asks the window detector first. When it fails, the
// busiest GUI process stands in for the focused window. A window detector
// that reports nothing focused is trusted.
func (d *Detector) GetFocusedWindow() (*window.WindowInfo, error) {
	var windowErr error
	if d.windowDetector != nil {
		info, err := d.windowDetector.GetFocusedWindow()
		if err == nil {
			d.setMethod(common.MethodWindow)
			return info, nil
		}
		windowErr = err
		d.logger.Debug("window detection failed, trying process table", "error", err)
	}

	app, err := d.processDetector.GetActiveApp()
	if err != nil {
		if windowErr != nil {
			return nil, errors.Wrapf(windowErr, "process detection: %v", err)
		}
		return nil, err
	}

	d.setMethod(common.MethodProcess)
	return &window.WindowInfo{
		AppID:         window.NormalizeAppID(app.AppName),
		AppName:       app.AppName,
		WindowTitle:   app.WindowTitle,
		ProcessName:   app.ProcessName,
		PID:           app.PID,
		DisplayServer: common.MethodProcess,
	}, nil
}

// GetIdleInfo falls back to the session screen lock state when the window
// detector cannot report idle time.
func (d *Detector) GetIdleInfo() (*window.IdleInfo, error) {
	if d.windowDetector != nil {
		info, err := d.windowDetector.GetIdleInfo()
		if err == nil {
			return info, nil
		}
		d.logger.Debug("window idle query failed", "error", err)
	}

	locked, err := common.ScreenLocked(context.Background())
	if err != nil {
		d.logger.Debug("screen lock query failed", "error", err)
	}
	return &window.IdleInfo{IsLocked: locked}, nil
}

func (d *Detector) IsAvailable() bool {
	if d.windowDetector != nil && d.windowDetector.IsAvailable() {
		return true
	}
	return d.processDetector != nil && d.processDetector.IsAvailable()
}

func (d *Detector) GetDisplayServer() string {
	if d.windowDetector != nil {
		return d.windowDetector.GetDisplayServer()
	}
	return common.MethodProcess
}

// LastMethod reports which detector answered the last successful query.
func (d *Detector) LastMethod() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastMethod
}

func (d *Detector) setMethod(method string) {
	d.mu.Lock()
	d.lastMethod = method
	d.mu.Unlock()
}

func (d *Detector) Close() error {
	if d.windowDetector != nil {
		if err := d.windowDetector.Close(); err != nil {
			d.logger.Warn("error closing window detector", "error", err)
		}
	}
	if d.processDetector != nil {
		if err := d.processDetector.Close(); err != nil {
			d.logger.Warn("error closing process detector", "error", err)
		}
	}
	return nil
}
