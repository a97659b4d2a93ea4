package window

import "strings"

// WindowInfo represents information about the currently focused window
type WindowInfo struct {
	AppID         string // Normalized application identifier
	AppName       string // Raw class / app_id as reported by the display server
	WindowTitle   string
	ProcessName   string
	PID           int
	DisplayServer string // "x11", "wayland" or "process-based"
}

// IdleInfo represents system idle/lock state
type IdleInfo struct {
	IsIdle   bool
	IsLocked bool
	IdleTime int64 // Idle time in seconds
}

// Detector is the interface that all window detection implementations must satisfy
type Detector interface {
	// GetFocusedWindow returns information about the currently focused window
	GetFocusedWindow() (*WindowInfo, error)

	// GetIdleInfo returns information about system idle/lock state
	GetIdleInfo() (*IdleInfo, error)

	// IsAvailable checks if this detector can run on the current system
	IsAvailable() bool

	// GetDisplayServer returns the display server type ("x11" or "wayland")
	GetDisplayServer() string

	// Close cleans up any resources used by the detector
	Close() error
}

// NormalizeAppID turns a window class, app_id or desktop file id into the
// identifier used for comparisons across the launcher.
func NormalizeAppID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".desktop")
	return strings.ToLower(s)
}
