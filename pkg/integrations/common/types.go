package common

import "time"

// Detection methods reported in AppInfo.
const (
	MethodWindow  = "window"
	MethodProcess = "process-based"
	MethodHybrid  = "hybrid"
)

// IdleThreshold is the input idle time, in seconds, after which a session
// counts as idle.
const IdleThreshold = 300

// AppInfo represents information about a running application
type AppInfo struct {
	// AppName is the application identifier (e.g., "firefox", "code")
	AppName string

	// WindowTitle is the title of the focused window
	WindowTitle string

	// ProcessName is the actual process name
	ProcessName string

	// PID is the process ID
	PID int

	// LastActivity is when this app was last active
	LastActivity time.Time

	// Confidence is how confident we are this is the active app (0.0-1.0)
	Confidence float64

	// DetectionMethod describes how this was detected
	DetectionMethod string
}
