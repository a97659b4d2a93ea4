package detector

import (
	"log/slog"
	"os"

	"github.com/gamelaunch/gamelaunch/pkg/integrations/hybrid"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

// New returns the detector for the current graphical session.
func New(logger *slog.Logger) (window.Detector, error) {
	det, err := hybrid.NewDetector(logger)
	if err != nil {
		return nil, err
	}
	return det, nil
}

func DetectDisplayServer() string {
	return displayServer(os.Getenv)
}

func displayServer(getenv func(string) string) string {
	sessionType := getenv("XDG_SESSION_TYPE")

	if sessionType == "wayland" || getenv("WAYLAND_DISPLAY") != "" {
		return "wayland"
	}

	if sessionType == "x11" || getenv("DISPLAY") != "" {
		return "x11"
	}

	return "unknown"
}
