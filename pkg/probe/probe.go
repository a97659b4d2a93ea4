// Package probe answers "which application is in the foreground right now".
//
// A probe returns the normalized application identifier, or the empty
// string when the foreground application cannot be determined (no usage
// data, missing permission). Errors are transient and callers are expected
// to treat them like an unknown result.
package probe

import (
	"context"
	"time"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

// DefaultWindow is the trailing usage window inspected by UsageProbe.
const DefaultWindow = 10 * time.Second

// Probe is a point-in-time foreground query.
type Probe interface {
	ForegroundApp(ctx context.Context) (string, error)
}

// Func adapts a plain function to Probe.
type Func func(ctx context.Context) (string, error)

func (f Func) ForegroundApp(ctx context.Context) (string, error) {
	return f(ctx)
}

// Usage is one application's most recent use.
type Usage struct {
	AppID    string
	LastUsed time.Time
}

// UsageSource reports application usage recorded between since and until.
type UsageSource interface {
	RecentUsage(ctx context.Context, since, until time.Time) ([]Usage, error)
}

// UsageProbe picks the most recently used application within a trailing window.
type UsageProbe struct {
	source UsageSource
	window time.Duration
	now    func() time.Time
}

// NewUsageProbe creates a probe over source. A non-positive window means DefaultWindow.
func NewUsageProbe(source UsageSource, trailing time.Duration) *UsageProbe {
	if trailing <= 0 {
		trailing = DefaultWindow
	}
	return &UsageProbe{source: source, window: trailing, now: time.Now}
}

// ForegroundApp returns the application with the latest last-used timestamp
// in [now-window, now]. Entries without a timestamp are ignored.
func (p *UsageProbe) ForegroundApp(ctx context.Context) (string, error) {
	now := p.now()
	usage, err := p.source.RecentUsage(ctx, now.Add(-p.window), now)
	if err != nil {
		return "", apperr.Wrap(err, apperr.ProbeTransient, "query usage stats")
	}
	return Latest(usage), nil
}

// Latest returns the AppID with the newest LastUsed, or "" when none qualifies.
func Latest(usage []Usage) string {
	var (
		best   string
		bestAt time.Time
	)
	for _, u := range usage {
		if u.LastUsed.IsZero() || u.AppID == "" {
			continue
		}
		if best == "" || u.LastUsed.After(bestAt) {
			best = u.AppID
			bestAt = u.LastUsed
		}
	}
	return window.NormalizeAppID(best)
}

// WindowProbe asks a window detector directly on every call.
type WindowProbe struct {
	detector window.Detector
}

func NewWindowProbe(detector window.Detector) *WindowProbe {
	return &WindowProbe{detector: detector}
}

func (p *WindowProbe) ForegroundApp(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !p.detector.IsAvailable() {
		return "", apperr.New(apperr.PermissionDenied, "no %s window detector available", p.detector.GetDisplayServer())
	}

	idle, err := p.detector.GetIdleInfo()
	if err == nil && idle != nil && idle.IsLocked {
		return "", nil
	}

	info, err := p.detector.GetFocusedWindow()
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", nil
	}
	if info.AppID != "" {
		return info.AppID, nil
	}
	return window.NormalizeAppID(info.AppName), nil
}
