// Package monitor detects when the user has left a launched game.
//
// A Monitor polls a foreground probe on a fixed interval while a session is
// active. Each tick is scheduled after the previous one completes, so ticks
// never overlap. Session state and the whitelist are owned by the goroutine
// running Run; Start, Stop and AddWhitelisted are posted to it as commands.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gamelaunch/gamelaunch/pkg/probe"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

const (
	DefaultInterval  = time.Second
	DefaultThreshold = 1
)

// ErrNotRunning is returned by Start once Run has returned.
var ErrNotRunning = errors.New("monitor is not running")

// SessionState is a snapshot of the monitored session.
type SessionState struct {
	SessionID      string    `json:"session_id,omitempty"`
	TrackedAppID   string    `json:"tracked_app_id,omitempty"`
	Aliases        []string  `json:"aliases,omitempty"`
	Active         bool      `json:"active"`
	MismatchCount  int       `json:"mismatch_count"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	LastForeground string    `json:"last_foreground,omitempty"`
}

// SessionEnd describes a session that ended because the tracked app lost
// the foreground.
type SessionEnd struct {
	SessionID      string
	AppID          string
	StartedAt      time.Time
	EndedAt        time.Time
	LastForeground string
}

// Started identifies the session a Start began and the active session it
// replaced, if there was one.
type Started struct {
	SessionID  string
	Superseded string
}

// Notifier receives at most one SessionEnded call per session.
type Notifier interface {
	SessionEnded(end SessionEnd)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(end SessionEnd)

func (f NotifierFunc) SessionEnded(end SessionEnd) { f(end) }

// Config tunes the polling loop.
type Config struct {
	Interval  time.Duration
	Threshold int
	Whitelist []string
}

type command struct {
	fn  func()
	ack chan struct{}
}

type Monitor struct {
	probe     probe.Probe
	notifier  Notifier
	logger    *slog.Logger
	interval  time.Duration
	threshold int
	now       func() time.Time

	cmds chan command
	done chan struct{}

	// epoch is bumped by Start and Stop before their command is queued, so a
	// tick can tell that a newer request is pending and must neither notify
	// nor reschedule.
	epoch atomic.Uint64

	// Owned by the Run goroutine.
	whitelist    *Whitelist
	state        SessionState
	tracked      map[string]bool
	sessionEpoch uint64
	timer        *time.Timer
}

// New creates a monitor. Zero or negative config values fall back to the
// defaults; the whitelist is seeded with DefaultWhitelist plus cfg.Whitelist.
func New(p probe.Probe, notifier Notifier, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold < 1 {
		cfg.Threshold = DefaultThreshold
	}
	if notifier == nil {
		notifier = NotifierFunc(func(SessionEnd) {})
	}
	if logger == nil {
		logger = slog.Default()
	}

	wl := NewWhitelist(DefaultWhitelist...)
	for _, id := range cfg.Whitelist {
		wl.Add(id)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	return &Monitor{
		probe:     p,
		notifier:  notifier,
		logger:    logger.With("component", "monitor"),
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		now:       time.Now,
		cmds:      make(chan command),
		done:      make(chan struct{}),
		whitelist: wl,
		timer:     timer,
	}
}

// Run drives the polling loop until ctx is cancelled. Start, Stop and the
// whitelist operations block until Run is serving.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.timer.Stop()

	m.logger.Debug("monitor loop started", "interval", m.interval, "threshold", m.threshold)

	for {
		select {
		case <-ctx.Done():
			if m.state.Active {
				m.logger.Info("monitor shutting down with active session",
					"session", m.state.SessionID, "app", m.state.TrackedAppID)
			}
			m.state.Active = false
			return ctx.Err()
		case c := <-m.cmds:
			c.fn()
			close(c.ack)
		case <-m.timer.C:
			m.tick(ctx)
		}
	}
}

// Start begins monitoring appID. The app counts as in the foreground when
// the probe reports appID or any of aliases. An active session is
// superseded and its mismatch progress is discarded; a session that has
// already ended is not reported as superseded.
func (m *Monitor) Start(appID string, aliases ...string) (Started, error) {
	started := Started{SessionID: uuid.NewString()}
	m.epoch.Add(1)
	ok := m.do(func() {
		started.Superseded = m.applyStart(started.SessionID, appID, aliases)
	})
	if !ok {
		return Started{}, ErrNotRunning
	}
	return started, nil
}

// Stop ends the current session without notification and returns its id,
// or "" when no session was active.
func (m *Monitor) Stop() string {
	m.epoch.Add(1)
	var stopped string
	m.do(func() {
		if !m.state.Active {
			return
		}
		m.logger.Info("session stopped", "session", m.state.SessionID, "app", m.state.TrackedAppID)
		stopped = m.state.SessionID
		m.state.Active = false
		m.timer.Stop()
	})
	return stopped
}

// AddWhitelisted adds id to the whitelist and reports whether it was new.
// The entry is honoured from the next tick on.
func (m *Monitor) AddWhitelisted(id string) bool {
	var added bool
	m.do(func() {
		added = m.whitelist.Add(id)
		if added {
			m.logger.Info("whitelist entry added", "app", window.NormalizeAppID(id))
		}
	})
	return added
}

// Whitelist returns the current whitelist in sorted order.
func (m *Monitor) Whitelist() []string {
	var ids []string
	m.do(func() {
		ids = m.whitelist.List()
	})
	return ids
}

// Snapshot returns a copy of the session state.
func (m *Monitor) Snapshot() SessionState {
	var s SessionState
	m.do(func() {
		s = m.state
	})
	return s
}

// do runs fn on the loop goroutine and waits for it. After Run has
// returned, fn is dropped.
func (m *Monitor) do(fn func()) bool {
	c := command{fn: fn, ack: make(chan struct{})}
	select {
	case m.cmds <- c:
	case <-m.done:
		return false
	}
	<-c.ack
	return true
}

// applyStart replaces the session state and returns the id of the session
// it superseded.
func (m *Monitor) applyStart(id, appID string, aliases []string) (superseded string) {
	if m.state.Active {
		superseded = m.state.SessionID
		m.logger.Info("session superseded",
			"session", m.state.SessionID, "app", m.state.TrackedAppID, "by", appID)
	}

	tracked := window.NormalizeAppID(appID)
	m.tracked = map[string]bool{tracked: true}
	var known []string
	for _, alias := range aliases {
		alias = window.NormalizeAppID(alias)
		if alias == "" || m.tracked[alias] {
			continue
		}
		m.tracked[alias] = true
		known = append(known, alias)
	}

	m.state = SessionState{
		SessionID:    id,
		TrackedAppID: tracked,
		Aliases:      known,
		Active:       true,
		StartedAt:    m.now(),
	}
	m.sessionEpoch = m.epoch.Load()
	m.timer.Reset(m.interval)
	m.logger.Info("session started", "session", id, "app", tracked, "aliases", known)
	return superseded
}

func (m *Monitor) tick(ctx context.Context) {
	if !m.state.Active || m.superseded() {
		return
	}

	fg := m.probeOnce(ctx)

	if m.superseded() {
		// A Start or Stop is queued behind this tick; it owns what happens next.
		return
	}

	if m.evaluate(fg) {
		end := SessionEnd{
			SessionID:      m.state.SessionID,
			AppID:          m.state.TrackedAppID,
			StartedAt:      m.state.StartedAt,
			EndedAt:        m.now(),
			LastForeground: fg,
		}
		m.logger.Info("session ended", "session", end.SessionID, "app", end.AppID, "foreground", fg)
		go m.notifier.SessionEnded(end)
		return
	}

	m.timer.Reset(m.interval)
}

func (m *Monitor) superseded() bool {
	return m.epoch.Load() != m.sessionEpoch
}

// evaluate applies one probe result to the session and reports whether the
// session has just ended.
func (m *Monitor) evaluate(fg string) bool {
	m.state.LastForeground = fg

	switch {
	case fg == "":
		m.state.MismatchCount = 0
	case m.tracked[fg] || m.whitelist.Contains(fg):
		m.state.MismatchCount = 0
	default:
		m.state.MismatchCount++
		m.logger.Debug("foreground mismatch",
			"app", m.state.TrackedAppID, "foreground", fg, "mismatches", m.state.MismatchCount)
		if m.state.MismatchCount >= m.threshold {
			m.state.Active = false
			return true
		}
	}
	return false
}

// probeOnce returns the foreground app, or "" when the probe fails.
func (m *Monitor) probeOnce(ctx context.Context) (fg string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("foreground probe panicked", "err", fmt.Sprint(r))
			fg = ""
		}
	}()

	fg, err := m.probe.ForegroundApp(ctx)
	if err != nil {
		m.logger.Warn("foreground probe failed", "err", err)
		return ""
	}
	return window.NormalizeAppID(fg)
}
