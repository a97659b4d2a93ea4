// Package host exposes the launcher operations to clients and ties the
// session monitor to launches, persistence and the performance scripts.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gamelaunch/gamelaunch/internal/launcher"
	"github.com/gamelaunch/gamelaunch/internal/models"
	"github.com/gamelaunch/gamelaunch/internal/monitor"
	"github.com/gamelaunch/gamelaunch/internal/scripts"
	"github.com/gamelaunch/gamelaunch/pkg/probe"
)

const scriptQueueSize = 8

// SessionStore persists game sessions and background failures.
type SessionStore interface {
	CreateSession(session *models.GameSession) error
	EndSession(id string, endedAt time.Time, reason, lastForeground string) (bool, error)
	CloseOpenSessions(endedAt time.Time, reason string) (int64, error)
	CreateErrorLog(errorLog *models.ErrorLog) error
}

// ScriptRunner is the part of the script runner the host drives.
type ScriptRunner interface {
	AreExtracted() bool
	Extract(set scripts.ScriptSet) error
	Run(ctx context.Context, name string) error
}

// Options toggles optional behaviour around sessions.
type Options struct {
	Monitor       monitor.Config
	PerfOnLaunch  bool
	RestoreOnExit bool
}

// Deps are the collaborators a Host is built from.
type Deps struct {
	Registry launcher.Registry
	Spawner  launcher.Spawner
	Probe    probe.Probe
	Scripts  ScriptRunner
	Root     scripts.RootChecker
	Store    SessionStore
}

type Host struct {
	registry launcher.Registry
	launcher *launcher.Launcher
	monitor  *monitor.Monitor
	scripts  ScriptRunner
	root     scripts.RootChecker
	store    SessionStore
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	jobs chan string

	// startMu serializes session starts so supersession is recorded in order,
	// and keeps a start from writing a row after shutdown has closed them.
	startMu sync.Mutex

	mu      sync.Mutex
	subs    map[int]func(monitor.SessionEnd)
	nextSub int
}

// New builds a host and the monitor and launcher it owns. Run must be
// serving before any session operation is called.
func New(deps Deps, opts Options, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		registry: deps.Registry,
		scripts:  deps.Scripts,
		root:     deps.Root,
		store:    deps.Store,
		opts:     opts,
		logger:   logger.With("component", "host"),
		now:      time.Now,
		jobs:     make(chan string, scriptQueueSize),
		subs:     make(map[int]func(monitor.SessionEnd)),
	}
	h.monitor = monitor.New(deps.Probe, h, opts.Monitor, logger)
	h.launcher = launcher.New(deps.Registry, h, deps.Spawner, logger)
	return h
}

// Run serves the monitor loop and the script worker until ctx is cancelled.
// Sessions left open by a previous run are closed first, and sessions open
// at shutdown are closed as stopped.
func (h *Host) Run(ctx context.Context) error {
	if n, err := h.store.CloseOpenSessions(h.now(), models.EndStopped); err != nil {
		h.logger.Warn("could not close stale sessions", "err", err)
	} else if n > 0 {
		h.logger.Info("closed stale sessions", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.monitor.Run(gctx)
	})
	g.Go(func() error {
		h.scriptWorker(gctx)
		return nil
	})
	err := g.Wait()

	// The monitor has stopped, so any later StartSession fails before
	// writing a row.
	h.startMu.Lock()
	_, cerr := h.store.CloseOpenSessions(h.now(), models.EndStopped)
	h.startMu.Unlock()
	if cerr != nil {
		h.logger.Warn("could not close sessions on shutdown", "err", cerr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// IsRoot reports whether scripts run elevated.
func (h *Host) IsRoot(ctx context.Context) bool {
	return h.root != nil && h.root.IsRoot(ctx)
}

// InstalledApps lists the launchable applications.
func (h *Host) InstalledApps(ctx context.Context) ([]launcher.App, error) {
	return h.registry.Apps(ctx)
}

// LaunchApp starts the application and its monitored session.
func (h *Host) LaunchApp(ctx context.Context, id string) (launcher.Launched, error) {
	launched, err := h.launcher.Launch(ctx, id)
	if err != nil {
		return launched, err
	}
	if h.opts.PerfOnLaunch {
		h.enqueueScript(scripts.PerfScript(h.IsRoot(ctx)))
	}
	return launched, nil
}

// StartSession is called by the launcher once the process is running. Only
// a session the monitor still had active is closed as superseded; one that
// already ended is left for SessionEnded to close as exited.
func (h *Host) StartSession(app launcher.App) (string, error) {
	h.startMu.Lock()
	defer h.startMu.Unlock()

	started, err := h.monitor.Start(app.ID, app.Aliases...)
	if err != nil {
		return "", err
	}
	id := started.SessionID
	startedAt := h.now()

	if started.Superseded != "" {
		if _, err := h.store.EndSession(started.Superseded, startedAt, models.EndSuperseded, app.ID); err != nil {
			h.logger.Warn("could not close superseded session", "session", started.Superseded, "err", err)
		}
	}

	session := &models.GameSession{
		ID:          id,
		AppID:       app.ID,
		DisplayName: app.Name,
		StartedAt:   startedAt,
	}
	if err := h.store.CreateSession(session); err != nil {
		h.logger.Warn("could not record session", "session", id, "app", app.ID, "err", err)
	}
	return id, nil
}

// StopSession ends the active session without a sessionEnded event.
func (h *Host) StopSession() {
	stopped := h.monitor.Stop()
	if stopped == "" {
		return
	}
	if _, err := h.store.EndSession(stopped, h.now(), models.EndStopped, ""); err != nil {
		h.logger.Warn("could not close stopped session", "session", stopped, "err", err)
	}
}

// SessionEnded implements monitor.Notifier.
func (h *Host) SessionEnded(end monitor.SessionEnd) {
	h.mu.Lock()
	subs := make([]func(monitor.SessionEnd), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	if _, err := h.store.EndSession(end.SessionID, end.EndedAt, models.EndExited, end.LastForeground); err != nil {
		h.logger.Warn("could not close exited session", "session", end.SessionID, "err", err)
	}

	for _, fn := range subs {
		fn(end)
	}

	if h.opts.RestoreOnExit {
		h.enqueueScript(scripts.BalancedScript(h.IsRoot(context.Background())))
	}
}

// Subscribe registers fn for sessionEnded events and returns a function
// that removes it.
func (h *Host) Subscribe(fn func(monitor.SessionEnd)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// AreScriptsExtracted reports whether all four scripts are on disk.
func (h *Host) AreScriptsExtracted() bool {
	return h.scripts.AreExtracted()
}

// ExtractScripts writes the four script bodies.
func (h *Host) ExtractScripts(set scripts.ScriptSet) error {
	return h.scripts.Extract(set)
}

// ExecuteScript runs a script and blocks until it exits.
func (h *Host) ExecuteScript(ctx context.Context, name string) error {
	return h.scripts.Run(ctx, name)
}

// AddWhitelistedPackage adds id to the monitor whitelist and reports
// whether it was new.
func (h *Host) AddWhitelistedPackage(id string) bool {
	return h.monitor.AddWhitelisted(id)
}

func (h *Host) Whitelist() []string {
	return h.monitor.Whitelist()
}

func (h *Host) Session() monitor.SessionState {
	return h.monitor.Snapshot()
}

func (h *Host) enqueueScript(name string) {
	select {
	case h.jobs <- name:
	default:
		h.logger.Warn("script queue full, dropping run", "script", name)
	}
}

func (h *Host) scriptWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-h.jobs:
			if err := h.scripts.Run(ctx, name); err != nil {
				h.logger.Warn("background script failed", "script", name, "err", err)
				h.storeError(err)
			}
		}
	}
}

func (h *Host) storeError(err error) {
	errorLog := &models.ErrorLog{
		Timestamp: h.now(),
		Source:    "scripts",
		ErrorMsg:  err.Error(),
	}
	if dbErr := h.store.CreateErrorLog(errorLog); dbErr != nil {
		h.logger.Error("failed to store script error", "err", dbErr)
	}
}
