package host

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/internal/launcher"
	"github.com/gamelaunch/gamelaunch/internal/logging"
	"github.com/gamelaunch/gamelaunch/internal/models"
	"github.com/gamelaunch/gamelaunch/internal/monitor"
	"github.com/gamelaunch/gamelaunch/internal/scripts"
	"github.com/gamelaunch/gamelaunch/pkg/probe"
)

type fakeRegistry struct {
	apps []launcher.App
}

func (f *fakeRegistry) Apps(context.Context) ([]launcher.App, error) { return f.apps, nil }

func (f *fakeRegistry) Lookup(_ context.Context, id string) (launcher.App, error) {
	for _, app := range f.apps {
		if app.ID == id {
			return app, nil
		}
	}
	return launcher.App{}, apperr.New(apperr.AppNotFound, "no launch entry for %q", id)
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.GameSession
	errs     int

	// beforeEnd, when set, runs at the start of every EndSession call.
	beforeEnd func(id, reason string)
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*models.GameSession)}
}

func (m *memStore) CreateSession(s *models.GameSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) EndSession(id string, endedAt time.Time, reason, lastForeground string) (bool, error) {
	if m.beforeEnd != nil {
		m.beforeEnd(id, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.EndedAt != nil {
		return false, nil
	}
	s.EndedAt = &endedAt
	s.EndReason = reason
	s.LastForeground = lastForeground
	return true, nil
}

func (m *memStore) CloseOpenSessions(endedAt time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.EndedAt == nil {
			s.EndedAt = &endedAt
			s.EndReason = reason
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateErrorLog(*models.ErrorLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs++
	return nil
}

func (m *memStore) reason(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.EndReason
	}
	return "<missing>"
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type fakeScripts struct {
	mu  sync.Mutex
	ran []string
}

func (f *fakeScripts) AreExtracted() bool              { return true }
func (f *fakeScripts) Extract(scripts.ScriptSet) error { return nil }

func (f *fakeScripts) Run(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, name)
	return nil
}

func (f *fakeScripts) Ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

type rootFlag bool

func (r rootFlag) IsRoot(context.Context) bool { return bool(r) }

type fixture struct {
	host       *Host
	store      *memStore
	scripts    *fakeScripts
	foreground atomic.Value
	probes     atomic.Int64
	cancel     context.CancelFunc
	done       chan error
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	return newFixtureWith(t, &fakeRegistry{apps: []launcher.App{
		{ID: "game.a", Name: "Game A", Exec: "game-a"},
		{ID: "game.b", Name: "Game B", Exec: "game-b"},
	}}, newMemStore(), opts)
}

func newFixtureWith(t *testing.T, registry launcher.Registry, store *memStore, opts Options) *fixture {
	t.Helper()
	f := &fixture{store: store, scripts: &fakeScripts{}}
	f.foreground.Store("")

	if opts.Monitor.Interval == 0 {
		opts.Monitor.Interval = 5 * time.Millisecond
	}
	deps := Deps{
		Registry: registry,
		Spawner:  func([]string, string) (int, error) { return 100, nil },
		Probe: probe.Func(func(context.Context) (string, error) {
			f.probes.Add(1)
			return f.foreground.Load().(string), nil
		}),
		Scripts: f.scripts,
		Root:    rootFlag(false),
		Store:   f.store,
	}
	f.host = New(deps, opts, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan error, 1)
	go func() { f.done <- f.host.Run(ctx) }()
	t.Cleanup(f.shutdown)
	return f
}

func (f *fixture) shutdown() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.cancel = nil
}

// waitTicks waits until the monitor has polled n more times.
func (f *fixture) waitTicks(t *testing.T, n int64) {
	t.Helper()
	target := f.probes.Load() + n
	waitFor(t, "monitor ticks", func() bool { return f.probes.Load() >= target })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLaunchAndExit(t *testing.T) {
	f := newFixture(t, Options{RestoreOnExit: true})

	ended := make(chan monitor.SessionEnd, 1)
	unsubscribe := f.host.Subscribe(func(end monitor.SessionEnd) { ended <- end })
	defer unsubscribe()

	f.foreground.Store("game.a")
	launched, err := f.host.LaunchApp(context.Background(), "game.a")
	if err != nil {
		t.Fatalf("LaunchApp() error: %v", err)
	}
	if launched.PID != 100 || launched.SessionID == "" {
		t.Errorf("Launched = %+v", launched)
	}
	if s := f.host.Session(); !s.Active || s.TrackedAppID != "game.a" {
		t.Errorf("Session() = %+v", s)
	}

	f.foreground.Store("shop.store")

	select {
	case end := <-ended:
		if end.SessionID != launched.SessionID || end.LastForeground != "shop.store" {
			t.Errorf("SessionEnd = %+v", end)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sessionEnded event")
	}

	waitFor(t, "session closed", func() bool { return f.store.reason(launched.SessionID) == models.EndExited })
	waitFor(t, "balanced script", func() bool {
		ran := f.scripts.Ran()
		return len(ran) == 1 && ran[0] == scripts.NonRootBalanced
	})
}

func TestLaunchSupersedes(t *testing.T) {
	f := newFixture(t, Options{})
	f.foreground.Store("")

	first, err := f.host.LaunchApp(context.Background(), "game.a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.host.LaunchApp(context.Background(), "game.b")
	if err != nil {
		t.Fatal(err)
	}

	if got := f.store.reason(first.SessionID); got != models.EndSuperseded {
		t.Errorf("first session reason = %q, want superseded", got)
	}
	if got := f.store.reason(second.SessionID); got != "" {
		t.Errorf("second session reason = %q, want open", got)
	}

	f.shutdown()
	if got := f.store.reason(second.SessionID); got != models.EndStopped {
		t.Errorf("after shutdown reason = %q, want stopped", got)
	}
}

func TestLaunchUnknownApp(t *testing.T) {
	f := newFixture(t, Options{PerfOnLaunch: true})

	_, err := f.host.LaunchApp(context.Background(), "com.missing")
	if !apperr.Is(err, apperr.AppNotFound) {
		t.Fatalf("LaunchApp() kind = %s, want AppNotFound", apperr.KindOf(err))
	}
	if f.host.Session().Active {
		t.Error("session started for unknown app")
	}
	time.Sleep(20 * time.Millisecond)
	if ran := f.scripts.Ran(); len(ran) != 0 {
		t.Errorf("scripts ran for a failed launch: %v", ran)
	}
}

func TestPerfOnLaunch(t *testing.T) {
	f := newFixture(t, Options{PerfOnLaunch: true})
	f.foreground.Store("game.a")

	if _, err := f.host.LaunchApp(context.Background(), "game.a"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "perf script", func() bool {
		ran := f.scripts.Ran()
		return len(ran) == 1 && ran[0] == scripts.NonRootPerf
	})
}

func TestStopSession(t *testing.T) {
	f := newFixture(t, Options{})
	f.foreground.Store("game.a")

	launched, err := f.host.LaunchApp(context.Background(), "game.a")
	if err != nil {
		t.Fatal(err)
	}
	f.host.StopSession()

	if f.host.Session().Active {
		t.Error("session active after StopSession")
	}
	if got := f.store.reason(launched.SessionID); got != models.EndStopped {
		t.Errorf("reason = %q, want stopped", got)
	}
	f.host.StopSession()
}

func TestAddWhitelistedPackage(t *testing.T) {
	f := newFixture(t, Options{})

	if !f.host.AddWhitelistedPackage("com.example.Store") {
		t.Error("first add reported existing")
	}
	if f.host.AddWhitelistedPackage("com.example.store") {
		t.Error("second add reported new")
	}

	found := false
	for _, id := range f.host.Whitelist() {
		if id == "com.example.store" {
			found = true
		}
	}
	if !found {
		t.Error("Whitelist() missing added id")
	}
}

func TestSteamGameFocusKeepsSession(t *testing.T) {
	dataDir := t.TempDir()
	entry := "[Desktop Entry]\nType=Application\nName=Portal 2\nExec=steam steam://rungameid/620\nCategories=Game;\n"
	path := filepath.Join(dataDir, "applications", "Portal 2.desktop")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(entry), 0o644); err != nil {
		t.Fatal(err)
	}
	registry := launcher.NewDesktopRegistry([]string{dataDir}, launcher.AllApps, logging.Discard())

	f := newFixtureWith(t, registry, newMemStore(), Options{Monitor: monitor.Config{Threshold: 1}})
	ended := make(chan monitor.SessionEnd, 1)
	defer f.host.Subscribe(func(end monitor.SessionEnd) { ended <- end })()

	f.foreground.Store("steam")
	launched, err := f.host.LaunchApp(context.Background(), "Portal 2")
	if err != nil {
		t.Fatalf("LaunchApp() error: %v", err)
	}
	f.waitTicks(t, 3)
	f.foreground.Store("steam_app_620")
	f.waitTicks(t, 5)

	select {
	case end := <-ended:
		t.Fatalf("session ended while the game had focus: %+v", end)
	default:
	}
	if s := f.host.Session(); !s.Active || s.SessionID != launched.SessionID || s.MismatchCount != 0 {
		t.Fatalf("Session() = %+v, want the launched session active", s)
	}

	f.foreground.Store("shop.store")
	select {
	case end := <-ended:
		if end.SessionID != launched.SessionID || end.LastForeground != "shop.store" {
			t.Errorf("SessionEnd = %+v", end)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("leaving the game did not end the session")
	}
}

func TestLaunchWhileExitIsDeliveredRecordsExit(t *testing.T) {
	store := newMemStore()
	exiting := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.beforeEnd = func(_ string, reason string) {
		if reason == models.EndExited {
			once.Do(func() { close(exiting) })
			<-release
		}
	}
	f := newFixtureWith(t, &fakeRegistry{apps: []launcher.App{
		{ID: "game.a", Name: "Game A", Exec: "game-a"},
		{ID: "game.b", Name: "Game B", Exec: "game-b"},
	}}, store, Options{})

	f.foreground.Store("game.a")
	first, err := f.host.LaunchApp(context.Background(), "game.a")
	if err != nil {
		t.Fatal(err)
	}
	f.foreground.Store("shop.store")
	select {
	case <-exiting:
	case <-time.After(2 * time.Second):
		t.Fatal("first session never ended")
	}

	f.foreground.Store("game.b")
	second, err := f.host.LaunchApp(context.Background(), "game.b")
	if err != nil {
		t.Fatal(err)
	}
	close(release)

	waitFor(t, "exit recorded", func() bool { return f.store.reason(first.SessionID) != "" })
	if got := f.store.reason(first.SessionID); got != models.EndExited {
		t.Errorf("first session reason = %q, want exited", got)
	}
	if got := f.store.reason(second.SessionID); got != "" {
		t.Errorf("second session reason = %q, want open", got)
	}
}

func TestLaunchAfterShutdownFails(t *testing.T) {
	f := newFixture(t, Options{})
	f.shutdown()

	_, err := f.host.LaunchApp(context.Background(), "game.a")
	if !apperr.Is(err, apperr.LaunchFailed) {
		t.Fatalf("LaunchApp() kind = %s, want LaunchFailed", apperr.KindOf(err))
	}
	if n := f.store.count(); n != 0 {
		t.Errorf("%d session rows written after shutdown", n)
	}
}
