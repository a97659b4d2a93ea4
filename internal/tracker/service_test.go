package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gamelaunch/gamelaunch/internal/logging"
	"github.com/gamelaunch/gamelaunch/internal/models"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

type memStore struct {
	events []*models.UsageEvent
	errs   []*models.ErrorLog
	failOn error
}

func (m *memStore) CreateUsage(e *models.UsageEvent) error {
	if m.failOn != nil {
		return m.failOn
	}
	e.ID = uint(len(m.events) + 1)
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) ExtendUsage(id uint, lastUsed time.Time, duration int64) error {
	e := m.events[id-1]
	e.LastUsed = lastUsed
	e.Duration = duration
	return nil
}

func (m *memStore) CreateErrorLog(l *models.ErrorLog) error {
	m.errs = append(m.errs, l)
	return nil
}

type fakeDetector struct {
	info *window.WindowInfo
	idle window.IdleInfo
	err  error
}

func (f *fakeDetector) GetFocusedWindow() (*window.WindowInfo, error) { return f.info, f.err }
func (f *fakeDetector) GetIdleInfo() (*window.IdleInfo, error)        { idle := f.idle; return &idle, nil }
func (f *fakeDetector) IsAvailable() bool                             { return true }
func (f *fakeDetector) GetDisplayServer() string                      { return "x11" }
func (f *fakeDetector) Close() error                                  { return nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(store *memStore, det *fakeDetector) (*Service, *clock) {
	c := &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	s := NewService(store, det, 500*time.Millisecond, logging.Discard())
	s.now = c.now
	return s, c
}

func TestSameAppExtendsRow(t *testing.T) {
	store := &memStore{}
	det := &fakeDetector{info: &window.WindowInfo{AppID: "Game.A", DisplayServer: "x11"}}
	s, c := newTestService(store, det)

	s.sample()
	c.advance(500 * time.Millisecond)
	s.sample()
	c.advance(500 * time.Millisecond)
	s.sample()

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	e := store.events[0]
	if e.AppID != "game.a" || e.Duration != 1000 || !e.LastUsed.Equal(c.t) {
		t.Errorf("event = %+v", e)
	}
}

func TestFocusChangeStartsNewRow(t *testing.T) {
	store := &memStore{}
	det := &fakeDetector{info: &window.WindowInfo{AppID: "game.a"}}
	s, c := newTestService(store, det)

	s.sample()
	det.info = &window.WindowInfo{AppName: "Shop.Store"}
	c.advance(500 * time.Millisecond)
	s.sample()

	if len(store.events) != 2 {
		t.Fatalf("events = %d, want 2", len(store.events))
	}
	if store.events[1].AppID != "shop.store" {
		t.Errorf("second AppID = %q, want shop.store", store.events[1].AppID)
	}
}

func TestGapStartsNewRow(t *testing.T) {
	store := &memStore{}
	det := &fakeDetector{info: &window.WindowInfo{AppID: "game.a"}}
	s, c := newTestService(store, det)

	s.sample()
	c.advance(5 * time.Second)
	s.sample()

	if len(store.events) != 2 {
		t.Fatalf("events = %d, want 2 after a gap", len(store.events))
	}
}

func TestIdleSkipsSample(t *testing.T) {
	store := &memStore{}
	det := &fakeDetector{info: &window.WindowInfo{AppID: "game.a"}}
	s, c := newTestService(store, det)

	s.sample()
	det.idle.IsLocked = true
	c.advance(500 * time.Millisecond)
	s.sample()
	det.idle.IsLocked = false
	c.advance(500 * time.Millisecond)
	s.sample()

	if len(store.events) != 2 {
		t.Fatalf("events = %d, want 2 (lock splits the row)", len(store.events))
	}
	if store.events[0].Duration != 0 {
		t.Errorf("locked time was counted: %d", store.events[0].Duration)
	}
}

func TestErrorsAreLoggedNotFatal(t *testing.T) {
	store := &memStore{}
	det := &fakeDetector{err: errors.New("no focused window")}
	s, _ := newTestService(store, det)

	s.sample()
	det.err = nil
	det.info = &window.WindowInfo{}
	s.sample()

	if len(store.errs) != 2 {
		t.Fatalf("error logs = %d, want 2", len(store.errs))
	}
	if store.errs[0].Source != "tracker" {
		t.Errorf("Source = %q", store.errs[0].Source)
	}
	if len(store.events) != 0 {
		t.Errorf("events = %d, want 0", len(store.events))
	}
}

func TestStartStop(t *testing.T) {
	store := &memStore{}
	det := &fakeDetector{info: &window.WindowInfo{AppID: "game.a"}}
	s := NewService(store, det, 10*time.Millisecond, logging.Discard())

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("tracker never started")
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}

	s.Stop()
	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v, want nil after Stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}
}
