// Package tracker samples the focused window into the usage table that the
// foreground probe reads.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gamelaunch/gamelaunch/internal/models"
	"github.com/gamelaunch/gamelaunch/pkg/window"
)

// Store is the part of the repository the tracker writes to.
type Store interface {
	CreateUsage(event *models.UsageEvent) error
	ExtendUsage(id uint, lastUsed time.Time, duration int64) error
	CreateErrorLog(errorLog *models.ErrorLog) error
}

type Service struct {
	store    Store
	detector window.Detector
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// current is the row extended while the same app keeps the focus.
	current *models.UsageEvent
}

func NewService(store Store, detector window.Detector, interval time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		detector: detector,
		interval: interval,
		logger:   logger.With("component", "tracker"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start samples until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tracker is already running")
	}
	defer s.running.Store(false)

	s.logger.Info("starting usage sampler", "interval", s.interval, "display", s.detector.GetDisplayServer())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("usage sampler stopped by context")
			return ctx.Err()

		case <-s.stopChan:
			s.logger.Debug("usage sampler stopped")
			return nil

		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Service) IsRunning() bool {
	return s.running.Load()
}

func (s *Service) sample() {
	appID, err := s.trackOnce()
	if err != nil {
		s.current = nil
		s.storeError(err)
		return
	}
	if appID != "" {
		s.logger.Debug("sampled", "app", appID)
	}
}

// trackOnce records the focused app and returns its id, or "" when the
// session is idle or locked.
func (s *Service) trackOnce() (string, error) {
	idleInfo, err := s.detector.GetIdleInfo()
	if err != nil {
		return "", fmt.Errorf("failed to get idle info: %w", err)
	}

	if idleInfo.IsIdle || idleInfo.IsLocked {
		s.current = nil
		return "", nil
	}

	windowInfo, err := s.detector.GetFocusedWindow()
	if err != nil {
		return "", fmt.Errorf("failed to get focused window: %w", err)
	}

	appID := ""
	if windowInfo != nil {
		appID = window.NormalizeAppID(windowInfo.AppID)
		if appID == "" {
			appID = window.NormalizeAppID(windowInfo.AppName)
		}
	}
	if appID == "" {
		return "", fmt.Errorf("no valid window information available")
	}

	now := s.now()

	// Extend the open row while the same app keeps the focus without gaps.
	if cur := s.current; cur != nil && cur.AppID == appID && now.Sub(cur.LastUsed) <= 2*s.interval {
		duration := cur.Duration + now.Sub(cur.LastUsed).Milliseconds()
		if err := s.store.ExtendUsage(cur.ID, now, duration); err != nil {
			return "", fmt.Errorf("failed to extend usage: %w", err)
		}
		cur.LastUsed = now
		cur.Duration = duration
		return appID, nil
	}

	event := &models.UsageEvent{
		AppID:         appID,
		WindowTitle:   windowInfo.WindowTitle,
		DisplayServer: windowInfo.DisplayServer,
		FirstSeen:     now,
		LastUsed:      now,
	}
	if err := s.store.CreateUsage(event); err != nil {
		return "", fmt.Errorf("failed to save usage: %w", err)
	}
	s.current = event

	return appID, nil
}

func (s *Service) storeError(err error) {
	errorLog := &models.ErrorLog{
		Timestamp: s.now(),
		Source:    "tracker",
		ErrorMsg:  err.Error(),
	}

	if dbErr := s.store.CreateErrorLog(errorLog); dbErr != nil {
		s.logger.Error("failed to store sampler error", "err", dbErr, "original", err)
	} else {
		s.logger.Debug("sampler error logged", "err", err)
	}
}

// GetCurrentWindow asks the detector directly, bypassing the usage table.
func (s *Service) GetCurrentWindow() (*window.WindowInfo, *window.IdleInfo, error) {
	windowInfo, err := s.detector.GetFocusedWindow()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get focused window: %w", err)
	}

	idleInfo, err := s.detector.GetIdleInfo()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get idle info: %w", err)
	}

	return windowInfo, idleInfo, nil
}
