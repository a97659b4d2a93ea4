package database

import (
	"context"
	"strings"
	"time"

	"github.com/gamelaunch/gamelaunch/internal/models"
	"github.com/gamelaunch/gamelaunch/pkg/probe"

	"github.com/pkg/errors"

	"gorm.io/gorm"
)

// Repository handles all database operations for usage, sessions and errors.
// Timestamps are stored in UTC so that range queries compare correctly.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateUsage inserts a new usage event into the database
func (r *Repository) CreateUsage(event *models.UsageEvent) error {
	event.AppID = strings.ToLower(strings.TrimSpace(event.AppID))
	event.FirstSeen = event.FirstSeen.UTC()
	event.LastUsed = event.LastUsed.UTC()
	result := r.db.Create(event)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert usage event")
	}
	return nil
}

// ExtendUsage moves the last-used mark of an event forward
func (r *Repository) ExtendUsage(id uint, lastUsed time.Time, duration int64) error {
	result := r.db.Model(&models.UsageEvent{}).Where("id = ?", id).Updates(map[string]any{
		"last_used": lastUsed.UTC(),
		"duration":  duration,
	})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to extend usage event")
	}
	if result.RowsAffected == 0 {
		return errors.Errorf("usage event %d not found", id)
	}
	return nil
}

// RecentUsage returns the latest use of every application seen in
// [since, until]. It backs the usage probe.
func (r *Repository) RecentUsage(ctx context.Context, since, until time.Time) ([]probe.Usage, error) {
	var events []models.UsageEvent
	result := r.db.WithContext(ctx).
		Select("app_id", "last_used").
		Where("last_used >= ? AND last_used <= ?", since.UTC(), until.UTC()).
		Order("last_used DESC").
		Find(&events)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query recent usage")
	}

	seen := make(map[string]bool, len(events))
	usage := make([]probe.Usage, 0, len(events))
	for _, e := range events {
		if seen[e.AppID] {
			continue
		}
		seen[e.AppID] = true
		usage = append(usage, probe.Usage{AppID: e.AppID, LastUsed: e.LastUsed})
	}
	return usage, nil
}

// GetLatestUsage retrieves the most recent usage event
func (r *Repository) GetLatestUsage() (*models.UsageEvent, error) {
	var event models.UsageEvent
	result := r.db.Order("last_used DESC").First(&event)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(result.Error, "failed to get latest usage event")
	}
	return &event, nil
}

// GetUsageSummarySince returns aggregated foreground time per app
// Uses SQL SUM for efficiency - runtime can do additional calculations
func (r *Repository) GetUsageSummarySince(since time.Time) ([]models.AppSummary, error) {
	var summaries []models.AppSummary

	result := r.db.Model(&models.UsageEvent{}).
		Select("app_id, SUM(duration) as total_millis, COUNT(*) as event_count").
		Where("last_used >= ?", since.UTC()).
		Group("app_id").
		Order("total_millis DESC").
		Scan(&summaries)

	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query usage summary")
	}

	return summaries, nil
}

// DeleteUsageBefore deletes usage events last seen before a given time (soft delete)
func (r *Repository) DeleteUsageBefore(before time.Time) (int64, error) {
	result := r.db.Where("last_used < ?", before.UTC()).Delete(&models.UsageEvent{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to delete old usage events")
	}
	return result.RowsAffected, nil
}

// CreateSession inserts a new open game session
func (r *Repository) CreateSession(session *models.GameSession) error {
	session.StartedAt = session.StartedAt.UTC()
	result := r.db.Create(session)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert game session")
	}
	return nil
}

// EndSession closes an open session and reports whether it was open.
func (r *Repository) EndSession(id string, endedAt time.Time, reason, lastForeground string) (bool, error) {
	result := r.db.Model(&models.GameSession{}).
		Where("id = ? AND ended_at IS NULL", id).
		Updates(map[string]any{
			"ended_at":        endedAt.UTC(),
			"end_reason":      reason,
			"last_foreground": lastForeground,
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to end game session")
	}
	return result.RowsAffected > 0, nil
}

// CloseOpenSessions ends every open session, e.g. left behind by a crash
func (r *Repository) CloseOpenSessions(endedAt time.Time, reason string) (int64, error) {
	result := r.db.Model(&models.GameSession{}).
		Where("ended_at IS NULL").
		Updates(map[string]any{
			"ended_at":   endedAt.UTC(),
			"end_reason": reason,
		})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to close open sessions")
	}
	return result.RowsAffected, nil
}

// GetSession retrieves a game session by its ID
func (r *Repository) GetSession(id string) (*models.GameSession, error) {
	var session models.GameSession
	result := r.db.Where("id = ?", id).First(&session)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, errors.Wrap(result.Error, "failed to get game session")
	}
	return &session, nil
}

// GetSessionsSince returns sessions that overlap [since, now]: open ones and
// those that ended after since.
func (r *Repository) GetSessionsSince(since time.Time) ([]*models.GameSession, error) {
	var sessions []*models.GameSession
	result := r.db.
		Where("ended_at IS NULL OR ended_at >= ?", since.UTC()).
		Order("started_at ASC").
		Find(&sessions)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query game sessions")
	}
	return sessions, nil
}

// CreateErrorLog inserts a new error log into the database
func (r *Repository) CreateErrorLog(errorLog *models.ErrorLog) error {
	errorLog.Timestamp = errorLog.Timestamp.UTC()
	result := r.db.Create(errorLog)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert error log")
	}
	return nil
}

// GetErrorLogsSince returns error logs recorded since a given time
func (r *Repository) GetErrorLogsSince(since time.Time) ([]*models.ErrorLog, error) {
	var logs []*models.ErrorLog
	result := r.db.Where("timestamp >= ?", since.UTC()).Order("timestamp ASC").Find(&logs)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query error logs")
	}
	return logs, nil
}

// Clear removes all usage events and game sessions from the database
func (r *Repository) Clear() error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM usage_events").Error; err != nil {
			return errors.Wrap(err, "failed to clear usage events")
		}
		if err := tx.Exec("DELETE FROM game_sessions").Error; err != nil {
			return errors.Wrap(err, "failed to clear game sessions")
		}
		return nil
	})
}
