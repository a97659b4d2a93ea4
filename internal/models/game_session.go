package models

import "time"

// Reasons a game session was closed.
const (
	EndExited     = "exited"
	EndSuperseded = "superseded"
	EndStopped    = "stopped"
)

// GameSession records one launch of an application and how it ended.
// EndedAt is nil while the session is open.
type GameSession struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	AppID          string     `gorm:"not null;index" json:"app_id"`
	DisplayName    string     `json:"display_name"`
	StartedAt      time.Time  `gorm:"not null;index" json:"started_at"`
	EndedAt        *time.Time `gorm:"index" json:"ended_at,omitempty"`
	EndReason      string     `json:"end_reason,omitempty"`
	LastForeground string     `json:"last_foreground,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Open reports whether the session has not ended yet.
func (s *GameSession) Open() bool {
	return s.EndedAt == nil
}

// PlayedUntil returns the time played up to now, or the full length of a
// closed session.
func (s *GameSession) PlayedUntil(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}
