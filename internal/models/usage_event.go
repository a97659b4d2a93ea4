package models

import (
	"time"

	"gorm.io/gorm"
)

// UsageEvent is one contiguous stretch of an application holding the focus,
// as seen by the usage sampler.
type UsageEvent struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	AppID         string         `gorm:"not null;index" json:"app_id"`
	WindowTitle   string         `gorm:"not null" json:"window_title"`
	DisplayServer string         `gorm:"not null" json:"display_server"` // "x11", "wayland" or "process"
	FirstSeen     time.Time      `gorm:"not null;index" json:"first_seen"`
	LastUsed      time.Time      `gorm:"not null;index" json:"last_used"`
	Duration      int64          `gorm:"not null;default:0" json:"duration"` // Milliseconds
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

type AppSummary struct {
	AppID        string  `json:"app_id"`
	TotalMillis  int64   `json:"total_millis"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	EventCount   int     `json:"event_count"`
	Percentage   float64 `json:"percentage,omitempty"`
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "day", "week", "month"
}

// GameSummary is the play time of one launched application.
type GameSummary struct {
	AppID        string  `json:"app_id"`
	DisplayName  string  `json:"display_name,omitempty"`
	Sessions     int     `json:"sessions"`
	TotalSeconds int64   `json:"total_seconds"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	Percentage   float64 `json:"percentage,omitempty"`
}

type Report struct {
	Period       ReportPeriod  `json:"period"`
	Games        []GameSummary `json:"games"`
	Foreground   []AppSummary  `json:"foreground"`
	TotalSeconds int64         `json:"total_seconds"`
	TotalMinutes float64       `json:"total_minutes"`
	TotalHours   float64       `json:"total_hours"`
	GeneratedAt  time.Time     `json:"generated_at"`
}
