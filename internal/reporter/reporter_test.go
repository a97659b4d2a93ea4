package reporter

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/internal/models"
)

type fakeSource struct {
	sessions []*models.GameSession
	usage    []models.AppSummary
}

func (f *fakeSource) GetSessionsSince(time.Time) ([]*models.GameSession, error) {
	return f.sessions, nil
}

func (f *fakeSource) GetUsageSummarySince(time.Time) ([]models.AppSummary, error) {
	return f.usage, nil
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 10, 16, hour, minute, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestPeriod(t *testing.T) {
	// Friday
	now := time.Date(2026, 10, 16, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		period    string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"day", at(0, 0), at(0, 0).AddDate(0, 0, 1)},
		{"today", at(0, 0), at(0, 0).AddDate(0, 0, 1)},
		{"week", time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)},
		{"month", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			p, err := Period(tt.period, now)
			if err != nil {
				t.Fatalf("Period() error: %v", err)
			}
			if !p.Start.Equal(tt.wantStart) || !p.End.Equal(tt.wantEnd) {
				t.Errorf("Period() = %v..%v, want %v..%v", p.Start, p.End, tt.wantStart, tt.wantEnd)
			}
		})
	}

	if _, err := Period("year", now); !apperr.Is(err, apperr.InvalidArgument) {
		t.Errorf("Period(year) kind = %s, want InvalidArgument", apperr.KindOf(err))
	}
}

func TestGenerateReport(t *testing.T) {
	source := &fakeSource{
		sessions: []*models.GameSession{
			// Started yesterday, clipped to midnight.
			{ID: "1", AppID: "game.a", DisplayName: "Game A", StartedAt: at(0, 0).Add(-time.Hour), EndedAt: ptr(at(0, 30))},
			{ID: "2", AppID: "game.b", DisplayName: "Game B", StartedAt: at(10, 0), EndedAt: ptr(at(11, 0))},
			// Still open, counts up to now.
			{ID: "3", AppID: "game.a", DisplayName: "Game A", StartedAt: at(14, 0)},
		},
		usage: []models.AppSummary{
			{AppID: "game.b", TotalMillis: 90_000, EventCount: 2},
			{AppID: "game.a", TotalMillis: 30_000, EventCount: 1},
		},
	}
	r := New(source)
	r.now = func() time.Time { return at(15, 0) }

	report, err := r.GenerateReport("day")
	if err != nil {
		t.Fatalf("GenerateReport() error: %v", err)
	}

	want := []models.GameSummary{
		{AppID: "game.a", DisplayName: "Game A", Sessions: 2, TotalSeconds: 5400, TotalMinutes: 90, TotalHours: 1.5, Percentage: 60},
		{AppID: "game.b", DisplayName: "Game B", Sessions: 1, TotalSeconds: 3600, TotalMinutes: 60, TotalHours: 1, Percentage: 40},
	}
	if diff := cmp.Diff(want, report.Games); diff != "" {
		t.Errorf("games mismatch (-want +got):\n%s", diff)
	}
	if report.TotalSeconds != 9000 {
		t.Errorf("TotalSeconds = %d, want 9000", report.TotalSeconds)
	}
	if got := report.Foreground[0].Percentage; got != 75 {
		t.Errorf("foreground percentage = %v, want 75", got)
	}
	if report.Foreground[0].TotalMinutes != 1.5 {
		t.Errorf("foreground minutes = %v, want 1.5", report.Foreground[0].TotalMinutes)
	}
}

func TestFormatReportText(t *testing.T) {
	report := &models.Report{
		Period: models.ReportPeriod{Type: "day", Start: at(0, 0), End: at(0, 0).AddDate(0, 0, 1)},
		Games: []models.GameSummary{
			{AppID: "game.a", DisplayName: "Game A", Sessions: 2, TotalSeconds: 5400, Percentage: 100},
		},
		TotalSeconds: 5400,
	}

	out := FormatReportText(report)
	for _, want := range []string{"Play Time Report - day", "Total Play Time: 1h", "Game A", "100.0%"} {
		if !strings.Contains(out, want) {
			t.Errorf("text report missing %q:\n%s", want, out)
		}
	}

	empty := FormatReportText(&models.Report{Period: models.ReportPeriod{Type: "week"}})
	if !strings.Contains(empty, "No games played") {
		t.Errorf("empty report = %q", empty)
	}
}

func TestFormatReportJSON(t *testing.T) {
	out, err := FormatReportJSON(&models.Report{Period: models.ReportPeriod{Type: "month"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"type": "month"`) {
		t.Errorf("json report = %s", out)
	}
}
