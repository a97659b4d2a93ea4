package reporter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/internal/models"
	"github.com/gamelaunch/gamelaunch/pkg/utils"
)

// Source is the read side of the repository the reporter needs.
type Source interface {
	GetSessionsSince(since time.Time) ([]*models.GameSession, error)
	GetUsageSummarySince(since time.Time) ([]models.AppSummary, error)
}

// Reporter handles report generation
type Reporter struct {
	source Source
	now    func() time.Time
}

// New creates a new reporter
func New(source Source) *Reporter {
	return &Reporter{
		source: source,
		now:    time.Now,
	}
}

// GenerateReport builds the play-time report for the specified period.
// Open sessions count up to now.
func (r *Reporter) GenerateReport(periodType string) (*models.Report, error) {
	now := r.now()
	period, err := Period(periodType, now)
	if err != nil {
		return nil, err
	}

	sessions, err := r.source.GetSessionsSince(period.Start)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get game sessions")
	}
	games, totalSeconds := summarizeSessions(sessions, period, now)

	foreground, err := r.source.GetUsageSummarySince(period.Start)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get usage summary")
	}
	var foregroundMillis int64
	for i := range foreground {
		foreground[i].TotalMinutes = float64(foreground[i].TotalMillis) / 60000.0
		foreground[i].TotalHours = float64(foreground[i].TotalMillis) / 3600000.0
		foregroundMillis += foreground[i].TotalMillis
	}
	if foregroundMillis > 0 {
		for i := range foreground {
			foreground[i].Percentage = float64(foreground[i].TotalMillis) * 100.0 / float64(foregroundMillis)
		}
	}

	return &models.Report{
		Period:       *period,
		Games:        games,
		Foreground:   foreground,
		TotalSeconds: totalSeconds,
		TotalMinutes: float64(totalSeconds) / 60.0,
		TotalHours:   float64(totalSeconds) / 3600.0,
		GeneratedAt:  now,
	}, nil
}

// summarizeSessions clips each session to the period and sums per app,
// longest play time first.
func summarizeSessions(sessions []*models.GameSession, period *models.ReportPeriod, now time.Time) ([]models.GameSummary, int64) {
	limit := period.End
	if now.Before(limit) {
		limit = now
	}

	byApp := make(map[string]*models.GameSummary)
	var total int64
	for _, s := range sessions {
		start := s.StartedAt
		if start.Before(period.Start) {
			start = period.Start
		}
		end := limit
		if s.EndedAt != nil && s.EndedAt.Before(end) {
			end = *s.EndedAt
		}
		if !end.After(start) {
			continue
		}

		g, ok := byApp[s.AppID]
		if !ok {
			g = &models.GameSummary{AppID: s.AppID}
			byApp[s.AppID] = g
		}
		if s.DisplayName != "" {
			g.DisplayName = s.DisplayName
		}
		seconds := int64(end.Sub(start) / time.Second)
		g.Sessions++
		g.TotalSeconds += seconds
		total += seconds
	}

	games := make([]models.GameSummary, 0, len(byApp))
	for _, g := range byApp {
		g.TotalMinutes = float64(g.TotalSeconds) / 60.0
		g.TotalHours = float64(g.TotalSeconds) / 3600.0
		if total > 0 {
			g.Percentage = float64(g.TotalSeconds) * 100.0 / float64(total)
		}
		games = append(games, *g)
	}
	sort.Slice(games, func(i, j int) bool {
		if games[i].TotalSeconds != games[j].TotalSeconds {
			return games[i].TotalSeconds > games[j].TotalSeconds
		}
		return games[i].AppID < games[j].AppID
	})
	return games, total
}

// Period calculates the time range of a report relative to now.
func Period(periodType string, now time.Time) (*models.ReportPeriod, error) {
	var start, end time.Time

	switch periodType {
	case "day", "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 0, 1)

	case "week":
		// Start of week (Monday)
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)

	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)

	default:
		return nil, apperr.New(apperr.InvalidArgument, "invalid period type: %s (valid: day, week, month)", periodType)
	}

	return &models.ReportPeriod{
		Start: start,
		End:   end,
		Type:  periodType,
	}, nil
}

// FormatReportText formats the report as human-readable text
func FormatReportText(report *models.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Play Time Report - %s\n", report.Period.Type)
	fmt.Fprintf(&b, "Period: %s to %s\n",
		report.Period.Start.Format("2006-01-02 15:04"),
		report.Period.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Total Play Time: %s\n\n", utils.FormatRoundedUnit(report.TotalSeconds))

	if len(report.Games) == 0 {
		b.WriteString("No games played in this period.\n")
	} else {
		fmt.Fprintf(&b, "%-30s %8s %10s %9s\n", "Game", "Sessions", "Time", "Percent")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, g := range report.Games {
			name := g.DisplayName
			if name == "" {
				name = g.AppID
			}
			fmt.Fprintf(&b, "%-30s %8d %10s %8.1f%%\n",
				truncate(name, 30),
				g.Sessions,
				utils.FormatRoundedUnit(g.TotalSeconds),
				g.Percentage)
		}
	}

	if len(report.Foreground) > 0 {
		b.WriteString("\nForeground Time\n")
		fmt.Fprintf(&b, "%-30s %8s %10s %9s\n", "Application", "Events", "Time", "Percent")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, app := range report.Foreground {
			fmt.Fprintf(&b, "%-30s %8d %10s %8.1f%%\n",
				truncate(app.AppID, 30),
				app.EventCount,
				utils.FormatRoundedUnit(app.TotalMillis/1000),
				app.Percentage)
		}
	}

	return b.String()
}

// FormatReportJSON formats the report as JSON
func FormatReportJSON(report *models.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal JSON")
	}
	return string(data), nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
