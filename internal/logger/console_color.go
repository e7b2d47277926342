package logger

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/harrison/kaizen/internal/models"
	"github.com/harrison/kaizen/internal/pdca"
)

// successThreshold separates green from yellow rates and scores.
const successThreshold = 0.8

// colorScheme defines consistent colors for summaries.
// Green: success/positive figures
// Red: failures
// Yellow: figures below threshold
// Cyan: labels and identifiers
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	header  *color.Color
}

// newColorScheme creates the standard color scheme. With enabled false every
// color prints plain text regardless of the terminal.
func newColorScheme(enabled bool) *colorScheme {
	s := &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		header:  color.New(color.Bold),
	}
	for _, c := range []*color.Color{s.success, s.fail, s.warn, s.label, s.header} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// rate picks green at or above the threshold and yellow below it.
func (s *colorScheme) rate(v float64) *color.Color {
	if v >= successThreshold {
		return s.success
	}
	return s.warn
}

// formatStatistics renders queue statistics one figure per line.
func formatStatistics(stats models.Statistics, s *colorScheme) []string {
	lines := []string{
		fmt.Sprintf("Total tasks: %d", stats.TotalTasks),
		s.success.Sprintf("Completed: %d", stats.Completed),
	}
	if stats.Failed > 0 {
		lines = append(lines, s.fail.Sprintf("Failed: %d", stats.Failed))
	} else {
		lines = append(lines, fmt.Sprintf("Failed: %d", stats.Failed))
	}
	if stats.QueueSize > 0 {
		lines = append(lines, s.warn.Sprintf("Still queued: %d", stats.QueueSize))
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		lines = append(lines, s.rate(stats.SuccessRate).Sprintf("Success rate: %.1f%%", stats.SuccessRate*100))
	}
	lines = append(lines, fmt.Sprintf("Average execution time: %s", formatDuration(stats.AverageExecutionTime)))

	if len(stats.Executors) > 0 {
		lines = append(lines, "Executors:")
	}
	for _, e := range stats.Executors {
		line := fmt.Sprintf("  - %s (%s): %s, runs %d",
			s.label.Sprint(e.ID), e.Kind, s.rate(e.SuccessRate).Sprintf("%.1f%%", e.SuccessRate*100), e.Runs)
		if !e.Available {
			line += s.fail.Sprint(" [unavailable]")
		}
		lines = append(lines, line)
	}
	return lines
}

// formatCheck renders a check result as one line per metric followed by the
// scores and deviations.
func formatCheck(check *pdca.CheckResult, s *colorScheme) []string {
	var lines []string
	for _, m := range check.Metrics {
		c := s.success
		if !m.Achieved {
			c = s.fail
		}
		lines = append(lines, fmt.Sprintf("  %s: %s (target %.1f)", s.label.Sprint(m.Name), c.Sprintf("%.1f", m.Actual), m.Target))
	}
	lines = append(lines, fmt.Sprintf("  efficiency %.1f, effectiveness %.1f, quality %.1f, overall %s",
		check.Efficiency, check.Effectiveness, check.Quality, s.rate(check.OverallScore/100).Sprintf("%.1f", check.OverallScore)))
	for _, d := range check.Deviations {
		c := s.warn
		if d.Severity != pdca.SeverityMedium {
			c = s.fail
		}
		lines = append(lines, fmt.Sprintf("  %s %s", c.Sprintf("[%s]", d.Severity), d.Description))
	}
	return lines
}
