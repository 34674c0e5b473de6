package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tahsin716/fjpool"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Width(22)
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#DDDDDD"))
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// renderStats formats a pool snapshot as two boxes: totals on the left and
// the per-worker table on the right.
func renderStats(s fjpool.Stats, elapsed time.Duration) string {
	rows := [][2]string{
		{"State", s.State.String()},
		{"Elapsed", elapsed.Round(time.Millisecond).String()},
		{"Parallelism", fmt.Sprint(s.Parallelism)},
		{"Pool size", fmt.Sprint(s.PoolSize)},
		{"Submitted", fmt.Sprint(s.Submitted)},
		{"Steals", fmt.Sprint(s.StealCount)},
		{"Workers created", fmt.Sprint(s.WorkersCreated)},
		{"Compensations", fmt.Sprint(s.Compensations)},
		{"Queued tasks", fmt.Sprint(s.QueuedTasks)},
		{"Queued submissions", fmt.Sprint(s.QueuedSubmissions)},
	}
	lines := []string{titleStyle.Render(fmt.Sprintf("%s (%s)", s.Name, s.ID))}
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r[0])+valueStyle.Render(r[1]))
	}
	left := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))

	if len(s.Workers) == 0 {
		return left
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %5s %6s %8s  %s", "WORKER", "INDEX", "QUEUE", "STEALS", "STATE")))
	for _, w := range s.Workers {
		b.WriteByte('\n')
		b.WriteString(valueStyle.Render(fmt.Sprintf("%-24s %5d %6d %8d  %s", w.Name, w.Index, w.QueueSize, w.Steals, w.State)))
	}
	right := boxStyle.Render(b.String())

	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}
