package monitor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kufar_watch/models"
)

const recentRunLimit = 15

type dashboardDataMsg struct {
	runs []models.PassRun
	err  error
}

type logTailMsg struct {
	lines   []string
	modTime time.Time
}

// runStats summarizes the recent runs shown on the dashboard.
type runStats struct {
	total, completed, failed, running int
	newItems, drops                   int
}

func summarize(runs []models.PassRun) runStats {
	var s runStats
	for _, r := range runs {
		s.total++
		switch r.Status {
		case models.RunStatusCompleted:
			s.completed++
		case models.RunStatusFailed:
			s.failed++
		case models.RunStatusRunning:
			s.running++
		}
		s.newItems += r.NewCount
		s.drops += r.DropCount
	}
	return s
}

type Dashboard struct {
	source        Source
	width, height int
	runs          []models.PassRun
	err           error
	logLines      []string
	logPath       string
	logScroll     int // 0 = newest
	logViewport   int
	logBuffer     int
	logModTime    time.Time
}

func NewDashboard(source Source, logPath string) Dashboard {
	if logPath == "" {
		logPath = "daemon.log"
	}
	return Dashboard{
		source:      source,
		logPath:     logPath,
		logViewport: 20,
		logBuffer:   200,
	}
}

func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(d.Refresh(), d.RefreshLog())
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		runs, err := d.source.RecentRuns(context.Background(), recentRunLimit)
		return dashboardDataMsg{runs: runs, err: err}
	}
}

func (d Dashboard) RefreshLog() tea.Cmd {
	return func() tea.Msg {
		lines, modTime := readLastLines(d.logPath, d.logBuffer)
		return logTailMsg{lines, modTime}
	}
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if len(lines) == 0 {
		return []string{"(empty log)"}, info.ModTime()
	}
	return lines, info.ModTime()
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	if h > 20 {
		d.logViewport = h - 16
	}
	return d
}

func (d Dashboard) Update(msg tea.Msg) (Dashboard, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.runs = msg.runs
		d.err = msg.err
	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
	case tea.KeyMsg:
		maxScroll := max(len(d.logLines)-d.logViewport, 0)
		switch msg.String() {
		case "up", "k":
			d.logScroll = min(d.logScroll+1, maxScroll)
		case "down", "j":
			d.logScroll = max(d.logScroll-1, 0)
		case "pgup":
			d.logScroll = min(d.logScroll+10, maxScroll)
		case "pgdown":
			d.logScroll = max(d.logScroll-10, 0)
		case "home":
			d.logScroll = maxScroll
		case "end":
			d.logScroll = 0
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Dashboard"),
		d.renderStatCards(),
		"",
		titleStyle.Render("Recent Passes"),
		d.renderRunsTable(),
		"",
		d.renderLogTail(),
	)
}

func (d Dashboard) renderStatCards() string {
	s := summarize(d.runs)
	last := "never"
	if len(d.runs) > 0 {
		last = relativeTime(d.runs[0].StartedAt)
	}
	cards := []string{
		renderStatCard("Last pass", last),
		renderStatCard("Passes", fmt.Sprintf("%d", s.total)),
		renderStatCard("Completed", fmt.Sprintf("%d", s.completed)),
		renderStatCard("Failed", fmt.Sprintf("%d", s.failed)),
		renderStatCard("New", fmt.Sprintf("%d", s.newItems)),
		renderStatCard("Drops", fmt.Sprintf("%d", s.drops)),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func renderStatCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		statValue.Render(value),
		statLabel.Render(label),
	)
	return cardBorder.Width(14).Render(content)
}

func (d Dashboard) renderRunsTable() string {
	if d.err != nil {
		return statusError.Render("Error: " + d.err.Error())
	}
	if len(d.runs) == 0 {
		return mutedStyle.Render("No passes yet")
	}

	header := fmt.Sprintf("%-10s %-8s %-10s %-9s %-10s %6s %4s %5s",
		"Owner", "Source", "Trigger", "Started", "Status", "Found", "New", "Drops")
	rows := tableHeader.Render(header) + "\n"

	for _, r := range d.runs {
		style := statusPending
		switch r.Status {
		case models.RunStatusCompleted:
			style = statusSuccess
		case models.RunStatusFailed:
			style = statusError
		}
		row := fmt.Sprintf("%-10d %-8d %-10s %-9s %s %6d %4d %5d",
			r.Owner,
			r.SourceID,
			r.Trigger,
			r.StartedAt.Format("15:04:05"),
			style.Render(fmt.Sprintf("%-10s", r.Status)),
			r.ListingsFound,
			r.NewCount,
			r.DropCount,
		)
		if r.Error != "" {
			row += " " + mutedStyle.Render(truncate(r.Error, max(d.width-70, 10)))
		}
		rows += row + "\n"
	}
	return rows
}

func (d Dashboard) renderLogTail() string {
	width := max(d.width-4, 20)
	if len(d.logLines) == 0 {
		return logBox.Width(width).Render(mutedStyle.Render("(waiting for logs...)"))
	}

	total := len(d.logLines)
	end := total - d.logScroll
	start := max(end-d.logViewport, 0)

	var lines []string
	for _, line := range d.logLines[start:end] {
		lines = append(lines, styleLogLine(truncate(line, width-4)))
	}

	indicator := statusSuccess.Render(" ● LIVE ")
	if d.logScroll > 0 {
		indicator = statusPending.Render(fmt.Sprintf(" ↑%d ", d.logScroll))
	} else if !d.logModTime.IsZero() && time.Since(d.logModTime) > 15*time.Minute {
		indicator = statusError.Render(" ● IDLE ")
	}

	header := titleStyle.Render("Daemon Log") + indicator +
		mutedStyle.Render(fmt.Sprintf("[%d-%d/%d]", start+1, end, total))
	return logBox.Width(width).Render(header + "\n" + strings.Join(lines, "\n"))
}

func styleLogLine(line string) string {
	switch {
	case strings.Contains(line, "[error]"):
		return statusError.Render(line)
	case strings.Contains(line, "[warn]"):
		return statusPending.Render(line)
	case strings.Contains(line, "[debug]"):
		return mutedStyle.Render(line)
	}
	return line
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
