package monitor

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kufar_watch/models"
)

const logLimit = 200

// nil means all levels.
var logLevels = []*models.LogLevel{nil, levelPtr(models.LogLevelDebug), levelPtr(models.LogLevelInfo),
	levelPtr(models.LogLevelWarn), levelPtr(models.LogLevelError)}

func levelPtr(l models.LogLevel) *models.LogLevel { return &l }

func levelName(l *models.LogLevel) string {
	if l == nil {
		return "ALL"
	}
	return strings.ToUpper(string(*l))
}

type logsMsg struct {
	logs []models.PassLog
	err  error
}

type Logs struct {
	source        Source
	width, height int
	logs          []models.PassLog
	err           error
	levelIndex    int
	scrollOffset  int
}

func NewLogs(source Source) Logs {
	return Logs{source: source}
}

func (l Logs) Init() tea.Cmd {
	return l.Refresh()
}

func (l Logs) Refresh() tea.Cmd {
	level := logLevels[l.levelIndex]
	return func() tea.Msg {
		logs, err := l.source.RecentLogs(context.Background(), logLimit, level)
		return logsMsg{logs, err}
	}
}

func (l Logs) SetSize(w, h int) Logs {
	l.width = w
	l.height = h
	return l
}

func (l Logs) Update(msg tea.Msg) (Logs, tea.Cmd) {
	switch msg := msg.(type) {
	case logsMsg:
		l.logs = msg.logs
		l.err = msg.err
		l.scrollOffset = 0

	case tea.KeyMsg:
		maxScroll := max(len(l.logs)-l.visibleLines(), 0)
		switch msg.String() {
		case "left", "h":
			if l.levelIndex > 0 {
				l.levelIndex--
				return l, l.Refresh()
			}
		case "right", "l":
			if l.levelIndex < len(logLevels)-1 {
				l.levelIndex++
				return l, l.Refresh()
			}
		case "up", "k":
			l.scrollOffset = max(l.scrollOffset-1, 0)
		case "down", "j":
			l.scrollOffset = min(l.scrollOffset+1, maxScroll)
		case "g":
			l.scrollOffset = 0
		case "G":
			l.scrollOffset = maxScroll
		}
	}
	return l, nil
}

func (l Logs) visibleLines() int {
	if l.height < 10 {
		return 10
	}
	return l.height - 6
}

func (l Logs) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Pass Logs"),
		l.renderFilter(),
		"",
		l.renderLogs(),
	)
}

func (l Logs) renderFilter() string {
	var parts []string
	for i, level := range logLevels {
		if i == l.levelIndex {
			parts = append(parts, tabActive.Render("["+levelName(level)+"]"))
		} else {
			parts = append(parts, tabInactive.Render(levelName(level)))
		}
	}
	return "Filter: " + strings.Join(parts, " ") + "  (←/→ to change)"
}

func (l Logs) renderLogs() string {
	if l.err != nil {
		return statusError.Render("Error: " + l.err.Error())
	}
	if len(l.logs) == 0 {
		return mutedStyle.Render("No logs")
	}

	start := l.scrollOffset
	end := min(start+l.visibleLines(), len(l.logs))

	var lines []string
	for _, entry := range l.logs[start:end] {
		lines = append(lines, l.formatLog(entry))
	}

	header := mutedStyle.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(l.logs)))
	return header + "\n" + strings.Join(lines, "\n")
}

func (l Logs) formatLog(entry models.PassLog) string {
	var levelStyle lipgloss.Style
	switch entry.Level {
	case models.LogLevelDebug:
		levelStyle = mutedStyle
	case models.LogLevelInfo:
		levelStyle = statusSuccess
	case models.LogLevelWarn:
		levelStyle = statusPending
	case models.LogLevelError:
		levelStyle = statusError
	default:
		levelStyle = lipgloss.NewStyle()
	}

	msg := entry.Message
	if l.width > 40 {
		msg = truncate(msg, l.width-30)
	}

	return fmt.Sprintf("%s %s %s%s",
		mutedStyle.Render(entry.Timestamp.Format("15:04:05")),
		levelStyle.Render(fmt.Sprintf("%-5s", strings.ToUpper(string(entry.Level)))),
		mutedStyle.Render(fmt.Sprintf("[%d] ", entry.Owner)),
		msg,
	)
}
