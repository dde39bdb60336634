// Package monitor is a terminal dashboard over pass runs, pass logs and the
// daemon log file. It talks to a running daemon only through the command
// queue.
package monitor

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kufar_watch/models"
)

type Source interface {
	RecentRuns(ctx context.Context, limit int) ([]models.PassRun, error)
	RecentLogs(ctx context.Context, limit int, level *models.LogLevel) ([]models.PassLog, error)
	EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error
}

type tab int

const (
	tabDashboard tab = iota
	tabLogs
	tabCount
)

type Model struct {
	source        Source
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time

	dashboard Dashboard
	logs      Logs
}

type tickMsg time.Time
type logTickMsg time.Time

func New(source Source, logPath string) Model {
	return Model{
		source:    source,
		activeTab: tabDashboard,
		dashboard: NewDashboard(source, logPath),
		logs:      NewLogs(source),
	}
}

// Run starts the dashboard on the alternate screen and blocks until quit.
func Run(source Source, logPath string) error {
	_, err := tea.NewProgram(New(source, logPath), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.logs.Init(),
		tickCmd(),
		logTickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func logTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
			return m, nil
		case "L":
			m.activeTab = tabLogs
			return m, nil
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "r":
			m.notify("Refreshed")
			return m, m.refreshActive()
		case "a":
			m.enqueue(models.CmdRunAll, "Pass over all subscribers queued")
			return m, nil
		case "p":
			m.enqueue(models.CmdPause, "Pause queued")
			return m, nil
		case "u":
			m.enqueue(models.CmdResume, "Resume queued")
			return m, nil
		}

		// Remaining keys go to the active tab only.
		var cmd tea.Cmd
		switch m.activeTab {
		case tabDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
		case tabLogs:
			m.logs, cmd = m.logs.Update(msg)
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.logs = m.logs.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tickMsg:
		cmds = append(cmds, m.dashboard.Refresh(), m.logs.Refresh(), tickCmd())

	case logTickMsg:
		cmds = append(cmds, m.dashboard.RefreshLog(), logTickCmd())
	}

	var cmd tea.Cmd
	m.dashboard, cmd = m.dashboard.Update(msg)
	cmds = append(cmds, cmd)
	m.logs, cmd = m.logs.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) notify(text string) {
	m.notification = text
	m.notifyUntil = time.Now().Add(2 * time.Second)
}

func (m *Model) enqueue(cmd models.CommandType, done string) {
	if err := m.source.EnqueueCommand(context.Background(), cmd, nil); err != nil {
		m.notify("Command failed: " + err.Error())
		return
	}
	m.notify(done)
}

func (m Model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return tea.Batch(m.dashboard.Refresh(), m.dashboard.RefreshLog())
	case tabLogs:
		return m.logs.Refresh()
	}
	return nil
}

func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m Model) renderTabs() string {
	names := []string{"Dashboard", "Logs"}
	var rendered []string
	for i, name := range names {
		if tab(i) == m.activeTab {
			rendered = append(rendered, tabActive.Render(name))
		} else {
			rendered = append(rendered, tabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m Model) renderContent() string {
	if m.activeTab == tabLogs {
		return m.logs.View()
	}
	return m.dashboard.View()
}

func (m Model) renderStatusBar() string {
	left := "d Dash  L Logs  r Refresh  a Run all  p Pause  u Resume  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = notification.Render(m.notification)
	}
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 0)
	return statusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}
