package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"kufar_watch/models"
)

type fakeSource struct {
	runs     []models.PassRun
	logs     []models.PassLog
	levels   []*models.LogLevel
	enqueued []models.CommandType
	failCmd  bool
}

func (f *fakeSource) RecentRuns(context.Context, int) ([]models.PassRun, error) {
	return f.runs, nil
}

func (f *fakeSource) RecentLogs(_ context.Context, _ int, level *models.LogLevel) ([]models.PassLog, error) {
	f.levels = append(f.levels, level)
	return f.logs, nil
}

func (f *fakeSource) EnqueueCommand(_ context.Context, cmd models.CommandType, _ *models.CommandParams) error {
	if f.failCmd {
		return errors.New("database is locked")
	}
	f.enqueued = append(f.enqueued, cmd)
	return nil
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestModel_CommandKeys(t *testing.T) {
	src := &fakeSource{}
	m := New(src, "")

	m, _ = press(t, m, key("a"))
	m, _ = press(t, m, key("p"))
	m, _ = press(t, m, key("u"))

	want := []models.CommandType{models.CmdRunAll, models.CmdPause, models.CmdResume}
	if len(src.enqueued) != 3 {
		t.Fatalf("enqueued %v", src.enqueued)
	}
	for i, c := range want {
		if src.enqueued[i] != c {
			t.Errorf("command %d: got %s, want %s", i, src.enqueued[i], c)
		}
	}
	if m.notification != "Resume queued" {
		t.Fatalf("notification: %q", m.notification)
	}
}

func TestModel_CommandFailureNotified(t *testing.T) {
	m := New(&fakeSource{failCmd: true}, "")
	m, _ = press(t, m, key("a"))
	if !strings.HasPrefix(m.notification, "Command failed") {
		t.Fatalf("notification: %q", m.notification)
	}
}

func TestModel_TabsAndQuit(t *testing.T) {
	m := New(&fakeSource{}, "")
	m, _ = press(t, m, key("L"))
	if m.activeTab != tabLogs {
		t.Fatalf("expected logs tab")
	}
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.activeTab != tabDashboard {
		t.Fatalf("tab should wrap to dashboard")
	}
	_, cmd := press(t, m, key("q"))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected QuitMsg")
	}
}

func TestDashboard_RendersRuns(t *testing.T) {
	finished := time.Now()
	src := &fakeSource{runs: []models.PassRun{
		{ID: "b", Owner: 42, SourceID: 7, Trigger: models.TriggerManual, StartedAt: time.Now(),
			Status: models.RunStatusCompleted, FinishedAt: &finished, ListingsFound: 12, NewCount: 2, DropCount: 1},
		{ID: "a", Owner: 42, SourceID: 8, Trigger: models.TriggerPeriodic, StartedAt: time.Now().Add(-time.Hour),
			Status: models.RunStatusFailed, Error: "blocked"},
	}}
	d := NewDashboard(src, filepath.Join(t.TempDir(), "missing.log")).SetSize(140, 40)

	d, _ = d.Update(d.Refresh()())
	d, _ = d.Update(d.RefreshLog()())
	view := d.View()

	for _, want := range []string{"Recent Passes", "manual", "periodic", "blocked", "(no log file)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	s := summarize(src.runs)
	if s.total != 2 || s.completed != 1 || s.failed != 1 || s.newItems != 2 || s.drops != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestReadLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString("line ")
		sb.WriteByte(byte('0' + i))
		sb.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines, modTime := readLastLines(path, 3)
	if len(lines) != 3 || lines[0] != "line 7" || lines[2] != "line 9" {
		t.Fatalf("got %v", lines)
	}
	if modTime.IsZero() {
		t.Fatalf("expected mod time")
	}
}

func TestLogs_LevelFilter(t *testing.T) {
	src := &fakeSource{logs: []models.PassLog{
		{Timestamp: time.Now(), Level: models.LogLevelWarn, Message: "fetch failed: blocked", Owner: 5},
	}}
	l := NewLogs(src).SetSize(120, 30)

	l, _ = l.Update(l.Refresh()())
	if src.levels[0] != nil {
		t.Fatalf("initial filter should be all levels")
	}
	if !strings.Contains(l.View(), "fetch failed: blocked") {
		t.Fatalf("log line not rendered:\n%s", l.View())
	}

	l, cmd := l.Update(tea.KeyMsg{Type: tea.KeyRight})
	if cmd == nil {
		t.Fatalf("changing level should refresh")
	}
	cmd()
	if got := src.levels[len(src.levels)-1]; got == nil || *got != models.LogLevelDebug {
		t.Fatalf("expected debug filter, got %v", got)
	}
	if !strings.Contains(l.renderFilter(), "[DEBUG]") {
		t.Fatalf("filter not highlighted: %s", l.renderFilter())
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"короткая", 20, "короткая"},
		{"длинная строка", 5, "длин…"},
		{"abc", 1, "…"},
		{"abc", 0, ""},
	}
	for _, c := range cases {
		if got := truncate(c.in, c.n); got != c.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", c.in, c.n, got, c.want)
		}
	}
}
