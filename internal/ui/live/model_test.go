package live

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "charm.land/bubbletea/v2"

	"github.com/agent462/fanout/internal/executor"
)

func hosts(names ...string) []executor.HostTarget {
	out := make([]executor.HostTarget, len(names))
	for i, n := range names {
		out[i] = executor.HostTarget{Name: n, Address: n + ".example"}
	}
	return out
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestModel_TracksHostStates(t *testing.T) {
	hs := hosts("h1", "h2", "h3")
	m := New("uptime", hs)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 30})

	m, _ = update(t, m, lineMsg{host: hs[0], text: "up 3 days", stream: executor.Stdout})
	m, _ = update(t, m, lineMsg{host: hs[1], text: "load high", stream: executor.Stderr})
	m, _ = update(t, m, statusMsg{host: hs[0], outcome: executor.Outcome{Kind: executor.OutcomeSuccess}})
	m, _ = update(t, m, statusMsg{host: hs[1], outcome: executor.Outcome{Kind: executor.OutcomeFailure, ExitCode: 2}})

	if got := m.Finished(); got != 2 {
		t.Errorf("Finished() = %d, want 2", got)
	}
	if m.rows[0].lines != 1 || m.rows[1].lines != 1 {
		t.Errorf("line counts = %d, %d", m.rows[0].lines, m.rows[1].lines)
	}
	if m.rows[1].detail != "code=2" {
		t.Errorf("failure detail = %q", m.rows[1].detail)
	}
	if m.rows[2].state != stateRunning {
		t.Errorf("h3 should still be running, got %v", m.rows[2].state)
	}

	content := m.View().Content
	for _, want := range []string{"h1", "h2", "h3", "up 3 days", "[h2 error] load high", "2/3 done"} {
		if !strings.Contains(content, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_UnknownHostAddsRow(t *testing.T) {
	m := New("true", hosts("a"))
	m, _ = update(t, m, statusMsg{
		host:    executor.HostTarget{Name: "b"},
		outcome: executor.Outcome{Kind: executor.OutcomeException, Message: "connection refused"},
	})

	if len(m.rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(m.rows))
	}
	if m.rows[1].state != stateException || m.rows[1].detail != "connection refused" {
		t.Errorf("row = %+v", m.rows[1])
	}
}

func TestModel_QuitOnlyWhenDone(t *testing.T) {
	m := New("sleep 10", hosts("a"))

	q := tea.KeyPressMsg{Code: 'q', Text: "q"}
	m, cmd := update(t, m, q)
	if isQuit(cmd) {
		t.Fatal("q should not quit while the run is in progress")
	}

	m, _ = update(t, m, DoneMsg{})
	_, cmd = update(t, m, q)
	if !isQuit(cmd) {
		t.Error("q should quit once the run is done")
	}
}

func TestModel_CtrlCAlwaysQuits(t *testing.T) {
	m := New("sleep 10", hosts("a"))
	_, cmd := update(t, m, tea.KeyPressMsg{Code: 'c', Mod: tea.ModCtrl})
	if !isQuit(cmd) {
		t.Error("ctrl+c should quit")
	}
}

func TestModel_DoneWithError(t *testing.T) {
	m := New("true", hosts("a"))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 20})
	m, _ = update(t, m, DoneMsg{Err: errors.New("stopped after first failure")})

	if !strings.Contains(m.View().Content, "stopped after first failure") {
		t.Error("status bar should show the run error")
	}
}

func TestModel_TailIsBounded(t *testing.T) {
	hs := hosts("a")
	m := New("yes", hs)
	for i := 0; i < maxLines+10; i++ {
		m, _ = update(t, m, lineMsg{host: hs[0], text: fmt.Sprint(i), stream: executor.Stdout})
	}
	if len(m.output) != maxLines {
		t.Errorf("retained %d lines, want %d", len(m.output), maxLines)
	}
	if m.rows[0].lines != maxLines+10 {
		t.Errorf("line count = %d, want %d", m.rows[0].lines, maxLines+10)
	}
}

func TestModel_ToggleFollow(t *testing.T) {
	m := New("true", hosts("a"))
	m, _ = update(t, m, tea.KeyPressMsg{Code: 'f', Text: "f"})
	if m.autoScroll {
		t.Error("f should turn follow off")
	}
	m, _ = update(t, m, tea.KeyPressMsg{Code: 'f', Text: "f"})
	if !m.autoScroll {
		t.Error("f should turn follow back on")
	}
}

func TestModel_LoadingBeforeSize(t *testing.T) {
	m := New("true", hosts("a"))
	if got := m.View().Content; got != "Loading..." {
		t.Errorf("View() = %q, want Loading...", got)
	}
}

func TestReporter_SendsMessages(t *testing.T) {
	var got []tea.Msg
	r := &Reporter{send: func(msg tea.Msg) { got = append(got, msg) }}
	h := hosts("a")[0]

	r.EmitLine(h, "x", executor.Stdout)
	r.EmitSummaryHeader(1)
	r.EmitStatus(h, executor.Outcome{Kind: executor.OutcomeSuccess})

	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if _, ok := got[0].(lineMsg); !ok {
		t.Errorf("msg 0 = %T", got[0])
	}
	if s, ok := got[1].(summaryMsg); !ok || s.count != 1 {
		t.Errorf("msg 1 = %#v", got[1])
	}
	if _, ok := got[2].(statusMsg); !ok {
		t.Errorf("msg 2 = %T", got[2])
	}
}
