// Package live is a full-screen follow view: a host table with per-host
// state beside a scrolling tail of tagged output.
package live

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/agent462/fanout/internal/executor"
)

// maxLines caps the retained output tail.
const maxLines = 5000

type hostState int

const (
	stateRunning hostState = iota
	stateSuccess
	stateFailure
	stateException
)

type hostRow struct {
	name   string
	state  hostState
	detail string
	lines  int
}

// Model is the root Bubble Tea model for the live view.
type Model struct {
	command string
	rows    []hostRow
	index   map[string]int

	output     []string
	viewport   viewport.Model
	autoScroll bool

	summarized bool
	done       bool
	err        error

	width  int
	height int
}

// New creates a live view for command running on hosts.
func New(command string, hosts []executor.HostTarget) Model {
	m := Model{
		command:    command,
		index:      make(map[string]int, len(hosts)),
		autoScroll: true,
		viewport: viewport.New(
			viewport.WithWidth(40),
			viewport.WithHeight(10),
		),
	}
	for _, h := range hosts {
		if _, dup := m.index[h.Name]; dup {
			continue
		}
		m.index[h.Name] = len(m.rows)
		m.rows = append(m.rows, hostRow{name: h.Name})
	}
	return m
}

// Init has nothing to start; events arrive through the Reporter.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case lineMsg:
		m.row(msg.host.Name).lines++
		m.appendLine(renderLine(msg))
		return m, nil

	case statusMsg:
		r := m.row(msg.host.Name)
		switch msg.outcome.Kind {
		case executor.OutcomeSuccess:
			r.state = stateSuccess
		case executor.OutcomeFailure:
			r.state = stateFailure
			r.detail = fmt.Sprintf("code=%d", msg.outcome.ExitCode)
		default:
			r.state = stateException
			r.detail = msg.outcome.Message
		}
		return m, nil

	case summaryMsg:
		m.summarized = true
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "q", "esc":
		if m.done {
			return m, tea.Quit
		}
		return m, nil
	case "f":
		m.autoScroll = !m.autoScroll
		if m.autoScroll {
			m.viewport.GotoBottom()
		}
		return m, nil
	}

	// Anything else scrolls, and scrolling by hand stops following the tail.
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	if !m.viewport.AtBottom() {
		m.autoScroll = false
	}
	return m, cmd
}

// row returns the row for name, adding one for hosts not known up front.
func (m *Model) row(name string) *hostRow {
	i, ok := m.index[name]
	if !ok {
		i = len(m.rows)
		m.index[name] = i
		m.rows = append(m.rows, hostRow{name: name})
	}
	return &m.rows[i]
}

func (m *Model) appendLine(line string) {
	m.output = append(m.output, line)
	if len(m.output) > maxLines {
		m.output = append(m.output[:0:0], m.output[len(m.output)-maxLines:]...)
	}
	m.viewport.SetContent(strings.Join(m.output, "\n"))
	if m.autoScroll {
		m.viewport.GotoBottom()
	}
}

func renderLine(msg lineMsg) string {
	if msg.stream == executor.Stderr {
		return stderrStyle.Render(fmt.Sprintf("[%s error] %s", msg.host.Name, msg.text))
	}
	return hostNameStyle.Render("["+msg.host.Name+"]") + " " + msg.text
}

func (m Model) layout() (tableWidth, outputWidth, mainHeight int) {
	tableWidth = m.width * 30 / 100
	outputWidth = m.width - tableWidth
	mainHeight = m.height - 1 // status bar
	if mainHeight < 5 {
		mainHeight = 5
	}
	return tableWidth, outputWidth, mainHeight
}

func (m *Model) resize() {
	_, outputWidth, mainHeight := m.layout()
	m.viewport.SetWidth(outputWidth - 2) // pane border
	m.viewport.SetHeight(mainHeight - 2)
	if m.autoScroll {
		m.viewport.GotoBottom()
	}
}

// Finished counts hosts that have reported an outcome.
func (m Model) Finished() int {
	n := 0
	for _, r := range m.rows {
		if r.state != stateRunning {
			n++
		}
	}
	return n
}

// View renders the full screen.
func (m Model) View() tea.View {
	if m.width == 0 || m.height == 0 {
		return tea.NewView("Loading...")
	}

	v := tea.NewView(m.renderContent())
	v.AltScreen = true
	return v
}

func (m Model) renderContent() string {
	tableWidth, outputWidth, mainHeight := m.layout()

	// In lipgloss v2, Width/Height include the border.
	table := paneStyle.Width(tableWidth).Height(mainHeight).Render(m.renderTable(tableWidth - 2))
	out := paneStyle.Width(outputWidth).Height(mainHeight).
		Render(lipgloss.NewStyle().MaxWidth(outputWidth - 2).Render(m.viewport.View()))

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, table, out),
		m.renderStatusBar(),
	)
}

func (m Model) renderTable(width int) string {
	var b strings.Builder
	for _, r := range m.rows {
		var mark string
		switch r.state {
		case stateRunning:
			mark = runningStyle.Render("…")
		case stateSuccess:
			mark = successStyle.Render("✓")
		default:
			mark = failureStyle.Render("✗")
		}
		line := fmt.Sprintf("%s %s", mark, r.name)
		if r.detail != "" {
			line += " " + runningStyle.Render("("+r.detail+")")
		}
		b.WriteString(lipgloss.NewStyle().MaxWidth(width).Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	left := fmt.Sprintf(" %s │ %d/%d done", m.command, m.Finished(), len(m.rows))
	switch {
	case m.err != nil:
		left += " │ " + failureStyle.Render(m.err.Error())
	case m.done:
		left += " │ " + successStyle.Render("finished")
	case m.summarized:
		left += " │ summarizing"
	}

	follow := "off"
	if m.autoScroll {
		follow = "on"
	}
	right := helpKeyStyle.Render("f") + helpDescStyle.Render(" follow:"+follow) +
		"  " + helpKeyStyle.Render("q") + helpDescStyle.Render(" quit when done") + " "

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
