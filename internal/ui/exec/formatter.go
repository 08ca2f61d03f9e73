// Package exec renders fleet execution progress as text.
package exec

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"charm.land/lipgloss/v2"

	"github.com/agent462/fanout/internal/executor"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4672"))
	stderrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FDFF90"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

// Formatter writes execution events to w. It implements executor.Reporter
// and is safe for concurrent use.
//
// In tagged mode (follow) every output line carries its host:
//
//	[web1] line
//	[web1 error] line
//
// Otherwise (wait) lines are printed bare, with a host's stderr introduced
// by an "[error output]" marker.
type Formatter struct {
	mu     sync.Mutex
	w      io.Writer
	Tagged bool
	Color  bool

	marked string // host whose stderr marker was already written
}

// NewFormatter creates a Formatter writing to w.
func NewFormatter(w io.Writer, tagged, color bool) *Formatter {
	return &Formatter{w: w, Tagged: tagged, Color: color}
}

// EmitLine writes one output line.
func (f *Formatter) EmitLine(host executor.HostTarget, text string, stream executor.Stream) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.Tagged && stream == executor.Stderr:
		f.println(f.colorize(fmt.Sprintf("[%s error] %s", host.Name, text), stderrStyle))
	case f.Tagged:
		f.println(fmt.Sprintf("[%s] %s", host.Name, text))
	case stream == executor.Stderr:
		if f.marked != host.Name {
			f.println(f.colorize("[error output]", stderrStyle))
			f.marked = host.Name
		}
		f.println(f.colorize(text, stderrStyle))
	default:
		f.println(text)
	}
}

// EmitStatus writes a host's outcome line.
func (f *Formatter) EmitStatus(host executor.HostTarget, outcome executor.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.marked = ""
	switch outcome.Kind {
	case executor.OutcomeSuccess:
		f.println(f.colorize(fmt.Sprintf("[SUCCESS: %s]", host.Name), successStyle))
	case executor.OutcomeFailure:
		f.println(f.colorize(fmt.Sprintf("[FAILURE: %s (code=%d)]", host.Name, outcome.ExitCode), failureStyle))
	default:
		f.println(f.colorize(fmt.Sprintf("[EXCEPTION: %s - %s]", host.Name, outcome.Message), failureStyle))
	}
}

// EmitSummaryHeader introduces the follow-mode summary.
func (f *Formatter) EmitSummaryHeader(count int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.println("")
	f.println(f.colorize(fmt.Sprintf("  summary (%d):", count), headerStyle))
}

// Tally writes a one-line count of outcomes, e.g.
// "2 succeeded, 1 failed, 0 exceptions".
func (f *Formatter) Tally(results []*executor.HostResult) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.println(TallyLine(results))
}

// TallyLine counts outcomes by kind, using the same words as the status
// lines: FAILURE is a non-zero exit, EXCEPTION a host that never produced one.
func TallyLine(results []*executor.HostResult) string {
	var succeeded, failed, exceptions int
	for _, r := range results {
		switch r.Outcome().Kind {
		case executor.OutcomeSuccess:
			succeeded++
		case executor.OutcomeFailure:
			failed++
		default:
			exceptions++
		}
	}

	noun := "exceptions"
	if exceptions == 1 {
		noun = "exception"
	}
	return fmt.Sprintf("%d succeeded, %d failed, %d %s", succeeded, failed, exceptions, noun)
}

// FormatJSON serializes results as a JSON array.
func FormatJSON(results []*executor.HostResult) ([]byte, error) {
	type jsonResult struct {
		Host     string   `json:"host"`
		Address  string   `json:"address"`
		Outcome  string   `json:"outcome"`
		ExitCode *int     `json:"exit_code"`
		Stdout   []string `json:"stdout"`
		Stderr   []string `json:"stderr"`
		Duration string   `json:"duration"`
		Error    string   `json:"error,omitempty"`
	}

	out := make([]jsonResult, len(results))
	for i, r := range results {
		out[i] = jsonResult{
			Host:     r.Host.Name,
			Address:  r.Host.Address,
			Outcome:  r.Outcome().Kind.String(),
			ExitCode: r.ExitCode,
			Stdout:   nonNil(r.Stdout),
			Stderr:   nonNil(r.Stderr),
			Duration: r.Duration.String(),
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}

	return json.MarshalIndent(out, "", "  ")
}

func nonNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}

// println must be called with mu held.
func (f *Formatter) println(s string) {
	io.WriteString(f.w, s+"\n")
}

func (f *Formatter) colorize(text string, style lipgloss.Style) string {
	if !f.Color {
		return text
	}
	return style.Render(text)
}
