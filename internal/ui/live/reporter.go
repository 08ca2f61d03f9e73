package live

import (
	tea "charm.land/bubbletea/v2"

	"github.com/agent462/fanout/internal/executor"
)

// Reporter forwards executor events to a running tea.Program. Send is safe
// for concurrent use, so the Reporter is too.
type Reporter struct {
	send func(tea.Msg)
}

// NewReporter returns a Reporter that sends to p.
func NewReporter(p *tea.Program) *Reporter {
	return &Reporter{send: p.Send}
}

func (r *Reporter) EmitLine(host executor.HostTarget, text string, stream executor.Stream) {
	r.send(lineMsg{host: host, text: text, stream: stream})
}

func (r *Reporter) EmitStatus(host executor.HostTarget, outcome executor.Outcome) {
	r.send(statusMsg{host: host, outcome: outcome})
}

func (r *Reporter) EmitSummaryHeader(count int) {
	r.send(summaryMsg{count: count})
}
