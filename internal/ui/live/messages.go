package live

import (
	"github.com/agent462/fanout/internal/executor"
)

// lineMsg carries one output line from a host.
type lineMsg struct {
	host   executor.HostTarget
	text   string
	stream executor.Stream
}

// statusMsg carries a host's final outcome.
type statusMsg struct {
	host    executor.HostTarget
	outcome executor.Outcome
}

// summaryMsg marks the start of the summary pass.
type summaryMsg struct {
	count int
}

// DoneMsg tells the view the run has returned.
type DoneMsg struct {
	Err error
}
