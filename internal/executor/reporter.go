package executor

// Reporter renders execution progress. Calls are synchronous and ordered;
// implementations shared across goroutines must serialize their writes.
type Reporter interface {
	EmitLine(host HostTarget, text string, stream Stream)
	EmitStatus(host HostTarget, outcome Outcome)
	EmitSummaryHeader(count int)
}

type nopReporter struct{}

func (nopReporter) EmitLine(HostTarget, string, Stream) {}
func (nopReporter) EmitStatus(HostTarget, Outcome)      {}
func (nopReporter) EmitSummaryHeader(int)               {}

// EmitSummary writes the summary header followed by one status line per
// result, in slice order. It depends only on results.
func EmitSummary(r Reporter, results []*HostResult) {
	r.EmitSummaryHeader(len(results))
	for _, res := range results {
		r.EmitStatus(res.Host, res.Outcome())
	}
}

// emitBlock writes a finished host's buffered output followed by its status.
func emitBlock(r Reporter, res *HostResult) {
	for _, line := range res.Stdout {
		r.EmitLine(res.Host, line, Stdout)
	}
	for _, line := range res.Stderr {
		r.EmitLine(res.Host, line, Stderr)
	}
	r.EmitStatus(res.Host, res.Outcome())
}
