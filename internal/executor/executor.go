package executor

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is the per-read timeout of the follow loop.
const DefaultPollInterval = 100 * time.Millisecond

// Executor dispatches one command to a fleet of hosts and collects results.
type Executor struct {
	transport    Transport
	reporter     Reporter
	logger       *zap.Logger
	pollInterval time.Duration
	usePTY       *bool
	rng          *rand.Rand
}

// Option configures an Executor.
type Option func(*Executor)

// WithReporter sets where lines and statuses are rendered.
func WithReporter(r Reporter) Option {
	return func(e *Executor) {
		if r != nil {
			e.reporter = r
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPollInterval sets the follow-mode read timeout.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithPTY forces PTY allocation on or off. By default a PTY is requested in
// follow mode only, so remote output is line buffered.
func WithPTY(on bool) Option {
	return func(e *Executor) {
		e.usePTY = &on
	}
}

// WithRand sets the source used to shuffle hosts.
func WithRand(r *rand.Rand) Option {
	return func(e *Executor) {
		e.rng = r
	}
}

// New creates an Executor using transport t.
func New(t Transport, opts ...Option) *Executor {
	e := &Executor{
		transport:    t,
		reporter:     nopReporter{},
		logger:       zap.NewNop(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates req, dispatches the command to hosts, and returns one
// result per dispatched host. Validation errors are returned as *ConfigError
// before anything is dispatched. Per-host failures never surface as an error;
// they are recorded in the host's result.
func (e *Executor) Execute(ctx context.Context, hosts []HostTarget, req Request) ([]*HostResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, &ConfigError{Err: ErrMissingCommand}
	}
	if len(hosts) == 0 {
		return nil, &ConfigError{Err: ErrNoHosts}
	}
	command, err := BuildCommand(req, hosts)
	if err != nil {
		return nil, err
	}

	targets := e.shape(hosts, req)
	opts := RunOptions{
		UsePTY:      req.Mode == ModeFollow,
		ReadTimeout: e.pollInterval,
	}
	if e.usePTY != nil {
		opts.UsePTY = *e.usePTY
	}

	e.logger.Debug("dispatch",
		zap.Int("hosts", len(targets)),
		zap.Stringer("mode", req.Mode),
		zap.Stringer("concurrency", req.Concurrency),
		zap.Bool("pty", opts.UsePTY),
	)

	c := &collector{reporter: e.reporter, pollInterval: e.pollInterval, logger: e.logger}
	if req.Concurrency == Serial {
		return e.serial(ctx, c, targets, command, opts, req)
	}
	return e.parallel(ctx, c, targets, command, opts, req), nil
}

// shape applies randomization then single-host truncation to a copy of hosts.
func (e *Executor) shape(hosts []HostTarget, req Request) []HostTarget {
	out := make([]HostTarget, len(hosts))
	copy(out, hosts)
	if req.Randomize {
		swap := func(i, j int) { out[i], out[j] = out[j], out[i] }
		if e.rng != nil {
			e.rng.Shuffle(len(out), swap)
		} else {
			rand.Shuffle(len(out), swap)
		}
	}
	if req.SingleHost && len(out) > 1 {
		out = out[:1]
	}
	return out
}

// parallel opens every session at once, then collects them all.
func (e *Executor) parallel(ctx context.Context, c *collector, hosts []HostTarget, command string, opts RunOptions, req Request) []*HostResult {
	if req.StopOnErrors {
		e.logger.Debug("stop-on-errors ignored in parallel mode")
	}

	sessions := make([]*Session, len(hosts))
	var g errgroup.Group
	for i, h := range hosts {
		sessions[i] = newSession(h, e.logger)
		g.Go(func() error {
			sessions[i].open(ctx, e.transport, command, opts)
			return nil
		})
	}
	_ = g.Wait()

	if req.Mode == ModeFollow {
		results := c.follow(sessions)
		EmitSummary(e.reporter, results)
		return results
	}
	return c.waitAll(sessions)
}

// serial runs one host at a time in host order.
func (e *Executor) serial(ctx context.Context, c *collector, hosts []HostTarget, command string, opts RunOptions, req Request) ([]*HostResult, error) {
	results := make([]*HostResult, 0, len(hosts))
	var stopped error
	for i, h := range hosts {
		s := newSession(h, e.logger)
		s.open(ctx, e.transport, command, opts)

		var res *HostResult
		if req.Mode == ModeFollow {
			res = c.follow([]*Session{s})[0]
		} else {
			res = c.waitOne(s)
		}
		results = append(results, res)

		if req.StopOnErrors && res.Outcome().Kind != OutcomeSuccess && i < len(hosts)-1 {
			e.logger.Warn("stopping after host error",
				zap.String("host", h.Name),
				zap.Int("skipped", len(hosts)-i-1),
			)
			stopped = ErrStopped
			break
		}
	}

	if req.Mode == ModeFollow {
		EmitSummary(e.reporter, results)
	}
	return results, stopped
}
