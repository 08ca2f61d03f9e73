package executor

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// collector consumes sessions in either wait or follow mode.
type collector struct {
	reporter     Reporter
	pollInterval time.Duration
	logger       *zap.Logger
}

// waitAll blocks on every session concurrently and reports each host as a
// block, in session order, as soon as it and all hosts before it are done.
func (c *collector) waitAll(sessions []*Session) []*HostResult {
	done := make([]chan struct{}, len(sessions))
	var g errgroup.Group
	for i, s := range sessions {
		done[i] = make(chan struct{})
		g.Go(func() error {
			defer close(done[i])
			s.await()
			return nil
		})
	}

	results := make([]*HostResult, len(sessions))
	for i, s := range sessions {
		<-done[i]
		results[i] = s.Result()
		emitBlock(c.reporter, results[i])
	}
	_ = g.Wait()
	return results
}

// waitOne drains a single session and reports it as a block.
func (c *collector) waitOne(s *Session) *HostResult {
	s.await()
	res := s.Result()
	emitBlock(c.reporter, res)
	return res
}

// follow runs the poll loop over all still-running sessions, emitting lines
// as they arrive. It returns results in completion order. Sessions that are
// already terminal (failed to open) count as finished first.
func (c *collector) follow(sessions []*Session) []*HostResult {
	active := make([]*Session, 0, len(sessions))
	finished := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Terminal() {
			finished = append(finished, s)
		} else {
			active = append(active, s)
		}
	}

	ticks := 0
	for len(active) > 0 {
		ticks++
		n := 0
		for _, s := range active {
			host := s.Host()
			s.poll(c.pollInterval, func(stream Stream, line string) {
				c.reporter.EmitLine(host, line, stream)
			})
			if s.Terminal() {
				finished = append(finished, s)
				continue
			}
			active[n] = s
			n++
		}
		clear(active[n:])
		active = active[:n]
	}
	c.logger.Debug("follow loop done", zap.Int("ticks", ticks), zap.Int("finished", len(finished)))

	results := make([]*HostResult, len(finished))
	for i, s := range finished {
		results[i] = s.Result()
	}
	return results
}
