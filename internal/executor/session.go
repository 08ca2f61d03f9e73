package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "terminal"
	}
}

// lineFunc receives output lines as they are read.
type lineFunc func(stream Stream, line string)

// Session is one remote execution on one host. It is owned by a single
// collector; the channel is released exactly once when it turns terminal.
type Session struct {
	host   HostTarget
	ch     Channel
	state  State
	logger *zap.Logger

	stdout []string
	stderr []string
	eof    [2]bool

	exitCode *int
	err      error

	started   time.Time
	duration  time.Duration
	closeOnce sync.Once
}

func newSession(host HostTarget, logger *zap.Logger) *Session {
	return &Session{
		host:   host,
		state:  StateCreated,
		logger: logger.With(zap.String("host", host.Name)),
	}
}

// Host returns the target of this session.
func (s *Session) Host() HostTarget { return s.host }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Terminal reports whether the session has finished.
func (s *Session) Terminal() bool { return s.state == StateTerminal }

// open starts the remote command. A failure to open is recorded as the
// session's error and the session turns terminal immediately.
func (s *Session) open(ctx context.Context, t Transport, command string, opts RunOptions) {
	s.started = time.Now()
	ch, err := t.Open(ctx, s.host, command, opts)
	if err != nil {
		s.logger.Debug("open failed", zap.Error(err))
		s.finish(nil, err)
		return
	}
	s.ch = ch
	s.state = StateRunning
	s.logger.Debug("session running", zap.String("address", s.host.Address))
}

// await blocks until the remote command exits, then drains both streams in
// full before classifying. Output is buffered, not emitted.
func (s *Session) await() {
	if s.state != StateRunning {
		return
	}
	code, waitErr := s.ch.Wait()
	s.state = StateDraining
	if err := s.drain(nil); err != nil {
		s.finish(nil, err)
		return
	}
	if waitErr != nil {
		s.finish(nil, waitErr)
		return
	}
	s.finish(&code, nil)
}

// poll performs one follow-mode tick: it reads whatever output is available
// within timeout, and finishes the session once its exit status is known.
func (s *Session) poll(timeout time.Duration, emit lineFunc) {
	if s.state != StateRunning {
		return
	}
	for _, stream := range []Stream{Stdout, Stderr} {
		if err := s.readAvailable(stream, timeout, emit); err != nil {
			s.finish(nil, err)
			return
		}
	}

	code, exited, exitErr := s.ch.ExitStatus()
	if !exited {
		return
	}
	s.state = StateDraining
	if err := s.drain(emit); err != nil {
		s.finish(nil, err)
		return
	}
	if exitErr != nil {
		s.finish(nil, exitErr)
		return
	}
	s.finish(&code, nil)
}

// readAvailable waits up to timeout for the first line, then takes only what
// is already buffered so one chatty host cannot starve the others.
func (s *Session) readAvailable(stream Stream, timeout time.Duration, emit lineFunc) error {
	wait := timeout
	for !s.eof[stream] {
		line, status, err := s.ch.ReadLine(stream, wait)
		if err != nil {
			return fmt.Errorf("read %s: %w", stream, err)
		}
		switch status {
		case ReadWouldBlock:
			return nil
		case ReadEOF:
			s.eof[stream] = true
			return nil
		}
		s.record(stream, line, emit)
		wait = 0
	}
	return nil
}

// drain reads both streams to end, stdout first.
func (s *Session) drain(emit lineFunc) error {
	for _, stream := range []Stream{Stdout, Stderr} {
		for !s.eof[stream] {
			line, status, err := s.ch.ReadLine(stream, BlockForever)
			if err != nil {
				return fmt.Errorf("read %s: %w", stream, err)
			}
			if status != ReadData {
				s.eof[stream] = true
				continue
			}
			s.record(stream, line, emit)
		}
	}
	return nil
}

func (s *Session) record(stream Stream, line string, emit lineFunc) {
	if stream == Stderr {
		s.stderr = append(s.stderr, line)
	} else {
		s.stdout = append(s.stdout, line)
	}
	if emit != nil {
		emit(stream, line)
	}
}

// finish moves the session to terminal and releases its channel.
func (s *Session) finish(code *int, err error) {
	if s.state == StateTerminal {
		return
	}
	s.exitCode = code
	s.err = err
	s.state = StateTerminal
	s.duration = time.Since(s.started)
	s.release()
	s.logger.Debug("session finished", zap.Stringer("outcome", s.Result().Outcome().Kind), zap.Duration("duration", s.duration))
}

func (s *Session) release() {
	s.closeOnce.Do(func() {
		if s.ch == nil {
			return
		}
		if err := s.ch.Close(); err != nil {
			s.logger.Debug("close channel", zap.Error(err))
		}
	})
}

// Result returns the immutable outcome record. It is only meaningful once
// the session is terminal.
func (s *Session) Result() *HostResult {
	return &HostResult{
		Host:     s.host,
		ExitCode: s.exitCode,
		Err:      s.err,
		Stdout:   s.stdout,
		Stderr:   s.stderr,
		Duration: s.duration,
	}
}
