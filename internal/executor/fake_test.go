package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeChannel is a scripted Channel. Lines are available immediately; the
// exit status is withheld for busyPolls calls to ExitStatus.
type fakeChannel struct {
	mu        sync.Mutex
	stdout    []string
	stderr    []string
	code      int
	waitErr   error
	readErr   error
	busyPolls int
	exited    bool
	closed    int
	onClose   func()
}

func (c *fakeChannel) ReadLine(stream Stream, timeout time.Duration) (string, ReadStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return "", ReadData, c.readErr
	}
	q := &c.stdout
	if stream == Stderr {
		q = &c.stderr
	}
	if len(*q) > 0 {
		line := (*q)[0]
		*q = (*q)[1:]
		return line, ReadData, nil
	}
	if c.exited || timeout == BlockForever {
		return "", ReadEOF, nil
	}
	return "", ReadWouldBlock, nil
}

func (c *fakeChannel) ExitStatus() (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyPolls > 0 {
		c.busyPolls--
		return 0, false, nil
	}
	c.exited = true
	return c.code, true, c.waitErr
}

func (c *fakeChannel) Wait() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exited = true
	return c.code, c.waitErr
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed++
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTransport hands out scripted channels by address.
type fakeTransport struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	openErrs map[string]error
	opened   []string
	commands []string
	opts     []RunOptions
	live     int
	peak     int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		channels: make(map[string]*fakeChannel),
		openErrs: make(map[string]error),
	}
}

func (t *fakeTransport) add(addr string, ch *fakeChannel) *fakeChannel {
	t.channels[addr] = ch
	return ch
}

func (t *fakeTransport) Open(ctx context.Context, host HostTarget, command string, opts RunOptions) (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened = append(t.opened, host.Address)
	t.commands = append(t.commands, command)
	t.opts = append(t.opts, opts)
	if err, ok := t.openErrs[host.Address]; ok {
		return nil, err
	}
	ch, ok := t.channels[host.Address]
	if !ok {
		return nil, fmt.Errorf("no route to %s", host.Address)
	}
	t.live++
	if t.live > t.peak {
		t.peak = t.live
	}
	ch.mu.Lock()
	ch.onClose = func() {
		t.mu.Lock()
		t.live--
		t.mu.Unlock()
	}
	ch.mu.Unlock()
	return ch, nil
}

func (t *fakeTransport) openedAddrs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.opened...)
}

// recorder is a Reporter that records every call as a string.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) EmitLine(host HostTarget, text string, stream Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("line %s %s %s", host.Name, stream, text))
}

func (r *recorder) EmitStatus(host HostTarget, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch o.Kind {
	case OutcomeSuccess:
		r.events = append(r.events, fmt.Sprintf("[SUCCESS: %s]", host.Name))
	case OutcomeFailure:
		r.events = append(r.events, fmt.Sprintf("[FAILURE: %s (code=%d)]", host.Name, o.ExitCode))
	default:
		r.events = append(r.events, fmt.Sprintf("[EXCEPTION: %s - %s]", host.Name, o.Message))
	}
}

func (r *recorder) EmitSummaryHeader(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("summary %d", count))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func hostsNamed(names ...string) []HostTarget {
	hosts := make([]HostTarget, len(names))
	for i, n := range names {
		hosts[i] = HostTarget{Name: n, Address: n + ".example"}
	}
	return hosts
}

var errRefused = errors.New("connection refused")
