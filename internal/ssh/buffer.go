package ssh

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/agent462/fanout/internal/executor"
)

// lineQueue is a goroutine-safe, unbounded queue of output lines fed by a
// pump goroutine and drained by the collector.
type lineQueue struct {
	mu     sync.Mutex
	lines  []string
	closed bool
	err    error
	notify chan struct{} // closed and replaced whenever state changes
}

func newLineQueue() *lineQueue {
	return &lineQueue{notify: make(chan struct{})}
}

func (q *lineQueue) push(line string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lines = append(q.lines, line)
	q.wake()
}

// close marks end of stream. err is reported once the buffered lines are
// consumed; io.EOF is treated as a clean end.
func (q *lineQueue) close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if err != io.EOF {
		q.err = err
	}
	q.closed = true
	q.wake()
}

// wake must be called with mu held.
func (q *lineQueue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// next returns the next line, waiting up to timeout. A zero timeout does not
// wait; executor.BlockForever waits for a line or end of stream.
func (q *lineQueue) next(timeout time.Duration) (string, executor.ReadStatus, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		q.mu.Lock()
		if len(q.lines) > 0 {
			line := q.lines[0]
			q.lines[0] = ""
			q.lines = q.lines[1:]
			q.mu.Unlock()
			return line, executor.ReadData, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			if err != nil {
				return "", executor.ReadEOF, err
			}
			return "", executor.ReadEOF, nil
		}
		wait := q.notify
		q.mu.Unlock()

		if timeout == 0 {
			return "", executor.ReadWouldBlock, nil
		}
		select {
		case <-wait:
		case <-deadline:
			return "", executor.ReadWouldBlock, nil
		}
	}
}

// pump copies r into q line by line until r is exhausted.
func pump(r io.Reader, q *lineQueue) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		q.push(strings.TrimSuffix(sc.Text(), "\r"))
	}
	err := sc.Err()
	if err != nil {
		// Keep the remote side flowing even though the rest is unreadable.
		io.Copy(io.Discard, r)
	}
	q.close(err)
}
