package ssh

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/agent462/fanout/internal/executor"
)

// channel is a running remote command whose output is pumped into line
// queues in the background. It implements executor.Channel.
type channel struct {
	client  *Client
	session *ssh.Session
	stdout  *lineQueue
	stderr  *lineQueue

	done     chan struct{}
	exitCode int
	exitErr  error

	closeOnce sync.Once
	closeErr  error
}

// startChannel opens a session on client and starts command on it.
func startChannel(client *Client, command string, opts executor.RunOptions) (*channel, error) {
	session, err := client.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	if opts.UsePTY {
		modes := ssh.TerminalModes{ssh.ECHO: 0}
		if err := session.RequestPty("xterm", 40, 200, modes); err != nil {
			session.Close()
			return nil, fmt.Errorf("request pty: %w", err)
		}
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("start command: %w", err)
	}

	ch := &channel{
		client:  client,
		session: session,
		stdout:  newLineQueue(),
		stderr:  newLineQueue(),
		done:    make(chan struct{}),
	}
	go pump(stdout, ch.stdout)
	go pump(stderr, ch.stderr)
	go ch.wait()
	return ch, nil
}

func (c *channel) wait() {
	defer close(c.done)
	err := c.session.Wait()
	if err == nil {
		return
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		c.exitCode = exitErr.ExitStatus()
		return
	}
	c.exitCode = -1
	c.exitErr = err
}

func (c *channel) queue(stream executor.Stream) *lineQueue {
	if stream == executor.Stderr {
		return c.stderr
	}
	return c.stdout
}

func (c *channel) ReadLine(stream executor.Stream, timeout time.Duration) (string, executor.ReadStatus, error) {
	return c.queue(stream).next(timeout)
}

func (c *channel) ExitStatus() (int, bool, error) {
	select {
	case <-c.done:
		return c.exitCode, true, c.exitErr
	default:
		return 0, false, nil
	}
}

func (c *channel) Wait() (int, error) {
	<-c.done
	return c.exitCode, c.exitErr
}

// Close releases the session and the connection it runs on.
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		if err := c.session.Close(); err != nil && err != io.EOF {
			c.closeErr = err
		}
		if err := c.client.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}
