package executor

import (
	"context"
	"time"
)

// Stream identifies one of the two output streams of a remote command.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// ReadStatus is the outcome of a single ReadLine call.
type ReadStatus int

const (
	// ReadData means a line was returned.
	ReadData ReadStatus = iota
	// ReadEOF means the stream is exhausted; no more lines will follow.
	ReadEOF
	// ReadWouldBlock means no line arrived within the timeout. It is not an error.
	ReadWouldBlock
)

// BlockForever makes ReadLine wait until a line or end of stream arrives.
const BlockForever time.Duration = -1

// RunOptions are passed to the transport when starting a remote command.
type RunOptions struct {
	UsePTY      bool
	ReadTimeout time.Duration
}

// Channel is one running remote command. Implementations must be safe for
// use by a single collector goroutine; Close may be called exactly once.
type Channel interface {
	// ReadLine returns the next line of the given stream. A zero timeout
	// never blocks, BlockForever waits for data or end of stream.
	ReadLine(stream Stream, timeout time.Duration) (string, ReadStatus, error)

	// ExitStatus reports, without blocking, whether the remote command has
	// ended. err is set when it ended without an exit status.
	ExitStatus() (code int, exited bool, err error)

	// Wait blocks until the remote command has ended.
	Wait() (int, error)

	// Close releases the channel and its connection.
	Close() error
}

// Transport opens remote channels. It is the only point where the executor
// touches the network.
type Transport interface {
	Open(ctx context.Context, host HostTarget, command string, opts RunOptions) (Channel, error)
}
