package executor

import "time"

// HostTarget is one resolved host in the fleet. It is produced once per run
// by the inventory and never modified afterwards.
type HostTarget struct {
	Name    string // inventory identity, used for display
	Address string // connection endpoint, unique within a run
	User    string // remote user override; empty means transport default
	Port    int    // SSH port override; zero means transport default

	// Alias is the ~/.ssh/config Host the address was taken from. The
	// transport reads User, Port and IdentityFile from that entry.
	Alias string

	// WorkdirOverride is the per-host working directory. Empty means the
	// host does not supply one.
	WorkdirOverride string
}

// Mode selects how output is collected.
type Mode int

const (
	// ModeWait blocks until each host finishes and reports its output as a block.
	ModeWait Mode = iota
	// ModeFollow polls all running hosts and reports output as it arrives.
	ModeFollow
)

func (m Mode) String() string {
	if m == ModeFollow {
		return "follow"
	}
	return "wait"
}

// Concurrency selects how many sessions may be live at once.
type Concurrency int

const (
	// Parallel opens one session per host, all at the same time.
	Parallel Concurrency = iota
	// Serial opens and fully drains one session before starting the next.
	Serial
)

func (c Concurrency) String() string {
	if c == Serial {
		return "serial"
	}
	return "parallel"
}

// Request describes a single fan-out run.
type Request struct {
	Command     string
	Mode        Mode
	Concurrency Concurrency
	Randomize   bool
	SingleHost  bool

	// RequireConsistentWorkdir prefixes the command with a cd into the
	// single working directory shared by all hosts.
	RequireConsistentWorkdir bool

	// StopOnErrors stops dispatching further hosts after the first
	// non-successful one. Only honored in Serial mode.
	StopOnErrors bool
}

// OutcomeKind classifies a finished session.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeException
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "exception"
	}
}

// Outcome is the terminal classification of one host.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int    // set for OutcomeFailure
	Message  string // set for OutcomeException
}

// HostResult holds the terminal outcome of one host's session.
// Exactly one of ExitCode and Err is set.
type HostResult struct {
	Host     HostTarget
	ExitCode *int
	Err      error // connection and transport errors
	Stdout   []string
	Stderr   []string
	Duration time.Duration
}

// Outcome classifies the result: an error wins, then the exit code decides.
func (r *HostResult) Outcome() Outcome {
	switch {
	case r.Err != nil:
		return Outcome{Kind: OutcomeException, Message: r.Err.Error()}
	case r.ExitCode == nil:
		return Outcome{Kind: OutcomeException, Message: "no exit status"}
	case *r.ExitCode == 0:
		return Outcome{Kind: OutcomeSuccess}
	default:
		return Outcome{Kind: OutcomeFailure, ExitCode: *r.ExitCode}
	}
}
