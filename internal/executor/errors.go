package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHosts means there is nothing to dispatch to. Host resolution
	// returns it bare, so callers may treat it as a warning; Execute wraps
	// it in a ConfigError since a command was required.
	ErrNoHosts = errors.New("no hosts to execute on")

	// ErrMissingCommand means the request carries an empty command.
	ErrMissingCommand = errors.New("command is required")

	// ErrWorkdirUnknown means no host supplied a working directory.
	ErrWorkdirUnknown = errors.New("working directory unknown")

	// ErrWorkdirInconsistent means hosts disagree on the working directory.
	ErrWorkdirInconsistent = errors.New("inconsistent working directory across hosts")

	// ErrStopped is returned alongside partial results when StopOnErrors
	// prevented some hosts from being dispatched.
	ErrStopped = errors.New("stopped after host error")
)

// ConfigError is a fatal validation error raised before any session opens.
type ConfigError struct {
	Err    error
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
