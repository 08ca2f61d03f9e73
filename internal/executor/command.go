package executor

import (
	"fmt"
	"sort"
	"strings"
)

// BuildCommand validates the request against the resolved hosts and returns
// the command string to dispatch. With RequireConsistentWorkdir set, every
// host that supplies a working directory must agree on the same one, and the
// command is prefixed with a cd into it.
func BuildCommand(req Request, hosts []HostTarget) (string, error) {
	if strings.TrimSpace(req.Command) == "" {
		return "", &ConfigError{Err: ErrMissingCommand}
	}
	if !req.RequireConsistentWorkdir {
		return req.Command, nil
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, h := range hosts {
		if h.WorkdirOverride == "" || seen[h.WorkdirOverride] {
			continue
		}
		seen[h.WorkdirOverride] = true
		dirs = append(dirs, h.WorkdirOverride)
	}

	switch len(dirs) {
	case 0:
		return "", &ConfigError{Err: ErrWorkdirUnknown}
	case 1:
		return fmt.Sprintf("cd %s; %s", ShellQuote(dirs[0]), req.Command), nil
	default:
		sort.Strings(dirs)
		return "", &ConfigError{Err: ErrWorkdirInconsistent, Detail: strings.Join(dirs, ", ")}
	}
}

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
