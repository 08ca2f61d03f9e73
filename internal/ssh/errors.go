package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ConnectError is a failure to reach or authenticate to a host, carrying a
// hint for the operator.
type ConnectError struct {
	Host string
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%v (hint: %s)", e.Err, e.Hint)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// WrapConnectError attaches a hint to well-known connection failures.
// Errors that match no pattern are returned unchanged.
func WrapConnectError(host string, err error) error {
	if err == nil {
		return nil
	}
	if hint := connectHint(host, err); hint != "" {
		return &ConnectError{Host: host, Err: err, Hint: hint}
	}
	return err
}

func connectHint(host string, err error) string {
	msg := err.Error()

	var keyErr *knownhosts.KeyError
	var dnsErr *net.DNSError
	var authErr *ssh.ServerAuthError
	switch {
	case strings.Contains(msg, "permission denied") && strings.Contains(msg, "key"):
		return "check SSH key permissions (chmod 600)"
	case errors.As(err, &authErr),
		strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"):
		return fmt.Sprintf("verify your SSH key or agent. Try: ssh -v %s", host)
	case strings.Contains(msg, "connection refused"):
		return "verify SSH daemon is running on the target host"
	case errors.As(err, &keyErr) && len(keyErr.Want) > 0:
		return fmt.Sprintf("remove old key with: ssh-keygen -R %s", host)
	case errors.As(err, &keyErr), strings.Contains(msg, "no known_hosts"):
		return fmt.Sprintf("use --insecure or connect once with: ssh %s", host)
	case errors.As(err, &dnsErr), strings.Contains(msg, "no such host"):
		return "verify hostname is correct"
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "deadline exceeded"):
		return "host unreachable within the connect timeout"
	case strings.Contains(msg, "handshake failed"):
		return fmt.Sprintf("verify your SSH key or agent. Try: ssh -v %s", host)
	}
	return ""
}
