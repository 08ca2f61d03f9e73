package ssh

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/agent462/fanout/internal/executor"
)

// Transport implements executor.Transport over SSH. Every Open dials a fresh
// connection that is closed together with the returned channel.
type Transport struct {
	baseConf     ClientConfig
	retries      uint64
	initialDelay time.Duration
	logger       *zap.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithRetries retries failed dials up to n more times with exponential
// backoff. Only errors that look transient are retried.
func WithRetries(n int) TransportOption {
	return func(t *Transport) {
		if n > 0 {
			t.retries = uint64(n)
		}
	}
}

// WithRetryDelay sets the first backoff interval.
func WithRetryDelay(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.initialDelay = d
		}
	}
}

// WithTransportLogger sets the diagnostic logger.
func WithTransportLogger(l *zap.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTransport creates a Transport whose per-host settings start from baseConf.
func NewTransport(baseConf ClientConfig, opts ...TransportOption) *Transport {
	t := &Transport{
		baseConf:     baseConf,
		initialDelay: 500 * time.Millisecond,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open dials host.Address and starts command on it.
func (t *Transport) Open(ctx context.Context, host executor.HostTarget, command string, opts executor.RunOptions) (executor.Channel, error) {
	conf := t.hostConf(host)

	client, err := t.dial(ctx, host, conf)
	if err != nil {
		return nil, WrapConnectError(host.Name, err)
	}

	ch, err := startChannel(client, command, opts)
	if err != nil {
		client.Close()
		return nil, err
	}
	return ch, nil
}

// hostConf applies per-host overrides to the base config.
func (t *Transport) hostConf(host executor.HostTarget) ClientConfig {
	conf := t.baseConf
	if host.User != "" {
		conf.User = host.User
	}
	if host.Port > 0 {
		conf.Port = host.Port
	}
	if host.Alias != "" {
		conf.ConfigHost = host.Alias
	}
	return conf
}

func (t *Transport) dial(ctx context.Context, host executor.HostTarget, conf ClientConfig) (*Client, error) {
	attempt := 0
	op := func() (*Client, error) {
		attempt++
		c, err := Dial(ctx, host.Address, conf)
		if err == nil {
			return c, nil
		}
		if !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		t.logger.Debug("dial failed",
			zap.String("host", host.Name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return nil, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.initialDelay
	b := backoff.WithContext(backoff.WithMaxRetries(eb, t.retries), ctx)
	return backoff.RetryWithData(op, b)
}

// isRetryable reports whether a dial error looks transient: a dropped or
// refused TCP connection rather than an auth, host key, or cancellation
// failure.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
