package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "charm.land/bubbletea/v2"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/agent462/fanout/internal/config"
	"github.com/agent462/fanout/internal/executor"
	"github.com/agent462/fanout/internal/inventory"
	"github.com/agent462/fanout/internal/ssh"
	uiexec "github.com/agent462/fanout/internal/ui/exec"
	"github.com/agent462/fanout/internal/ui/live"
)

// app is one invocation of the command.
type app struct {
	cfg    *config.Config
	opts   *options
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger

	// transport overrides the SSH transport.
	transport executor.Transport
	// readPassword overrides the terminal password prompt.
	readPassword func() ([]byte, error)
}

func (a *app) run(ctx context.Context, command string) error {
	hosts, err := a.resolveHosts()
	if err != nil {
		return err
	}

	if a.opts.listHosts {
		fmt.Fprintf(a.stdout, "  hosts (%d):\n", len(hosts))
		for _, h := range hosts {
			fmt.Fprintf(a.stdout, "    %s\n", h.Name)
		}
		return nil
	}

	if strings.TrimSpace(command) == "" {
		return &SetupError{Message: "command is required unless --list-hosts is used"}
	}
	if len(hosts) == 0 {
		return nil
	}

	t, err := a.newTransport()
	if err != nil {
		return err
	}
	defer ssh.CloseAgent()

	req := a.request(command)
	a.logger.Debug("run",
		zap.String("inventory", a.cfg.Inventory),
		zap.String("limit", a.opts.limit),
		zap.Int("hosts", len(hosts)),
		zap.Stringer("mode", req.Mode),
		zap.Stringer("concurrency", req.Concurrency),
	)

	switch {
	case a.opts.jsonOutput:
		results, err := a.execute(ctx, t, nil, hosts, req)
		if results != nil {
			data, jerr := uiexec.FormatJSON(results)
			if jerr != nil {
				return &SetupError{Message: fmt.Sprintf("encode results: %v", jerr)}
			}
			fmt.Fprintf(a.stdout, "%s\n", data)
		}
		return err

	case a.opts.live:
		return a.runLive(ctx, t, hosts, req)

	default:
		f := uiexec.NewFormatter(a.stdout, req.Mode == executor.ModeFollow, a.colorEnabled())
		results, err := a.execute(ctx, t, f, hosts, req)
		if results != nil {
			f.Tally(results)
		}
		return err
	}
}

// resolveHosts loads the inventory and applies --limit. An empty match is a
// warning without a limit and an error with one.
func (a *app) resolveHosts() ([]executor.HostTarget, error) {
	inv, err := inventory.Load(a.cfg.Inventory)
	if err != nil {
		return nil, &SetupError{Message: err.Error()}
	}

	hosts, err := inv.Resolve(a.opts.limit)
	switch {
	case errors.Is(err, executor.ErrNoHosts) && a.opts.limit == "":
		fmt.Fprintln(a.stderr, "[WARNING]: No hosts matched, nothing to do")
		return nil, nil
	case err != nil:
		return nil, &SetupError{Message: err.Error()}
	}

	a.logger.Debug("resolved hosts", zap.Int("count", len(hosts)), zap.Strings("groups", inv.Groups()))
	return hosts, nil
}

func (a *app) request(command string) executor.Request {
	req := executor.Request{
		Command:                  command,
		Mode:                     executor.ModeWait,
		Concurrency:              executor.Parallel,
		Randomize:                a.opts.random,
		SingleHost:               a.opts.single,
		RequireConsistentWorkdir: a.opts.chdir,
		StopOnErrors:             a.opts.stopOnErrors,
	}
	if a.opts.follow || a.opts.live {
		req.Mode = executor.ModeFollow
	}
	if a.opts.serial {
		req.Concurrency = executor.Serial
	}
	return req
}

func (a *app) newTransport() (executor.Transport, error) {
	if a.transport != nil {
		return a.transport, nil
	}

	conf := ssh.ClientConfig{
		User:               a.cfg.User,
		IdentityFiles:      a.cfg.IdentityFiles,
		AcceptUnknownHosts: a.cfg.Insecure,
		ConnectTimeout:     a.cfg.Connect.Timeout.Duration,
	}
	if a.opts.askPass {
		pw, err := a.promptPassword()
		if err != nil {
			return nil, &SetupError{Message: fmt.Sprintf("read password: %v", err)}
		}
		conf.PasswordCallback = func(string) (string, error) { return pw, nil }
	}

	return ssh.NewTransport(conf,
		ssh.WithRetries(a.cfg.Connect.Retries),
		ssh.WithRetryDelay(a.cfg.Connect.RetryDelay.Duration),
		ssh.WithTransportLogger(a.logger.Named("ssh")),
	), nil
}

func (a *app) promptPassword() (string, error) {
	read := a.readPassword
	if read == nil {
		read = func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }
	}
	fmt.Fprint(a.stderr, "SSH password: ")
	pw, err := read()
	fmt.Fprintln(a.stderr)
	return string(pw), err
}

// execute runs req and maps executor errors onto exit codes. Results are
// returned alongside ErrStopped.
func (a *app) execute(ctx context.Context, t executor.Transport, r executor.Reporter, hosts []executor.HostTarget, req executor.Request) ([]*executor.HostResult, error) {
	ex := executor.New(t,
		executor.WithReporter(r),
		executor.WithLogger(a.logger.Named("executor")),
		executor.WithPollInterval(a.cfg.Follow.PollInterval.Duration),
	)

	results, err := ex.Execute(ctx, hosts, req)
	switch {
	case err == nil:
		return results, nil
	case errors.Is(err, executor.ErrStopped):
		return results, &ExecutionError{Err: err}
	default:
		return nil, &SetupError{Message: err.Error()}
	}
}

// runLive drives the full-screen view and prints the summary once it closes.
func (a *app) runLive(ctx context.Context, t executor.Transport, hosts []executor.HostTarget, req executor.Request) error {
	p := tea.NewProgram(live.New(req.Command, hosts))

	type outcome struct {
		results []*executor.HostResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := a.execute(ctx, t, live.NewReporter(p), hosts, req)
		p.Send(live.DoneMsg{Err: err})
		done <- outcome{results, err}
	}()

	if _, err := p.Run(); err != nil {
		return &SetupError{Message: fmt.Sprintf("live view: %v", err)}
	}

	var out outcome
	select {
	case out = <-done:
	default:
		fmt.Fprintln(a.stderr, "waiting for remaining hosts to finish...")
		out = <-done
	}

	if out.results != nil {
		f := uiexec.NewFormatter(a.stdout, true, a.colorEnabled())
		executor.EmitSummary(f, out.results)
		f.Tally(out.results)
	}
	return out.err
}

func (a *app) colorEnabled() bool {
	switch a.cfg.Color {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := a.stdout.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
