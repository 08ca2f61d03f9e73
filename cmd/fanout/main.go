// Command fanout runs one shell command across the hosts of an inventory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/fanout/internal/config"
	"github.com/agent462/fanout/internal/pathutil"
)

var (
	// Build-time variables (set via -ldflags)
	version = "dev"
	commit  = "unknown"
)

// options holds the command-line flags.
type options struct {
	configPath   string
	inventory    string
	limit        string
	user         string
	identity     []string
	chdir        bool
	single       bool
	follow       bool
	serial       bool
	random       bool
	stopOnErrors bool
	jsonOutput   bool
	live         bool
	listHosts    bool
	insecure     bool
	askPass      bool
	retries      int
	connTimeout  time.Duration
	pollInterval time.Duration
	color        string
	debug        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fanout: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "fanout [flags] [--] <command>",
		Short: "Run a shell command on every host of an inventory",
		Long: `fanout dispatches one shell command to the hosts of an ansible-style
inventory over SSH and reports a SUCCESS, FAILURE or EXCEPTION line per host.

By default it waits for each host to finish and prints its output as a block.
With --follow, output is streamed live as "[host] line" and a summary follows.

Examples:
  # Uptime on every host
  fanout -i inventory.yaml uptime

  # Stream logs from the cassandra group, one host at a time
  fanout -i inventory.yaml -l cassandra --serial -f -- "tail -n 20 system.log"

  # Run docker compose from each host's deploy_docker_folder
  fanout -d -- docker compose ps

  # Show which hosts a limit selects
  fanout -l 'cass0*' --list-hosts`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger := newLogger(opts.debug, stderr)
			defer logger.Sync()

			a := &app{
				cfg:    cfg,
				opts:   opts,
				stdout: stdout,
				stderr: stderr,
				logger: logger,
			}
			return a.run(cmd.Context(), strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/fanout/config.yaml)")
	f.StringVarP(&opts.inventory, "inventory", "i", "", "inventory file")
	f.StringVarP(&opts.limit, "limit", "l", "", "limit to groups or host patterns (comma-separated)")
	f.StringVarP(&opts.user, "user", "u", "", "connect as this user")
	f.StringSliceVar(&opts.identity, "identity", nil, "private key files to offer")
	f.BoolVarP(&opts.chdir, "chdir-to-docker", "d", false, "change to deploy_docker_folder before running the command")
	f.BoolVarP(&opts.single, "single", "1", false, "run on a single host")
	f.BoolVarP(&opts.follow, "follow", "f", false, "print output without waiting for the command to finish")
	f.BoolVar(&opts.serial, "serial", false, "run on one host at a time")
	f.BoolVar(&opts.random, "random", false, "shuffle host order")
	f.BoolVar(&opts.stopOnErrors, "stop-on-errors", false, "with --serial, stop after the first failing host")
	f.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	f.BoolVar(&opts.live, "live", false, "full-screen live view (implies --follow)")
	f.BoolVar(&opts.listHosts, "list-hosts", false, "list matching hosts and exit")
	f.BoolVar(&opts.insecure, "insecure", false, "skip known_hosts verification")
	f.BoolVar(&opts.askPass, "ask-pass", false, "prompt for a password when key auth fails")
	f.IntVar(&opts.retries, "retries", 0, "connection retry attempts per host")
	f.DurationVar(&opts.connTimeout, "connect-timeout", 0, "SSH connect timeout")
	f.DurationVar(&opts.pollInterval, "poll-interval", 0, "follow-mode read timeout")
	f.StringVar(&opts.color, "color", "", "colorize output: auto, always, never")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.MarkFlagsMutuallyExclusive("json", "live")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "fanout %s (%s)\n", version, commit)
		},
	})
	cmd.AddCommand(newConfigCmd(stdout))
	return cmd
}

func newConfigCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var (
		path  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if path == "" {
				return &SetupError{Message: "cannot determine config path; use --path"}
			}
			path = pathutil.ExpandHome(path)
			if _, err := os.Stat(path); err == nil && !force {
				return &SetupError{Message: fmt.Sprintf("%s already exists (use --force to overwrite)", path)}
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return &SetupError{Message: err.Error()}
			}
			fmt.Fprintf(stdout, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", "", "file to write (default $XDG_CONFIG_HOME/fanout/config.yaml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

// loadConfig reads the config file and applies flags that were set
// explicitly.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, &SetupError{Message: fmt.Sprintf("failed to load configuration: %v", err)}
	}

	f := cmd.Flags()
	if f.Changed("inventory") {
		cfg.Inventory = opts.inventory
	}
	if f.Changed("user") {
		cfg.User = opts.user
	}
	if f.Changed("identity") {
		cfg.IdentityFiles = opts.identity
	}
	if f.Changed("insecure") {
		cfg.Insecure = opts.insecure
	}
	if f.Changed("retries") {
		cfg.Connect.Retries = opts.retries
	}
	if f.Changed("connect-timeout") {
		cfg.Connect.Timeout = config.Duration{Duration: opts.connTimeout}
	}
	if f.Changed("poll-interval") {
		cfg.Follow.PollInterval = config.Duration{Duration: opts.pollInterval}
	}
	if f.Changed("color") {
		cfg.Color = opts.color
	}

	if err := cfg.Validate(); err != nil {
		return nil, &SetupError{Message: fmt.Sprintf("configuration validation failed: %v", err)}
	}
	return cfg, nil
}

// ExecutionError is a run that dispatched but did not complete (exit code 1).
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }
func (e *ExecutionError) Unwrap() error { return e.Err }

// SetupError is a failure before anything was dispatched (exit code 2).
type SetupError struct {
	Message string
}

func (e *SetupError) Error() string {
	return e.Message
}

// exitCode maps an error to the process exit status:
//   - 0: the run completed, whatever the per-host outcomes
//   - 1: the run was cut short (stop-on-errors)
//   - 2: setup error (flags, config, inventory, workdir)
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return 1
	}
	return 2
}
