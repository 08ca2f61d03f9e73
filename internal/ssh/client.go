package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	sshconfig "github.com/kevinburke/ssh_config"

	"github.com/agent462/fanout/internal/pathutil"
)

// PasswordCallback is called when agent and key-based auth both fail.
type PasswordCallback func(host string) (string, error)

// ClientConfig holds options for dialing a host.
type ClientConfig struct {
	// User is the remote login. Empty falls back to ~/.ssh/config, then $USER.
	User string

	// Port is the SSH port. Zero falls back to ~/.ssh/config, then 22.
	Port int

	// IdentityFiles lists private keys to offer. Empty uses ~/.ssh/config
	// and the usual default key names.
	IdentityFiles []string

	PasswordCallback PasswordCallback

	// AcceptUnknownHosts skips known_hosts verification.
	AcceptUnknownHosts bool

	// HostKeyCallback overrides known_hosts verification entirely.
	HostKeyCallback ssh.HostKeyCallback

	// ConnectTimeout bounds TCP connect plus handshake. Zero means no bound
	// beyond the caller's context.
	ConnectTimeout time.Duration

	// ConfigHost is the ~/.ssh/config alias whose User, Port and
	// IdentityFile apply. Empty means the dialed host.
	ConfigHost string
}

func (c ClientConfig) configHost(host string) string {
	if c.ConfigHost != "" {
		return c.ConfigHost
	}
	return host
}

// configGet looks up a key for an alias in the user's SSH config.
var configGet = sshconfig.Get

// Client is an authenticated connection to one host.
type Client struct {
	conn *ssh.Client
}

// Dial connects and authenticates to host.
func Dial(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	if conf.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.ConnectTimeout)
		defer cancel()
	}

	addr, user := resolveEndpoint(host, conf)
	hostKeyCallback, err := resolveHostKeyCallback(conf)
	if err != nil {
		return nil, fmt.Errorf("host key callback: %w", err)
	}
	sshConf := &ssh.ClientConfig{
		User:            user,
		Auth:            buildAuthMethods(host, conf),
		HostKeyCallback: hostKeyCallback,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c, chans, reqs, err := handshake(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return &Client{conn: ssh.NewClient(c, chans, reqs)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// resolveEndpoint picks the dial address and login, preferring explicit
// settings over ~/.ssh/config over defaults.
func resolveEndpoint(host string, conf ClientConfig) (addr, user string) {
	alias := conf.configHost(host)
	user = conf.User
	if user == "" {
		user = configGet(alias, "User")
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "root"
	}

	port := conf.Port
	if port == 0 {
		if p, err := strconv.Atoi(configGet(alias, "Port")); err == nil {
			port = p
		}
	}
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), user
}

// buildAuthMethods returns agent, key file, then password auth, skipping
// whatever is unavailable.
func buildAuthMethods(host string, conf ClientConfig) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if m := agentAuthMethod(); m != nil {
		methods = append(methods, m)
	}

	keyFiles := conf.IdentityFiles
	if len(keyFiles) == 0 {
		keyFiles = defaultKeyFiles(conf.configHost(host))
	}
	var signers []ssh.Signer
	for _, f := range keyFiles {
		if s := loadSigner(f); s != nil {
			signers = append(signers, s)
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if conf.PasswordCallback != nil {
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			return conf.PasswordCallback(host)
		}))
	}
	return methods
}

// sharedAgent is the process-wide agent connection, redialed if it goes stale.
var sharedAgent struct {
	mu     sync.Mutex
	conn   net.Conn
	client agent.ExtendedAgent
}

// CloseAgent closes the shared agent connection, if any.
func CloseAgent() {
	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()
	if sharedAgent.conn != nil {
		sharedAgent.conn.Close()
		sharedAgent.conn = nil
		sharedAgent.client = nil
	}
}

func agentAuthMethod() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}

	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()

	if sharedAgent.client != nil {
		if _, err := sharedAgent.client.List(); err != nil {
			sharedAgent.conn.Close()
			sharedAgent.conn = nil
			sharedAgent.client = nil
		}
	}
	if sharedAgent.client == nil {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil
		}
		sharedAgent.conn = conn
		sharedAgent.client = agent.NewClient(conn)
	}

	keys, err := sharedAgent.client.List()
	if err != nil || len(keys) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(sharedAgent.client.Signers)
}

func defaultKeyFiles(host string) []string {
	var files []string
	if identity := configGet(host, "IdentityFile"); identity != "" {
		files = append(files, pathutil.ExpandHome(identity))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return files
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		files = append(files, filepath.Join(home, ".ssh", name))
	}
	return files
}

func loadSigner(path string) ssh.Signer {
	data, err := os.ReadFile(pathutil.ExpandHome(path))
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return signer
}

func resolveHostKeyCallback(conf ClientConfig) (ssh.HostKeyCallback, error) {
	if conf.HostKeyCallback != nil {
		return conf.HostKeyCallback, nil
	}
	if conf.AcceptUnknownHosts {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	path := filepath.Join(home, ".ssh", "known_hosts")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no known_hosts file found at %s; use --insecure to skip host key verification", path)
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return cb, nil
}

// handshake runs the SSH client handshake, abandoning it if ctx ends first.
func handshake(ctx context.Context, conn net.Conn, addr string, conf *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, conf)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	}
}
