// Package sshtest provides an in-process SSH server for testing.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

// CmdHandler processes a command and returns stdout, stderr, and exit code.
type CmdHandler func(cmd string) (stdout, stderr string, exitCode int)

// StreamHandler writes output incrementally and returns the exit code.
type StreamHandler func(cmd string, stdout, stderr io.Writer) int

// Server is a running test server.
type Server struct {
	Addr string

	ptyRequests atomic.Int32
	listener    net.Listener
	done        chan struct{}
}

// PTYRequests returns how many sessions asked for a pseudo-terminal.
func (s *Server) PTYRequests() int {
	return int(s.ptyRequests.Load())
}

// Host and Port split the listen address.
func (s *Server) Host() string {
	h, _, _ := net.SplitHostPort(s.Addr)
	return h
}

func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.Addr)
	var port int
	fmt.Sscanf(p, "%d", &port)
	return port
}

type serverConfig struct {
	clientPubKey ssh.PublicKey
	password     string
	noAuth       bool
	cmd          CmdHandler
	stream       StreamHandler
}

// Option configures a test SSH server.
type Option func(*serverConfig)

// WithPublicKey accepts the given client key.
func WithPublicKey(pub ssh.PublicKey) Option {
	return func(c *serverConfig) { c.clientPubKey = pub }
}

// WithPassword accepts the given password.
func WithPassword(pw string) Option {
	return func(c *serverConfig) { c.password = pw }
}

// WithNoAuth accepts any client.
func WithNoAuth() Option {
	return func(c *serverConfig) { c.noAuth = true }
}

// WithCmdHandler answers exec requests with fixed output.
func WithCmdHandler(h CmdHandler) Option {
	return func(c *serverConfig) { c.cmd = h }
}

// WithStreamHandler answers exec requests with incrementally written output.
func WithStreamHandler(h StreamHandler) Option {
	return func(c *serverConfig) { c.stream = h }
}

// Start launches a server on a loopback port. It is shut down when the test ends.
func Start(t *testing.T, opts ...Option) *Server {
	t.Helper()

	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	serverConf := &ssh.ServerConfig{NoClientAuth: cfg.noAuth}
	serverConf.AddHostKey(hostSigner)
	if cfg.clientPubKey != nil {
		want := string(cfg.clientPubKey.Marshal())
		serverConf.PublicKeyCallback = func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == want {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		}
	}
	if cfg.password != "" {
		serverConf.PasswordCallback = func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if string(pw) == cfg.password {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &Server{Addr: listener.Addr().String(), listener: listener, done: make(chan struct{})}
	go func() {
		defer close(srv.done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(conn, serverConf, cfg)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		<-srv.done
	})
	return srv
}

func (s *Server) handleConn(conn net.Conn, conf *ssh.ServerConfig, cfg *serverConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, conf)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests, cfg)
	}
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request, cfg *serverConfig) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			s.ptyRequests.Add(1)
			req.Reply(true, nil)
		case "exec":
			if len(req.Payload) < 4 {
				req.Reply(false, nil)
				continue
			}
			n := binary.BigEndian.Uint32(req.Payload[:4])
			if uint32(len(req.Payload)-4) < n {
				req.Reply(false, nil)
				continue
			}
			cmd := string(req.Payload[4 : 4+n])
			req.Reply(true, nil)

			code := run(cmd, ch, cfg)
			status := make([]byte, 4)
			binary.BigEndian.PutUint32(status, uint32(code))
			ch.CloseWrite()
			ch.SendRequest("exit-status", false, status)
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func run(cmd string, ch ssh.Channel, cfg *serverConfig) int {
	switch {
	case cfg.stream != nil:
		return cfg.stream(cmd, ch, ch.Stderr())
	case cfg.cmd != nil:
		stdout, stderr, code := cfg.cmd(cmd)
		io.WriteString(ch, stdout)
		io.WriteString(ch.Stderr(), stderr)
		return code
	default:
		io.WriteString(ch, cmd+"\n")
		return 0
	}
}

// GenerateKey creates an ed25519 key pair and writes the private key to a
// temp file. Returns the public key and the path to the private key file.
func GenerateKey(t *testing.T) (ssh.PublicKey, string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(keyPath, block, 0600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	return signer.PublicKey(), keyPath
}
