package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/imamik/atlas/internal/util/retry"
)

const (
	defaultPort        = 22
	defaultUser        = "root"
	defaultDialTimeout = 10 * time.Second
	defaultMaxRetries  = 2
	defaultRetryDelay  = 2 * time.Second
	defaultMaxDelay    = 5 * time.Second

	// heredocMarker delimits the batch script fed to the remote shell.
	heredocMarker = "ATLAS_EOF"
)

// Result is the structured outcome of one remote script execution. A
// non-zero remote exit status and a transport failure both surface as
// OK=false; transport failures additionally return an error from Run for
// callers that distinguish the two.
type Result struct {
	OK     bool
	Stdout string
	Stderr string
}

// Runner executes scripts on one remote host.
type Runner interface {
	// Run executes script as a single batch under `set -euo pipefail`.
	Run(ctx context.Context, script string) (Result, error)

	// Stream starts command remotely and returns its combined output as a
	// live stream. Closing the reader detaches from the remote process.
	Stream(ctx context.Context, command string) (io.ReadCloser, error)

	// Close releases the cached connection, if any.
	Close() error
}

// DialFunc constructs a Runner for a host target. It is the injection seam
// the pipelines use so tests can substitute a scripted fake.
type DialFunc func(target string) (Runner, error)

// Config holds client configuration for one host.
type Config struct {
	// Host is the bare hostname or address. User and Port, if embedded in
	// the registration target (user@host:port), are split out by Dial.
	Host string
	Port int
	User string

	// PrivateKey is the PEM-encoded client key.
	PrivateKey []byte

	// DialTimeout bounds the TCP connection setup. Defaults to 10s.
	DialTimeout time.Duration

	// MaxRetries bounds dial retry attempts. Defaults to 2.
	MaxRetries int

	// RetryDelay is the initial delay between dial retries.
	RetryDelay time.Duration

	// HostKeys pins host keys. If nil, a process-wide trust-on-first-use
	// set is used.
	HostKeys *KnownKeys
}

// Client implements Runner over a cached, reused SSH connection.
type Client struct {
	config *Config
	signer ssh.Signer

	mu   sync.Mutex
	conn *ssh.Client
}

var _ Runner = (*Client)(nil)

// NewClient validates the private key and returns an unconnected client.
// The connection is dialed lazily on first use.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("config host cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("config private key cannot be empty")
	}

	configCopy := *cfg
	if configCopy.Port == 0 {
		configCopy.Port = defaultPort
	}
	if configCopy.User == "" {
		configCopy.User = defaultUser
	}
	if configCopy.DialTimeout == 0 {
		configCopy.DialTimeout = defaultDialTimeout
	}
	if configCopy.MaxRetries == 0 {
		configCopy.MaxRetries = defaultMaxRetries
	}
	if configCopy.RetryDelay == 0 {
		configCopy.RetryDelay = defaultRetryDelay
	}
	if configCopy.HostKeys == nil {
		configCopy.HostKeys = processKeys
	}

	signer, err := ssh.ParsePrivateKey(configCopy.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Client{config: &configCopy, signer: signer}, nil
}

// Dial parses a registration target of the form [user@]host[:port] and
// returns a client for it.
func Dial(target string, privateKey []byte) (Runner, error) {
	user, host, port, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	return NewClient(&Config{Host: host, Port: port, User: user, PrivateKey: privateKey})
}

// ParseTarget splits [user@]host[:port]. User defaults to root, port to 22.
func ParseTarget(target string) (user, host string, port int, err error) {
	user = defaultUser
	host = target
	port = defaultPort

	if at := strings.Index(host, "@"); at >= 0 {
		user = host[:at]
		host = host[at+1:]
	}
	if h, p, splitErr := net.SplitHostPort(host); splitErr == nil {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid port in target %q", target)
		}
	}
	if host == "" || user == "" {
		return "", "", 0, fmt.Errorf("invalid target %q", target)
	}
	return user, host, port, nil
}

// Run executes script as one batch on the remote host. The script is fed to
// bash through a quoted heredoc with `set -euo pipefail` prepended, so any
// failing step aborts the remainder and embedded user data is never
// re-expanded by the outer shell.
func (c *Client) Run(ctx context.Context, script string) (Result, error) {
	session, err := c.newSession(ctx)
	if err != nil {
		return Result{OK: false, Stderr: err.Error()}, err
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(batchCommand(script))
	res := Result{OK: err == nil, Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		// Remote script failure, not a transport failure.
		return res, nil
	}
	if res.Stderr == "" {
		res.Stderr = err.Error()
	}
	return res, fmt.Errorf("run script on %s: %w", c.config.Host, err)
}

// Stream starts command remotely and returns a reader over its combined
// output. The remote process stays attached until the reader is closed.
func (c *Client) Stream(ctx context.Context, command string) (io.ReadCloser, error) {
	session, err := c.newSession(ctx)
	if err != nil {
		return nil, err
	}

	pipe, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	session.Stderr = session.Stdout

	if err := session.Start(command + " 2>&1"); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("start stream on %s: %w", c.config.Host, err)
	}

	return &streamReader{Reader: pipe, session: session}, nil
}

// Close releases the cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// newSession returns a session on the cached connection, re-dialing once if
// the connection has gone stale.
func (c *Client) newSession(ctx context.Context) (*ssh.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if session, err := c.conn.NewSession(); err == nil {
			return session, nil
		}
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create session on %s: %w", c.config.Host, err)
	}
	c.conn = conn
	return session, nil
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: c.config.HostKeys.Callback(),
		Timeout:         c.config.DialTimeout,
	}

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	var client *ssh.Client

	err := retry.WithExponentialBackoff(ctx, func() error {
		var dialErr error
		client, dialErr = ssh.Dial("tcp", addr, config)
		if dialErr != nil && errors.Is(dialErr, errHostKeyMismatch) {
			return retry.Fatal(dialErr)
		}
		return dialErr
	},
		retry.WithMaxRetries(c.config.MaxRetries),
		retry.WithInitialDelay(c.config.RetryDelay),
		retry.WithMaxDelay(defaultMaxDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}
	return client, nil
}

// batchCommand wraps script in the quoted-heredoc bash invocation.
func batchCommand(script string) string {
	return fmt.Sprintf("bash -s <<'%s'\nset -euo pipefail\n%s\n%s", heredocMarker, script, heredocMarker)
}

type streamReader struct {
	io.Reader
	session *ssh.Session
}

// Close detaches from the remote process.
func (r *streamReader) Close() error {
	return r.session.Close()
}
