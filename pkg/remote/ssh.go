package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTransport implements Transport over SSH, optionally through one
// proxy-jump hop.
//
// The underlying client is dialed lazily on first use and reused across
// calls. A dropped connection is discarded and redialed on the next call.
type SSHTransport struct {
	identity Identity
	config   *ssh.ClientConfig
	logger   *zap.Logger

	mu     sync.Mutex
	client *ssh.Client
	jump   *ssh.Client
}

// NewSSHTransport validates the identity and loads its key material.
//
// It does not dial; connection failures surface from Run and Copy.
func NewSSHTransport(id Identity, logger *zap.Logger) (*SSHTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := id.Validate(); err != nil {
		return nil, &Error{Op: "configure", Host: id.String(), Err: fmt.Errorf("%w: %v", ErrConnect, err)}
	}
	if id.ConnectTimeout <= 0 {
		id.ConnectTimeout = DefaultConnectTimeout
	}

	keyPath := ExpandLocalHome(id.KeyFile)
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &Error{Op: "configure", Host: id.String(), Err: fmt.Errorf("%w: read private key %s: %v", ErrAuth, keyPath, err)}
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, &Error{Op: "configure", Host: id.String(), Err: fmt.Errorf("%w: parse private key %s: %v", ErrAuth, keyPath, err)}
	}

	hostKeys, err := hostKeyCallback(id, logger)
	if err != nil {
		return nil, &Error{Op: "configure", Host: id.String(), Err: fmt.Errorf("%w: %v", ErrConnect, err)}
	}

	return &SSHTransport{
		identity: id,
		logger:   logger,
		config: &ssh.ClientConfig{
			User:            id.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         id.ConnectTimeout,
		},
	}, nil
}

func hostKeyCallback(id Identity, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	if id.InsecureIgnoreHostKey {
		logger.Warn("Host key verification disabled", zap.String("host", id.Host))
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := ExpandLocalHome(id.KnownHostsFile)
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("known_hosts file is not configured (set remote.known_hosts_file or remote.insecure_ignore_host_key)")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

// Identity returns the identity the transport is bound to.
func (t *SSHTransport) Identity() Identity {
	return t.identity
}

// Run implements Transport.
func (t *SSHTransport) Run(ctx context.Context, cmd Command, timeout time.Duration) (*Result, error) {
	line := cmd.String()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := t.exec(ctx, line, nil)
	if err != nil {
		return nil, &Error{Op: "run", Host: t.identity.String(), Command: line, Err: err}
	}
	t.logger.Debug("Remote command finished",
		zap.String("host", t.identity.String()),
		zap.String("command", line),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// Copy implements Transport by streaming the file into `cat` on the remote
// side. The context bounds the transfer.
func (t *SSHTransport) Copy(ctx context.Context, localPath, remotePath string) error {
	cmd := NewCommand("sh", "-c", `cat > "$1"`, "sh", remotePath)
	line := cmd.String()

	f, err := os.Open(localPath)
	if err != nil {
		return &Error{Op: "copy", Host: t.identity.String(), Command: line, Err: fmt.Errorf("open local file: %w", err)}
	}
	defer func() { _ = f.Close() }()

	res, err := t.exec(ctx, line, f)
	if err != nil {
		return &Error{Op: "copy", Host: t.identity.String(), Command: line, Err: err}
	}
	if err := RequireSuccess(cmd, res); err != nil {
		return &Error{Op: "copy", Host: t.identity.String(), Command: line, Err: err}
	}
	return nil
}

// Close implements Transport.
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resetLocked()
}

func (t *SSHTransport) exec(ctx context.Context, line string, stdin io.Reader) (*Result, error) {
	client, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		t.reset()
		return nil, fmt.Errorf("%w: open session: %v", ErrDisconnected, err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return nil, contextError(ctx)
	case runErr := <-done:
		res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if runErr == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		t.reset()
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, runErr)
	}
}

func (t *SSHTransport) connect(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.identity.ConnectTimeout)
	defer cancel()

	target := t.identity.Target()
	hop, hasJump, err := t.identity.Jump()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	if !hasJump {
		client, err := dialSSH(dialCtx, nil, target.Address(), t.config)
		if err != nil {
			return nil, classifyDialError(ctx, target, err)
		}
		t.client = client
		t.logger.Debug("Connected", zap.String("host", target.String()))
		return client, nil
	}

	jumpCfg := *t.config
	jumpCfg.User = hop.User
	jump, err := dialSSH(dialCtx, nil, hop.Address(), &jumpCfg)
	if err != nil {
		return nil, classifyDialError(ctx, hop, err)
	}
	client, err := dialSSH(dialCtx, jump, target.Address(), t.config)
	if err != nil {
		_ = jump.Close()
		return nil, classifyDialError(ctx, target, err)
	}
	t.jump = jump
	t.client = client
	t.logger.Debug("Connected via proxy jump",
		zap.String("host", target.String()),
		zap.String("proxy_jump", hop.String()))
	return client, nil
}

// dialSSH opens a TCP connection (through via when non-nil) and performs
// the SSH handshake within the context deadline.
func dialSSH(ctx context.Context, via *ssh.Client, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var (
		conn net.Conn
		err  error
	)
	if via != nil {
		conn, err = via.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func classifyDialError(ctx context.Context, hop Hop, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %s: %v", ErrAuth, hop, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnect, hop, err)
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

func (t *SSHTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.resetLocked()
}

func (t *SSHTransport) resetLocked() error {
	var err error
	if t.client != nil {
		err = t.client.Close()
		t.client = nil
	}
	if t.jump != nil {
		_ = t.jump.Close()
		t.jump = nil
	}
	return err
}

// Compile-time check that SSHTransport implements Transport.
var _ Transport = (*SSHTransport)(nil)
