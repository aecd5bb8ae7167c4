package broker

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sshDialTimeout = 10 * time.Second

// SSHConnector establishes SSH sessions to remote hosts. Credentials are
// consumed once during Connect and held only in memory for the duration of
// the session.
type SSHConnector struct{}

// Connect opens an SSH connection and returns a Session backed by a remote
// PTY. The returned Session must be closed by the caller.
func (c *SSHConnector) Connect(ctx context.Context, cfg ConnectorConfig) (Session, error) {
	methods, err := authMethods(cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh: auth config: %w", err)
	}
	hostKeyCallback, err := sshHostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("ssh: host key: %w", err)
	}

	clientCfg := &cryptossh.ClientConfig{
		User:            cfg.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         sshDialTimeout,
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))
	// Respect context cancellation during dial
	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		cl, err := cryptossh.Dial("tcp", addr, clientCfg)
		ch <- dialResult{cl, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("ssh: dial %s: %w", addr, r.err)
		}
		return newSSHSession(r.client, cfg)
	}
}

// sshSession wraps an SSH client + session + remote PTY.
type sshSession struct {
	client  *cryptossh.Client
	session *cryptossh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex
}

func newSSHSession(client *cryptossh.Client, cfg ConnectorConfig) (*sshSession, error) {
	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}

	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 || rows <= 0 {
		cols, rows = 80, 24
	}
	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: stdout pipe: %w", err)
	}
	if cfg.ExecuteCommand != "" {
		// One-off command replaces the login shell; the session ends with it.
		if err := sess.Start(cfg.ExecuteCommand); err != nil {
			sess.Close()
			client.Close()
			return nil, fmt.Errorf("ssh: start command: %w", err)
		}
	} else {
		if err := sess.Shell(); err != nil {
			sess.Close()
			client.Close()
			return nil, fmt.Errorf("ssh: start login shell: %w", err)
		}
		if cfg.InitialPath != "" {
			// Typed into the fresh shell; quoting keeps spaces intact.
			_, _ = fmt.Fprintf(stdin, "cd %s\n", shellQuote(cfg.InitialPath))
		}
	}

	return &sshSession{
		client:  client,
		session: sess,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

func (s *sshSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *sshSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshSession) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.WindowChange(int(rows), int(cols))
}

func (s *sshSession) Close() error {
	_ = s.stdin.Close()
	_ = s.session.Close()
	return s.client.Close()
}

// authMethods builds the SSH auth method chain from ConnectorConfig. A
// keyboard-interactive method is always appended when a challenge relay is
// available, so hosts that stack TOTP on top of password or key auth can be
// answered.
func authMethods(cfg ConnectorConfig) ([]cryptossh.AuthMethod, error) {
	var methods []cryptossh.AuthMethod
	switch cfg.AuthMode {
	case "key":
		var signer cryptossh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = cryptossh.ParsePrivateKeyWithPassphrase([]byte(cfg.Secret), []byte(cfg.Passphrase))
		} else {
			signer, err = cryptossh.ParsePrivateKey([]byte(cfg.Secret))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, cryptossh.PublicKeys(signer))
	case "password":
		methods = append(methods, cryptossh.Password(cfg.Secret))
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.AuthMode)
	}
	methods = append(methods, cryptossh.KeyboardInteractive(keyboardInteractive(cfg)))
	return methods, nil
}

// keyboardInteractive answers server prompts. Password prompts are answered
// with the configured secret (password mode only); anything else — one-time
// codes in particular — is relayed to the client via the challenge func.
func keyboardInteractive(cfg ConnectorConfig) cryptossh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i, q := range questions {
			lower := strings.ToLower(q)
			if cfg.AuthMode == "password" && strings.Contains(lower, "password") {
				answers[i] = cfg.Secret
				continue
			}
			if cfg.Challenge == nil {
				return nil, fmt.Errorf("authentication failed: unanswerable challenge %q", q)
			}
			code, err := cfg.Challenge(q)
			if err != nil {
				return nil, fmt.Errorf("authentication failed: %w", err)
			}
			answers[i] = code
		}
		return answers, nil
	}
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", "'\\''") + "'"
}

// cachedHostKeyCallback is resolved once at first use and reused for the
// process lifetime, avoiding repeated disk I/O on every connection.
var (
	hostKeyOnce sync.Once
	hostKeyCB   cryptossh.HostKeyCallback
	hostKeyErr  error
)

// sshHostKeyCallback returns the host key callback.
//
// Resolution order:
//  1. If TERMIX_SSH_KNOWN_HOSTS or standard known_hosts files exist → use them.
//  2. Otherwise default to InsecureIgnoreHostKey.
//  3. If TERMIX_REQUIRE_SSH_HOST_KEY=1 is set, refuse to connect without
//     known_hosts.
func sshHostKeyCallback() (cryptossh.HostKeyCallback, error) {
	hostKeyOnce.Do(func() {
		hostKeyCB, hostKeyErr = resolveHostKeyCallback()
	})
	return hostKeyCB, hostKeyErr
}

func resolveHostKeyCallback() (cryptossh.HostKeyCallback, error) {
	knownHostsPath := strings.TrimSpace(os.Getenv("TERMIX_SSH_KNOWN_HOSTS"))
	candidates := make([]string, 0, 3)
	if knownHostsPath != "" {
		candidates = append(candidates, knownHostsPath)
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".ssh", "known_hosts"))
	}
	candidates = append(candidates, "/etc/ssh/ssh_known_hosts")

	existing := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			existing = append(existing, candidate)
		}
	}

	if len(existing) > 0 {
		callback, err := knownhosts.New(existing...)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return callback, nil
	}

	requireStrict := strings.ToLower(strings.TrimSpace(os.Getenv("TERMIX_REQUIRE_SSH_HOST_KEY")))
	if requireStrict == "1" || requireStrict == "true" || requireStrict == "yes" {
		return nil, fmt.Errorf("ssh host key verification required: no known_hosts file found (set by TERMIX_REQUIRE_SSH_HOST_KEY)")
	}

	return cryptossh.InsecureIgnoreHostKey(), nil //nolint:gosec // opt-in strict mode via TERMIX_REQUIRE_SSH_HOST_KEY
}

// ensure interface compliance
var _ Session = (*sshSession)(nil)
var _ Connector = (*SSHConnector)(nil)
