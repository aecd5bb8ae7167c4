// Command termix is the terminal client: it opens an interactive session
// against a broker's WebSocket terminal endpoint and bridges it to the local
// tty, with automatic reconnection, resize propagation and second-factor
// prompts handled by the session core.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Termix-SSH/Termix-sub004/internal/activity"
	"github.com/Termix-SSH/Termix-sub004/internal/emulator"
	"github.com/Termix-SSH/Termix-sub004/internal/protocol"
	"github.com/Termix-SSH/Termix-sub004/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "termix: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	brokerURL     string
	apiKey        string
	local         bool
	host          string
	port          int
	username      string
	authMode      string
	keyPath       string
	credentialRef string
	initialPath   string
	execCommand   string
	logLevel      string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.brokerURL, "broker", envOr("TERMIX_BROKER", "http://127.0.0.1:8080"), "broker base URL")
	flag.StringVar(&o.apiKey, "api-key", envOr("TERMIX_API_KEY", ""), "broker API key")
	flag.BoolVar(&o.local, "local", false, "open a shell on the broker host instead of SSH")
	flag.StringVar(&o.host, "host", "", "target host address")
	flag.IntVar(&o.port, "port", 22, "target SSH port")
	flag.StringVar(&o.username, "user", "", "login username (default: current user)")
	flag.StringVar(&o.authMode, "auth", "password", "auth mode: password, key or credential_ref")
	flag.StringVar(&o.keyPath, "key", "", "path to a PEM private key (auth=key)")
	flag.StringVar(&o.credentialRef, "credential-ref", "", "broker credential reference (auth=credential_ref)")
	flag.StringVar(&o.initialPath, "path", "", "directory to change into after connecting")
	flag.StringVar(&o.execCommand, "exec", "", "run a command instead of a login shell")
	flag.StringVar(&o.logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level")
	flag.Parse()
	return o
}

func run() error {
	o := parseFlags()

	level, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	host, err := buildHostDescriptor(o)
	if err != nil {
		return err
	}

	wsURL, err := terminalURL(o.brokerURL, o.local)
	if err != nil {
		return err
	}

	tty := emulator.NewTTY(os.Stdin, os.Stdout)
	cols, rows, err := tty.Size()
	if err != nil {
		cols, rows = 80, 24
	}
	adapter := emulator.New(tty, emulator.DefaultKeymap())

	dialer := &session.WebsocketDialer{
		URL:              wsURL,
		Token:            tokenSource(o.brokerURL, o.apiKey),
		HandshakeTimeout: 10 * time.Second,
	}

	notifier := &consoleNotifier{out: os.Stderr}
	act := &activity.Client{BaseURL: o.brokerURL, Token: o.apiKey}

	mgr, err := session.NewManager(session.Config{
		Dialer:         dialer,
		Host:           host,
		Geometry:       protocol.Geometry{Cols: cols, Rows: rows},
		InitialPath:    o.initialPath,
		ExecuteCommand: o.execCommand,
		Screen:         adapter,
		Notifier:       notifier,
		Activity: func(sessionID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := act.SessionStarted(ctx, sessionID, host.Address); err != nil {
				logger.Debug().Err(err).Msg("activity report failed")
			}
		},
		OnClose: func(reason session.CloseReason) {
			notifier.printf("session closed: %s", reason)
		},
		Visible: true,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if err := tty.MakeRaw(); err != nil {
		return err
	}
	defer tty.Restore()

	adapter.OnLocalInput(mgr.Input)
	mgr.Start()

	// Resize propagation
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go func() {
		for range winch {
			if c, r, err := tty.Size(); err == nil {
				mgr.NotifyResize(c, r)
			}
		}
	}()

	// Keystroke pump. While a second-factor challenge is outstanding the
	// bytes are collected into a code instead of being forwarded.
	go func() {
		buf := make([]byte, 1024)
		var code []byte
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				mgr.Close()
				return
			}
			if !notifier.awaitingCode() {
				adapter.HandleInput(buf[:n])
				continue
			}
			for _, b := range buf[:n] {
				switch b {
				case '\r', '\n':
					notifier.setAwaitingCode(false)
					notifier.printf("")
					mgr.SubmitTOTP(string(code))
					code = code[:0]
				case 0x03: // Ctrl+C abandons the challenge
					notifier.setAwaitingCode(false)
					code = code[:0]
					mgr.CancelChallenge()
				case 0x7f, 0x08:
					if len(code) > 0 {
						code = code[:len(code)-1]
						fmt.Fprint(os.Stderr, "\b \b")
					}
				default:
					code = append(code, b)
					fmt.Fprint(os.Stderr, "*")
				}
			}
		}
	}()

	<-mgr.Done()
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildHostDescriptor assembles the wire host descriptor from flags, env and
// interactive prompts.
func buildHostDescriptor(o options) (protocol.HostDescriptor, error) {
	if o.local {
		// The local endpoint spawns a shell on the broker host; the
		// descriptor fields only identify the session.
		name := "termix"
		if u, err := user.Current(); err == nil {
			name = u.Username
		}
		return protocol.HostDescriptor{
			Address:  "localhost",
			Username: name,
			AuthMode: protocol.AuthPassword,
		}, nil
	}

	if o.host == "" {
		return protocol.HostDescriptor{}, fmt.Errorf("-host is required (or use -local)")
	}
	username := o.username
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return protocol.HostDescriptor{}, fmt.Errorf("resolve current user: %w", err)
		}
		username = u.Username
	}

	host := protocol.HostDescriptor{
		Address:  o.host,
		Port:     o.port,
		Username: username,
		AuthMode: o.authMode,
	}

	switch o.authMode {
	case protocol.AuthPassword:
		password := os.Getenv("TERMIX_PASSWORD")
		if password == "" {
			fmt.Fprintf(os.Stderr, "%s@%s password: ", username, o.host)
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return host, fmt.Errorf("read password: %w", err)
			}
			password = string(raw)
		}
		host.Password = password
	case protocol.AuthKey:
		if o.keyPath == "" {
			return host, fmt.Errorf("-key is required for auth=key")
		}
		pem, err := os.ReadFile(o.keyPath)
		if err != nil {
			return host, fmt.Errorf("read private key: %w", err)
		}
		host.Key = string(pem)
		host.KeyPassphrase = os.Getenv("TERMIX_KEY_PASSPHRASE")
	case protocol.AuthCredentialRef:
		if o.credentialRef == "" {
			return host, fmt.Errorf("-credential-ref is required for auth=credential_ref")
		}
		host.CredentialRef = o.credentialRef
	default:
		return host, fmt.Errorf("unsupported auth mode %q", o.authMode)
	}

	return host, nil
}

// terminalURL converts the broker base URL to the matching ws:// endpoint.
func terminalURL(base string, local bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse broker url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported broker url scheme %q", u.Scheme)
	}
	if local {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/terminal/local"
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/terminal/ssh"
	}
	return u.String(), nil
}

// tokenSource fetches a fresh WebSocket token from the broker's REST API on
// every dial, so a reconnect after token expiry still succeeds.
func tokenSource(base, apiKey string) session.TokenSource {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(base, "/")+"/v1/auth/token", nil)
		if err != nil {
			return "", err
		}
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("token request: http %d", resp.StatusCode)
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", err
		}
		return body.Token, nil
	}
}

// consoleNotifier prints connectivity notices to stderr. Raw mode means \r\n
// line endings.
type consoleNotifier struct {
	out      *os.File
	awaiting atomic.Bool
}

func (n *consoleNotifier) printf(format string, args ...any) {
	fmt.Fprintf(n.out, "\r\n[termix] "+format+"\r\n", args...)
}

func (n *consoleNotifier) awaitingCode() bool     { return n.awaiting.Load() }
func (n *consoleNotifier) setAwaitingCode(v bool) { n.awaiting.Store(v) }

func (n *consoleNotifier) Notify(notice session.Notice) {
	switch notice.Code {
	case session.NoticeReconnecting:
		n.printf("%s (attempt %d/%d)", notice.Message, notice.Attempt, notice.MaxAttempts)
	case session.NoticeTOTPPrompt:
		n.setAwaitingCode(true)
		fmt.Fprintf(n.out, "\r\n[termix] %s: ", notice.Message)
	default:
		n.printf("%s", notice.Message)
	}
}
