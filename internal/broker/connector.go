// Package broker implements the shell broker daemon: a chi HTTP server with
// WebSocket terminal endpoints that speak the tagged-message protocol, a
// connector layer that opens the actual shells (remote SSH or local PTY), a
// session registry with idle reaping, and token-based WebSocket auth.
package broker

import "context"

// Session is a live shell with a PTY attached. Callers Write stdin bytes and
// Read stdout/stderr bytes; resize and close are driven out-of-band by the
// WebSocket handler.
type Session interface {
	// Write sends bytes to the shell's stdin.
	Write(p []byte) (n int, err error)
	// Read receives bytes from the shell's stdout/stderr.
	Read(p []byte) (n int, err error)
	// Resize changes the PTY dimensions.
	Resize(rows, cols uint16) error
	// Close terminates the shell and frees all resources.
	Close() error
}

// ChallengeFunc relays a second-factor prompt to the connecting client and
// blocks until the client answers or gives up. Connectors invoke it at most
// once per keyboard-interactive round.
type ChallengeFunc func(prompt string) (string, error)

// ConnectorConfig carries everything needed to open one shell.
type ConnectorConfig struct {
	// Host is the target hostname or IP address.
	Host string
	// Port is the target TCP port (22 when zero).
	Port int
	// User is the login username.
	User string
	// AuthMode is one of the protocol auth tags: "password" or "key".
	// Credential references are resolved by the handler before this struct is
	// built, so connectors never see one.
	AuthMode string
	// Secret is the plaintext credential: the password, or the PEM private key.
	Secret string
	// Passphrase unlocks an encrypted private key. Empty for password auth and
	// unencrypted keys.
	Passphrase string
	// Cols and Rows set the initial PTY geometry. Zero means 80x24.
	Cols, Rows int
	// InitialPath is a directory to change into after the shell starts.
	InitialPath string
	// ExecuteCommand replaces the login shell with a one-off command.
	ExecuteCommand string
	// Challenge answers keyboard-interactive prompts (TOTP). Nil means
	// challenges cannot be answered and fail the connection.
	Challenge ChallengeFunc
}

// Connector creates a Session for a given configuration.
// Implementations must be safe for concurrent use.
type Connector interface {
	Connect(ctx context.Context, cfg ConnectorConfig) (Session, error)
}
