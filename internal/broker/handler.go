package broker

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Termix-SSH/Termix-sub004/internal/activity"
	"github.com/Termix-SSH/Termix-sub004/internal/credstore"
	"github.com/Termix-SSH/Termix-sub004/internal/protocol"
)

// handshakeTimeout bounds the wait for the first (connectToHost) message.
const handshakeTimeout = 10 * time.Second

// challengeTimeout bounds the wait for a totp_response after a challenge has
// been relayed to the client.
const challengeTimeout = 2 * time.Minute

var wsUpgrader = websocket.Upgrader{
	// CheckOrigin allows all origins. Authentication is enforced via the
	// ?token= parameter so a permissive origin policy is acceptable for this
	// single-operator deployment. Review before multi-tenant exposure.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TerminalHandler serves the WebSocket terminal endpoints. Each accepted
// connection speaks the tagged-message protocol: the first frame must be a
// connectToHost request, after which the handler relays shell bytes as data
// frames and applies input/resize/ping control frames.
type TerminalHandler struct {
	// SSH opens remote sessions; Local opens shells on the broker host.
	SSH   Connector
	Local Connector

	Registry *Registry
	// Creds resolves credential references from connect requests. Optional;
	// without it credential_ref auth is rejected.
	Creds *credstore.Store
	// Tokens validates the ?token= query parameter. Optional; without it the
	// endpoints are open.
	Tokens   *TokenStore
	Activity activity.Recorder
	Log      zerolog.Logger
}

// ServeSSH handles GET /terminal/ssh.
func (h *TerminalHandler) ServeSSH(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.SSH, "terminal.ssh")
}

// ServeLocal handles GET /terminal/local.
func (h *TerminalHandler) ServeLocal(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.Local, "terminal.local")
}

// msgWriter serializes outbound frames: the shell pump and control replies
// share one websocket.
type msgWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *msgWriter) write(msg protocol.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(msg)
}

func (h *TerminalHandler) serve(w http.ResponseWriter, r *http.Request, connector Connector, action string) {
	if h.Tokens != nil && !h.Tokens.Validate(r.URL.Query().Get("token")) {
		http.Error(w, "missing or expired token", http.StatusUnauthorized)
		return
	}
	if connector == nil {
		http.Error(w, "endpoint disabled", http.StatusNotFound)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	out := &msgWriter{conn: conn}

	req, err := h.readConnectRequest(conn)
	if err != nil {
		h.Log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake rejected")
		_ = out.write(protocol.NewError(err.Error()))
		return
	}

	cfg, err := h.connectorConfig(req)
	if err != nil {
		_ = out.write(protocol.NewError(err.Error()))
		return
	}
	cfg.Challenge = h.challengeRelay(conn, out)

	sess, err := connector.Connect(r.Context(), cfg)
	if err != nil {
		h.Log.Warn().Err(err).Str("host", req.HostDescriptor.Address).Msg("connect failed")
		_ = out.write(protocol.NewError(err.Error()))
		h.record(r, action+".connect", req, "", activity.StatusFailed)
		return
	}

	sessionID := uuid.NewString()
	startedAt := time.Now().UTC()
	var bytesOut, bytesIn atomic.Int64

	h.Registry.Register(sessionID, sess)
	defer func() {
		h.Registry.Unregister(sessionID)
		_ = sess.Close()
		h.record(r, action+".disconnect", req, sessionID, activity.StatusSuccess,
			"started_at", startedAt.Format(time.RFC3339),
			"ended_at", time.Now().UTC().Format(time.RFC3339),
			"bytes_in", bytesIn.Load(),
			"bytes_out", bytesOut.Load(),
		)
	}()

	if err := out.write(protocol.NewConnected()); err != nil {
		return
	}
	h.record(r, action+".connect", req, sessionID, activity.StatusSuccess)

	// Bidirectional relay
	done := make(chan struct{})

	// Shell → WebSocket
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := sess.Read(buf)
			if err != nil {
				// Shell exit or transport loss; either way the remote side of
				// this session is gone for good.
				_ = out.write(protocol.NewDisconnected())
				return
			}
			bytesOut.Add(int64(n))
			if err := out.write(protocol.NewData(string(buf[:n]))); err != nil {
				return
			}
		}
	}()

	// WebSocket → shell (+ control frames)
	go func() {
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				_ = sess.Close() // unblocks the shell pump
				return
			}
			h.Registry.Touch(sessionID)

			switch msg.Type {
			case protocol.TypeInput:
				text, err := msg.Text()
				if err != nil {
					_ = out.write(protocol.NewError(err.Error()))
					continue
				}
				bytesIn.Add(int64(len(text)))
				if _, err := sess.Write([]byte(text)); err != nil {
					return
				}
			case protocol.TypeResize:
				g, err := msg.Geometry()
				if err != nil {
					_ = out.write(protocol.NewError(err.Error()))
					continue
				}
				_ = sess.Resize(uint16(g.Rows), uint16(g.Cols))
			case protocol.TypePing:
				// Touch above already reset the idle timer.
			case protocol.TypeTOTPResponse:
				// No challenge outstanding; drop it.
			default:
				_ = out.write(protocol.NewError("unexpected message type: " + msg.Type))
			}
		}
	}()

	<-done
}

// readConnectRequest enforces the handshake: exactly one connectToHost frame,
// within the handshake deadline.
func (h *TerminalHandler) readConnectRequest(conn *websocket.Conn) (protocol.ConnectRequest, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return protocol.ConnectRequest{}, errHandshake("read handshake: " + err.Error())
	}
	if msg.Type != protocol.TypeConnectToHost {
		return protocol.ConnectRequest{}, errHandshake("first message must be connectToHost, got " + msg.Type)
	}
	req, err := msg.ConnectRequest()
	if err != nil {
		return protocol.ConnectRequest{}, errHandshake(err.Error())
	}
	if err := req.HostDescriptor.Validate(); err != nil {
		return protocol.ConnectRequest{}, errHandshake(err.Error())
	}
	return req, nil
}

type handshakeError string

func errHandshake(msg string) error    { return handshakeError(msg) }
func (e handshakeError) Error() string { return string(e) }

// connectorConfig maps the wire request onto a connector configuration,
// resolving credential references into plaintext secrets. This is the only
// place a stored secret is decrypted; it is never echoed back on the wire.
func (h *TerminalHandler) connectorConfig(req protocol.ConnectRequest) (ConnectorConfig, error) {
	host := req.HostDescriptor
	cfg := ConnectorConfig{
		Host:           host.Address,
		Port:           host.Port,
		User:           host.Username,
		AuthMode:       host.AuthMode,
		Cols:           req.Cols,
		Rows:           req.Rows,
		InitialPath:    req.InitialPath,
		ExecuteCommand: req.ExecuteCommand,
	}
	switch host.AuthMode {
	case protocol.AuthPassword:
		cfg.Secret = host.Password
	case protocol.AuthKey:
		cfg.Secret = host.Key
		cfg.Passphrase = host.KeyPassphrase
	case protocol.AuthCredentialRef:
		if h.Creds == nil {
			return cfg, errHandshake("authentication failed: credential references not supported")
		}
		cred, err := h.Creds.Resolve(host.CredentialRef)
		if err != nil {
			return cfg, errHandshake("authentication failed: invalid credential reference")
		}
		cfg.AuthMode = cred.Kind
		cfg.Secret = cred.Secret
		cfg.Passphrase = cred.Passphrase
	}
	return cfg, nil
}

// challengeRelay bridges keyboard-interactive prompts to the client: emit a
// totp_required frame, then block until a totp_response arrives. Runs before
// the relay loops start, so reading the websocket here is safe.
func (h *TerminalHandler) challengeRelay(conn *websocket.Conn, out *msgWriter) ChallengeFunc {
	return func(prompt string) (string, error) {
		if err := out.write(protocol.NewTOTPRequired(prompt)); err != nil {
			return "", err
		}
		_ = conn.SetReadDeadline(time.Now().Add(challengeTimeout))
		defer conn.SetReadDeadline(time.Time{})
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return "", err
			}
			switch msg.Type {
			case protocol.TypeTOTPResponse:
				return msg.TOTPCode()
			case protocol.TypePing:
				// Client heartbeat while the user types the code.
			default:
				return "", errHandshake("expected totp_response, got " + msg.Type)
			}
		}
	}
}

// record writes one activity entry; extra holds alternating key/value detail
// pairs.
func (h *TerminalHandler) record(r *http.Request, action string, req protocol.ConnectRequest, sessionID, status string, extra ...any) {
	if h.Activity == nil {
		return
	}
	detail := make(map[string]any, len(extra)/2)
	for i := 0; i+1 < len(extra); i += 2 {
		key, ok := extra[i].(string)
		if !ok {
			continue
		}
		detail[key] = extra[i+1]
	}
	h.Activity.Record(context.Background(), activity.Entry{
		SessionID:    sessionID,
		UserID:       "operator",
		Action:       action,
		ResourceType: "host",
		ResourceID:   req.HostDescriptor.Address,
		Status:       status,
		IP:           r.RemoteAddr,
		Detail:       detail,
	})
}
