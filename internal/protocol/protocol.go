// Package protocol defines the JSON control protocol spoken between the
// terminal client and the shell broker.
//
// Every frame on the channel is a tagged envelope:
//
//	{"type": "<tag>", "data": <payload>}
//
// Client → broker: connectToHost, input, resize, ping, totp_response.
// Broker → client: data, connected, disconnected, error, totp_required.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client → broker message types.
const (
	TypeConnectToHost = "connectToHost"
	TypeInput         = "input"
	TypeResize        = "resize"
	TypePing          = "ping"
	TypeTOTPResponse  = "totp_response"
)

// Broker → client message types.
const (
	TypeData         = "data"
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeError        = "error"
	TypeTOTPRequired = "totp_required"
)

// Auth mode tags carried by HostDescriptor.
const (
	AuthPassword      = "password"
	AuthKey           = "key"
	AuthCredentialRef = "credential_ref"
)

// Message is the tagged wire envelope. Data is left raw so the receiver can
// decode it according to Type; a missing payload is omitted entirely.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Geometry is the (columns, rows) character grid of the terminal view.
type Geometry struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// HostDescriptor identifies the target host and how to authenticate against
// it. It is supplied once per session and never mutated afterwards. Exactly
// one credential form is expected, selected by AuthMode: an inline password,
// inline key material (with optional passphrase and key type), or an opaque
// reference the broker resolves from its credential store.
type HostDescriptor struct {
	Address       string `json:"address"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	AuthMode      string `json:"authMode"`
	Password      string `json:"password,omitempty"`
	Key           string `json:"key,omitempty"`
	KeyPassphrase string `json:"keyPassphrase,omitempty"`
	KeyType       string `json:"keyType,omitempty"`
	CredentialRef string `json:"credentialRef,omitempty"`
}

// Validate reports whether the descriptor is complete enough to open a
// session with.
func (h HostDescriptor) Validate() error {
	if h.Address == "" {
		return fmt.Errorf("protocol: host descriptor missing address")
	}
	if h.Username == "" {
		return fmt.Errorf("protocol: host descriptor missing username")
	}
	switch h.AuthMode {
	case AuthPassword, AuthKey, AuthCredentialRef:
		return nil
	default:
		return fmt.Errorf("protocol: unsupported auth mode %q", h.AuthMode)
	}
}

// ConnectRequest is the payload of a connectToHost message.
type ConnectRequest struct {
	Cols           int            `json:"cols"`
	Rows           int            `json:"rows"`
	HostDescriptor HostDescriptor `json:"hostDescriptor"`
	InitialPath    string         `json:"initialPath,omitempty"`
	ExecuteCommand string         `json:"executeCommand,omitempty"`
}

// TOTPResponse is the payload of a totp_response message.
type TOTPResponse struct {
	Code string `json:"code"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// TOTPRequired is the payload of a totp_required message.
type TOTPRequired struct {
	Prompt string `json:"prompt"`
}

func encode(msgType string, payload any) Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		// All payload types marshal without error; a failure here is a
		// programming bug, not a runtime condition.
		panic(fmt.Sprintf("protocol: marshal %s payload: %v", msgType, err))
	}
	return Message{Type: msgType, Data: raw}
}

// NewConnect builds a connectToHost message.
func NewConnect(req ConnectRequest) Message { return encode(TypeConnectToHost, req) }

// NewInput builds an input message carrying raw keystroke bytes as a string.
func NewInput(data string) Message { return encode(TypeInput, data) }

// NewResize builds a resize message.
func NewResize(g Geometry) Message { return encode(TypeResize, g) }

// NewPing builds a heartbeat ping. It carries no payload.
func NewPing() Message { return Message{Type: TypePing} }

// NewTOTPResponse builds a totp_response message.
func NewTOTPResponse(code string) Message { return encode(TypeTOTPResponse, TOTPResponse{Code: code}) }

// NewData builds a data message carrying shell output bytes.
func NewData(data string) Message { return encode(TypeData, data) }

// NewConnected builds the connection-established confirmation.
func NewConnected() Message { return Message{Type: TypeConnected} }

// NewDisconnected builds the remote-initiated clean close notification.
func NewDisconnected() Message { return Message{Type: TypeDisconnected} }

// NewError builds an error message.
func NewError(msg string) Message { return encode(TypeError, ErrorPayload{Message: msg}) }

// NewTOTPRequired builds a totp_required challenge.
func NewTOTPRequired(prompt string) Message { return encode(TypeTOTPRequired, TOTPRequired{Prompt: prompt}) }

// ConnectRequest decodes the payload of a connectToHost message.
func (m Message) ConnectRequest() (ConnectRequest, error) {
	var req ConnectRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		return req, fmt.Errorf("protocol: decode %s: %w", m.Type, err)
	}
	return req, nil
}

// Text decodes the string payload of input and data messages.
func (m Message) Text() (string, error) {
	var s string
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return "", fmt.Errorf("protocol: decode %s: %w", m.Type, err)
	}
	return s, nil
}

// Geometry decodes the payload of a resize message.
func (m Message) Geometry() (Geometry, error) {
	var g Geometry
	if err := json.Unmarshal(m.Data, &g); err != nil {
		return g, fmt.Errorf("protocol: decode %s: %w", m.Type, err)
	}
	if g.Cols <= 0 || g.Rows <= 0 {
		return g, fmt.Errorf("protocol: resize with non-positive geometry %dx%d", g.Cols, g.Rows)
	}
	return g, nil
}

// ErrorMessage decodes the payload of an error message.
func (m Message) ErrorMessage() (string, error) {
	var p ErrorPayload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return "", fmt.Errorf("protocol: decode %s: %w", m.Type, err)
	}
	return p.Message, nil
}

// TOTPPrompt decodes the payload of a totp_required message.
func (m Message) TOTPPrompt() (string, error) {
	var p TOTPRequired
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return "", fmt.Errorf("protocol: decode %s: %w", m.Type, err)
	}
	return p.Prompt, nil
}

// TOTPCode decodes the payload of a totp_response message.
func (m Message) TOTPCode() (string, error) {
	var p TOTPResponse
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return "", fmt.Errorf("protocol: decode %s: %w", m.Type, err)
	}
	return p.Code, nil
}
