package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Termix-SSH/Termix-sub004/internal/protocol"
)

// Channel is one bidirectional message connection to the broker. Receive
// blocks until a message arrives or the channel fails; after Close both
// directions return errors. The underlying transport guarantees in-order
// delivery once a message is handed to Send.
type Channel interface {
	Send(msg protocol.Message) error
	Receive() (protocol.Message, error)
	Close() error
}

// Dialer opens a fresh Channel for each connection attempt.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// TokenSource retrieves the auth token used to construct the channel URL.
type TokenSource func(ctx context.Context) (string, error)

// WebsocketDialer dials the broker's terminal endpoint. The token is carried
// as a query parameter: browsers cannot set custom headers on a WebSocket
// upgrade, and the CLI keeps the same convention.
type WebsocketDialer struct {
	// URL is the ws:// or wss:// endpoint of the broker terminal route.
	URL string
	// Token supplies the auth token per dial. Optional.
	Token TokenSource
	// HandshakeTimeout bounds the upgrade; zero means the gorilla default.
	HandshakeTimeout time.Duration
}

// Dial opens the websocket and wraps it as a Channel.
func (d *WebsocketDialer) Dial(ctx context.Context) (Channel, error) {
	target, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("session: parse broker url: %w", err)
	}
	if d.Token != nil {
		tok, err := d.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("session: fetch auth token: %w", err)
		}
		q := target.Query()
		q.Set("token", tok)
		target.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("session: dial broker: %w (http %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("session: dial broker: %w", err)
	}
	return &wsChannel{conn: conn}, nil
}

// wsChannel adapts a gorilla websocket connection to the Channel interface.
// Writes are serialized by a mutex: heartbeat, resize and input share the
// same outbound path.
type wsChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsChannel) Send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsChannel) Receive() (protocol.Message, error) {
	var msg protocol.Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return protocol.Message{}, err
	}
	return msg, nil
}

func (c *wsChannel) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
