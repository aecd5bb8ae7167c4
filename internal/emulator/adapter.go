// Package emulator bridges the session core to a terminal screen buffer:
// inbound shell output is written verbatim into the buffer, local keystrokes
// flow back out through an optional key-substitution layer.
package emulator

import "sync"

// Buffer is the screen-buffer abstraction the adapter renders into. Cursor
// movement, scrollback and ANSI interpretation are the buffer's concern; the
// adapter only guarantees byte order.
type Buffer interface {
	Write(p []byte) (n int, err error)
	Clear()
	Refresh()
	Focus()
}

// InputHandler receives translated local input bytes, ready to be sent as an
// input message.
type InputHandler func(data string)

// Adapter connects a Buffer to the session. It satisfies the session core's
// Screen interface and forwards local input byte-for-byte (after local key
// substitution, which never alters the wire protocol).
type Adapter struct {
	buf    Buffer
	keymap *Keymap

	mu      sync.Mutex
	onInput InputHandler
}

// New builds an Adapter over buf. keymap may be nil for no substitution.
func New(buf Buffer, keymap *Keymap) *Adapter {
	return &Adapter{buf: buf, keymap: keymap}
}

// OnLocalInput registers the handler for translated keystrokes.
func (a *Adapter) OnLocalInput(fn InputHandler) {
	a.mu.Lock()
	a.onInput = fn
	a.mu.Unlock()
}

// Write renders inbound shell output verbatim, preserving order.
func (a *Adapter) Write(p []byte) (int, error) { return a.buf.Write(p) }

// Clear wipes the buffer. Called whenever the remote shell the user is
// looking at is no longer the live one.
func (a *Adapter) Clear() { a.buf.Clear() }

// Refresh redraws the buffer after a visibility change.
func (a *Adapter) Refresh() { a.buf.Refresh() }

// Focus gives the buffer input focus.
func (a *Adapter) Focus() { a.buf.Focus() }

// HandleInput feeds raw local keystroke bytes through the substitution layer
// and on to the registered handler.
func (a *Adapter) HandleInput(p []byte) {
	a.mu.Lock()
	fn := a.onInput
	a.mu.Unlock()
	if fn == nil {
		return
	}
	if a.keymap != nil {
		p = a.keymap.Translate(p)
	}
	fn(string(p))
}
