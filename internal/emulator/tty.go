package emulator

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"
)

// clearSequence wipes the screen and scrollback and homes the cursor.
const clearSequence = "\x1b[2J\x1b[3J\x1b[H"

// TTY is a Buffer backed by the local terminal. The surrounding process's
// tty is the screen: writes pass straight through and the host terminal does
// the ANSI interpretation.
type TTY struct {
	out *os.File
	in  *os.File

	mu       sync.Mutex
	oldState *term.State
}

// NewTTY wraps the given input/output files (typically stdin/stdout).
func NewTTY(in, out *os.File) *TTY {
	return &TTY{in: in, out: out}
}

// MakeRaw puts the input tty into raw mode so keystrokes reach the remote
// shell unmangled. Restore must be called before the process exits.
func (t *TTY) MakeRaw() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.oldState != nil {
		return nil
	}
	state, err := term.MakeRaw(int(t.in.Fd()))
	if err != nil {
		return fmt.Errorf("emulator: raw mode: %w", err)
	}
	t.oldState = state
	return nil
}

// Restore undoes MakeRaw. Safe to call when raw mode was never entered.
func (t *TTY) Restore() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.oldState == nil {
		return
	}
	_ = term.Restore(int(t.in.Fd()), t.oldState)
	t.oldState = nil
}

// Size reads the current terminal geometry.
func (t *TTY) Size() (cols, rows int, err error) {
	cols, rows, err = term.GetSize(int(t.out.Fd()))
	if err != nil {
		return 0, 0, fmt.Errorf("emulator: terminal size: %w", err)
	}
	return cols, rows, nil
}

func (t *TTY) Write(p []byte) (int, error) { return t.out.Write(p) }

func (t *TTY) Clear() { _, _ = t.out.WriteString(clearSequence) }

// Refresh is a no-op: the host terminal owns its own redraw.
func (t *TTY) Refresh() {}

// Focus is a no-op for a tty.
func (t *TTY) Focus() {}
