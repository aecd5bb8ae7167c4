package emulator

import "testing"

type memBuffer struct {
	content []byte
	clears  int
}

func (b *memBuffer) Write(p []byte) (int, error) {
	b.content = append(b.content, p...)
	return len(p), nil
}
func (b *memBuffer) Clear()   { b.clears++; b.content = nil }
func (b *memBuffer) Refresh() {}
func (b *memBuffer) Focus()   {}

func TestAdapterWritesVerbatim(t *testing.T) {
	buf := &memBuffer{}
	a := New(buf, nil)
	_, _ = a.Write([]byte("\x1b[31mred\x1b[0m "))
	_, _ = a.Write([]byte("plain"))
	if got := string(buf.content); got != "\x1b[31mred\x1b[0m plain" {
		t.Errorf("buffer content = %q", got)
	}
}

func TestAdapterClearWipesBuffer(t *testing.T) {
	buf := &memBuffer{}
	a := New(buf, nil)
	_, _ = a.Write([]byte("stale"))
	a.Clear()
	if buf.clears != 1 || len(buf.content) != 0 {
		t.Errorf("clears = %d, content = %q", buf.clears, buf.content)
	}
}

func TestHandleInputForwardsBytes(t *testing.T) {
	a := New(&memBuffer{}, nil)
	var got string
	a.OnLocalInput(func(data string) { got += data })
	a.HandleInput([]byte("ls -la\r"))
	a.HandleInput([]byte{0x03}) // Ctrl+C passes through untouched
	if got != "ls -la\r\x03" {
		t.Errorf("forwarded input = %q", got)
	}
}

func TestHandleInputWithoutHandlerIsNoop(t *testing.T) {
	a := New(&memBuffer{}, DefaultKeymap())
	a.HandleInput([]byte("dropped")) // must not panic
}

func TestKeymapSubstitutesComposedCharacters(t *testing.T) {
	km := DefaultKeymap()
	got := string(km.Translate([]byte("echo “1‘ ª}")))
	if got != "echo [1] {}" {
		t.Errorf("translated = %q", got)
	}
}

func TestKeymapLeavesPlainInputAlone(t *testing.T) {
	km := DefaultKeymap()
	in := []byte("plain ascii with ~ and | already fine")
	got := km.Translate(in)
	if string(got) != string(in) {
		t.Errorf("translated = %q, want unchanged", got)
	}
}

func TestNilKeymapIsIdentity(t *testing.T) {
	var km *Keymap
	in := []byte("€")
	if got := string(km.Translate(in)); got != "€" {
		t.Errorf("nil keymap changed input: %q", got)
	}
}

func TestAdapterAppliesKeymapToInputOnly(t *testing.T) {
	buf := &memBuffer{}
	a := New(buf, DefaultKeymap())
	var sent string
	a.OnLocalInput(func(data string) { sent = data })

	a.HandleInput([]byte("€"))
	if sent != "@" {
		t.Errorf("input translated to %q, want %q", sent, "@")
	}

	// Output direction is never translated.
	_, _ = a.Write([]byte("€"))
	if got := string(buf.content); got != "€" {
		t.Errorf("output was translated: %q", got)
	}
}
