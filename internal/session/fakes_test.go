package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Termix-SSH/Termix-sub004/internal/protocol"
)

// fakeChannel is an in-memory Channel: tests push inbound messages and
// inspect what the manager sent.
type fakeChannel struct {
	mu     sync.Mutex
	sent   []protocol.Message
	in     chan protocol.Message
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan protocol.Message, 32),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) Send(msg protocol.Message) error {
	select {
	case <-c.closed:
		return fmt.Errorf("send on closed channel")
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Receive() (protocol.Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return protocol.Message{}, io.EOF
	}
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// push delivers an inbound message to the manager's read pump.
func (c *fakeChannel) push(msg protocol.Message) { c.in <- msg }

// fail simulates an unexpected channel drop.
func (c *fakeChannel) fail() { c.Close() }

func (c *fakeChannel) countSent(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.sent {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func (c *fakeChannel) lastSent(msgType string) (protocol.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == msgType {
			return c.sent[i], true
		}
	}
	return protocol.Message{}, false
}

// fakeDialer hands out fakeChannels, optionally failing some or all dials.
type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	// failFrom: dials numbered >= failFrom (1-based) fail; 0 means never fail.
	failFrom int
}

func (d *fakeDialer) Dial(context.Context) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.channels) + 1
	if d.failFrom > 0 && n >= d.failFrom {
		d.channels = append(d.channels, nil)
		return nil, fmt.Errorf("dial refused: network is unreachable")
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.channels) {
		return nil
	}
	return d.channels[i]
}

// recNotifier records every notice.
type recNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recNotifier) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recNotifier) count(code NoticeCode) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Code == code {
			n++
		}
	}
	return n
}

func (r *recNotifier) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

// recScreen records rendered bytes and lifecycle calls.
type recScreen struct {
	mu       sync.Mutex
	content  []byte
	clears   int
	refreshs int
	focuses  int
}

func (s *recScreen) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.content = append(s.content, p...)
	s.mu.Unlock()
	return len(p), nil
}

func (s *recScreen) Clear() {
	s.mu.Lock()
	s.clears++
	s.content = nil
	s.mu.Unlock()
}

func (s *recScreen) Refresh() {
	s.mu.Lock()
	s.refreshs++
	s.mu.Unlock()
}

func (s *recScreen) Focus() {
	s.mu.Lock()
	s.focuses++
	s.mu.Unlock()
}

func (s *recScreen) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.content)
}

func (s *recScreen) clearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

func (s *recScreen) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshs
}

// closeRecorder captures OnClose invocations.
type closeRecorder struct {
	mu      sync.Mutex
	reasons []CloseReason
}

func (c *closeRecorder) onClose(reason CloseReason) {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
}

func (c *closeRecorder) calls() []CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CloseReason, len(c.reasons))
	copy(out, c.reasons)
	return out
}

// chanCounter is a tiny thread-safe counter for callback assertions.
type chanCounter struct {
	mu sync.Mutex
	n  int
}

func (c *chanCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *chanCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settle gives in-flight events time to land before asserting a negative.
func settle() { time.Sleep(150 * time.Millisecond) }

type testRig struct {
	dialer   *fakeDialer
	notifier *recNotifier
	screen   *recScreen
	closer   *closeRecorder
	mgr      *Manager
}

func newTestRig(t *testing.T, dialer *fakeDialer, mutate func(cfg *Config)) *testRig {
	t.Helper()
	rig := &testRig{
		dialer:   dialer,
		notifier: &recNotifier{},
		screen:   &recScreen{},
		closer:   &closeRecorder{},
	}
	cfg := Config{
		Dialer: dialer,
		Host: protocol.HostDescriptor{
			Address:  "198.51.100.7",
			Port:     22,
			Username: "ops",
			AuthMode: protocol.AuthPassword,
			Password: "secret",
		},
		Geometry: protocol.Geometry{Cols: 80, Rows: 24},
		Screen:   rig.screen,
		Notifier: rig.notifier,
		OnClose:  rig.closer.onClose,
		Visible:  true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	// Shrink every timer so the suite runs fast.
	mgr.connectTimeout = 400 * time.Millisecond
	mgr.heartbeatInterval = time.Hour
	mgr.resizeDebounce = 30 * time.Millisecond
	mgr.backoffBase = 20 * time.Millisecond
	rig.mgr = mgr
	t.Cleanup(mgr.Close)
	return rig
}

// connect drives the rig to a confirmed connection on the most recent channel.
func (r *testRig) connect(t *testing.T) *fakeChannel {
	t.Helper()
	waitFor(t, "dial", func() bool { return r.dialer.dialCount() >= 1 })
	ch := r.dialer.channel(r.dialer.dialCount() - 1)
	waitFor(t, "connect request", func() bool { return ch.countSent(protocol.TypeConnectToHost) == 1 })
	ch.push(protocol.NewConnected())
	waitFor(t, "connected state", func() bool { return r.mgr.State() == StateConnected })
	return ch
}
