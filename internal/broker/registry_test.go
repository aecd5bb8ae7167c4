package broker

import (
	"sync"
	"testing"
	"time"
)

// mockSession implements Session for registry tests.
type mockSession struct {
	mu     sync.Mutex
	closed bool
}

func (m *mockSession) Write(p []byte) (int, error) { return len(p), nil }
func (m *mockSession) Read(p []byte) (int, error)  { return 0, nil }
func (m *mockSession) Resize(_, _ uint16) error    { return nil }
func (m *mockSession) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockSession) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func TestRegistryTouchPreventsTimeout(t *testing.T) {
	r := NewRegistry()
	sess := &mockSession{}
	id := "test-touch"
	r.Register(id, sess)
	defer r.Unregister(id)

	time.Sleep(10 * time.Millisecond)
	r.Touch(id)

	r.mu.Lock()
	rs, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		t.Fatal("session should still be registered after Touch")
	}
	if time.Since(rs.lastMsg) > time.Second {
		t.Fatal("lastMsg should have been updated by Touch")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	sess := &mockSession{}
	id := "test-unregister"
	r.Register(id, sess)
	r.Unregister(id)

	r.mu.Lock()
	_, ok := r.sessions[id]
	r.mu.Unlock()

	if ok {
		t.Fatal("session should have been removed after Unregister")
	}
	if sess.isClosed() {
		t.Fatal("Unregister must not close the session; the caller owns it")
	}
}

func TestRegistryIdleSessionIsReaped(t *testing.T) {
	r := NewRegistry()
	r.idleTimeout = 20 * time.Millisecond
	r.checkInterval = 5 * time.Millisecond

	sess := &mockSession{}
	r.Register("idle", sess)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.isClosed() && r.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("idle session not reaped: closed=%v len=%d", sess.isClosed(), r.Len())
}

func TestRegistryActiveSessionSurvivesJanitor(t *testing.T) {
	r := NewRegistry()
	r.idleTimeout = 40 * time.Millisecond
	r.checkInterval = 5 * time.Millisecond

	sess := &mockSession{}
	r.Register("busy", sess)
	defer r.Unregister("busy")

	// Keep touching for several janitor cycles.
	for i := 0; i < 20; i++ {
		r.Touch("busy")
		time.Sleep(5 * time.Millisecond)
	}
	if sess.isClosed() {
		t.Fatal("session with recent activity must not be reaped")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}
