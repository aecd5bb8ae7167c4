package broker

import (
	"sync"
	"time"
)

const (
	sessionIdleTimeout = 30 * time.Minute
	janitorInterval    = time.Minute
)

// Registry tracks active shell sessions and enforces idle timeouts. The
// WebSocket handler calls Touch on every message received; the per-session
// janitor goroutine closes sessions that have been idle too long.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registeredSession

	// Overridden in tests.
	idleTimeout   time.Duration
	checkInterval time.Duration
}

type registeredSession struct {
	id      string
	session Session
	lastMsg time.Time
	done    chan struct{} // closed by Unregister to stop the idle goroutine immediately
}

// NewRegistry returns an empty registry with production idle settings.
func NewRegistry() *Registry {
	return &Registry{
		sessions:      make(map[string]*registeredSession),
		idleTimeout:   sessionIdleTimeout,
		checkInterval: janitorInterval,
	}
}

// Register adds a session and starts idle monitoring. The session is
// automatically closed after the idle timeout elapses with no Touch.
func (r *Registry) Register(id string, sess Session) {
	done := make(chan struct{})
	r.mu.Lock()
	r.sessions[id] = &registeredSession{
		id:      id,
		session: sess,
		lastMsg: time.Now(),
		done:    done,
	}
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return // Unregister called; exit immediately
			case <-ticker.C:
				r.mu.Lock()
				rs, ok := r.sessions[id]
				if !ok {
					r.mu.Unlock()
					return
				}
				if time.Since(rs.lastMsg) >= r.idleTimeout {
					delete(r.sessions, id)
					r.mu.Unlock()
					_ = sess.Close()
					return
				}
				r.mu.Unlock()
			}
		}
	}()
}

// Touch updates the last-activity timestamp for the session, resetting the
// idle timer. Called for every message received on the WebSocket.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if rs, ok := r.sessions[id]; ok {
		rs.lastMsg = time.Now()
	}
	r.mu.Unlock()
}

// Unregister removes the session from the registry (called on WebSocket
// close). It does NOT close the Session itself; the caller is responsible for
// that. The idle-monitoring goroutine is signalled to exit immediately.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	rs, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		close(rs.done)
	}
	r.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
