package session

import "github.com/Termix-SSH/Termix-sub004/internal/protocol"

// Resize coordinator. Local geometry changes are buffered and debounced into
// at most one outbound resize per window; a geometry identical to the last
// acknowledged one is dropped without traffic.

func (m *Manager) handleResizeRequest(g protocol.Geometry) {
	if g.Cols <= 0 || g.Rows <= 0 {
		return
	}
	m.currentGeometry = g
	m.pendingGeometry = &g
	m.armTimer(timerDebounce, m.resizeDebounce)
}

func (m *Manager) handleDebounceFired() {
	pending := m.pendingGeometry
	m.pendingGeometry = nil
	if pending == nil {
		return
	}
	if m.state != StateConnected || m.ch == nil {
		// Dropped: after a reconnect the connected handler re-issues the
		// current geometry explicitly.
		return
	}
	if *pending == m.lastAcked {
		return
	}
	m.sendResize(*pending)
}

// sendResize writes the resize message and records the acknowledged geometry
// only after the send actually happened.
func (m *Manager) sendResize(g protocol.Geometry) {
	if m.ch == nil {
		return
	}
	if err := m.ch.Send(protocol.NewResize(g)); err != nil {
		return
	}
	m.lastAcked = g
}
