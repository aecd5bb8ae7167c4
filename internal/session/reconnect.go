package session

import (
	"fmt"
	"time"
)

// Reconnection controller. Only network/timeout failures reach this path:
// authentication failures, remote clean disconnects and explicit closes all
// bypass it through closeSession.

// backoffDelay is the wait before retry attempt n (1-based): 2s, 4s, 6s.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

// maybeReconnect enters the Reconnecting state if nothing forbids it, bumps
// the attempt counter and schedules the next open. Reaching the attempt
// ceiling is fatal and reported exactly once.
func (m *Manager) maybeReconnect() {
	if m.suppressReconnect || m.reconnecting {
		return
	}
	if m.state == StateClosing || m.state == StateClosed {
		return
	}

	next := m.reconnectAttempt + 1
	if next > maxReconnectAttempts {
		m.setAttempt(maxReconnectAttempts)
		m.notify(Notice{
			Code:    NoticeMaxAttemptsReached,
			Message: fmt.Sprintf("giving up after %d reconnect attempts", maxReconnectAttempts),
		})
		m.closeSession(ReasonRetriesExhausted)
		return
	}

	m.setAttempt(next)
	m.reconnecting = true
	delay := backoffDelay(m.backoffBase, next)
	m.notify(Notice{
		Code:        NoticeReconnecting,
		Message:     fmt.Sprintf("connection lost, reconnecting (attempt %d of %d)", next, maxReconnectAttempts),
		Attempt:     next,
		MaxAttempts: maxReconnectAttempts,
	})
	m.log.Info().Int("attempt", next).Dur("delay", delay).Msg("reconnect scheduled")
	m.armTimer(timerBackoff, delay)
}

// handleBackoffFired runs when a scheduled retry comes due. Suppression is
// re-checked: the session may have been hidden, closed or torn down while the
// timer was pending.
func (m *Manager) handleBackoffFired() {
	m.reconnecting = false
	if m.suppressReconnect || !m.visible {
		return
	}
	if m.state != StateIdle {
		return
	}
	m.cfg.Screen.Clear()
	m.openChannel()
}
