package session

import "github.com/Termix-SSH/Termix-sub004/internal/protocol"

// Second-factor challenge handler: Dormant → AwaitingCode → Resolved. While a
// code is awaited the pipeline is paused — the connection-establishment
// timeout is cancelled because the remote side is legitimately waiting on the
// user, not stalled. Inbound error/disconnected events during this window are
// still handled normally (challenge abandonment).

func (m *Manager) handleChallenge(prompt string) {
	if m.state != StateAwaitingRemoteConfirm && m.state != StateConnected {
		return
	}
	m.disarmTimer(timerConnect)
	m.challenge = challengeAwaitingCode
	m.notify(Notice{Code: NoticeTOTPPrompt, Message: prompt})
	m.log.Info().Msg("second-factor challenge received")
}

func (m *Manager) handleSubmitCode(code string) {
	if m.challenge != challengeAwaitingCode || m.ch == nil {
		return
	}
	// The code is transient: sent once, never stored on the handle.
	_ = m.ch.Send(protocol.NewTOTPResponse(code))
	m.challenge = challengeResolved
}

func (m *Manager) handleCancelChallenge() {
	if m.challenge != challengeAwaitingCode {
		return
	}
	m.challenge = challengeDormant
	m.closeSession(ReasonChallengeCancelled)
}
