package session

// ChannelState is the lifecycle state of the session's underlying channel.
// Exactly one SessionHandle drives the channel at a time; a reconnect opens a
// new channel but keeps the handle and its counters.
type ChannelState int

const (
	StateIdle ChannelState = iota
	StateOpening
	StateAwaitingRemoteConfirm
	StateConnected
	StateClosing
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateAwaitingRemoteConfirm:
		return "awaiting_remote_confirm"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason says why a session terminated. All fatal outcomes funnel to the
// single OnClose callback with one of these reasons.
type CloseReason int

const (
	ReasonUserClosed CloseReason = iota
	ReasonAuthFailed
	ReasonRemoteDisconnect
	ReasonRetriesExhausted
	ReasonConnectTimeout
	ReasonChallengeCancelled
)

func (r CloseReason) String() string {
	switch r {
	case ReasonUserClosed:
		return "user_closed"
	case ReasonAuthFailed:
		return "auth_failed"
	case ReasonRemoteDisconnect:
		return "remote_disconnect"
	case ReasonRetriesExhausted:
		return "retries_exhausted"
	case ReasonConnectTimeout:
		return "connect_timeout"
	case ReasonChallengeCancelled:
		return "challenge_cancelled"
	default:
		return "unknown"
	}
}

// challengeState tracks the second-factor challenge flow.
type challengeState int

const (
	challengeDormant challengeState = iota
	challengeAwaitingCode
	challengeResolved
)
