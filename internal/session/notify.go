package session

// NoticeCode identifies a user-facing connectivity event. Every state
// transition that affects connectivity produces exactly one notice; a close
// that follows an already-reported error is not re-announced.
type NoticeCode int

const (
	NoticeConnecting NoticeCode = iota
	NoticeConnected
	NoticeReconnecting
	NoticeReconnected
	NoticeAuthFailed
	NoticeConnectTimeout
	NoticeMaxAttemptsReached
	NoticeRemoteDisconnected
	NoticeError
	NoticeTOTPPrompt
)

func (c NoticeCode) String() string {
	switch c {
	case NoticeConnecting:
		return "connecting"
	case NoticeConnected:
		return "connected"
	case NoticeReconnecting:
		return "reconnecting"
	case NoticeReconnected:
		return "reconnected"
	case NoticeAuthFailed:
		return "auth_failed"
	case NoticeConnectTimeout:
		return "connect_timeout"
	case NoticeMaxAttemptsReached:
		return "max_attempts_reached"
	case NoticeRemoteDisconnected:
		return "remote_disconnected"
	case NoticeError:
		return "error"
	case NoticeTOTPPrompt:
		return "totp_prompt"
	default:
		return "unknown"
	}
}

// Notice is one user-facing notification. Attempt and MaxAttempts are only
// set for NoticeReconnecting.
type Notice struct {
	Code        NoticeCode
	Message     string
	Attempt     int
	MaxAttempts int
}

// Notifier receives user-facing notices. Implementations must not block; the
// session event loop calls Notify inline.
type Notifier interface {
	Notify(n Notice)
}

// NopNotifier discards all notices.
type NopNotifier struct{}

func (NopNotifier) Notify(Notice) {}
