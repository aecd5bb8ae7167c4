package protocol

import "strings"

// ErrorClass partitions inbound error messages into the three handling
// policies of the session core.
type ErrorClass int

const (
	// ErrorClassOther errors are surfaced as a non-fatal notice; the session
	// stays connected.
	ErrorClassOther ErrorClass = iota
	// ErrorClassAuth errors are fatal: the session is marked non-retryable
	// and torn down.
	ErrorClassAuth
	// ErrorClassConnectivity errors are retryable up to the reconnect bound.
	ErrorClassConnectivity
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassAuth:
		return "auth"
	case ErrorClassConnectivity:
		return "connectivity"
	default:
		return "other"
	}
}

var authKeywords = []string{
	"auth", "password", "permission", "denied", "invalid", "failed", "incorrect",
}

var connectivityKeywords = []string{
	"connection", "timeout", "network",
}

// ClassifyError inspects an error message and assigns a handling class by
// case-insensitive substring match. Authentication keywords take precedence
// over connectivity keywords; anything else is ErrorClassOther.
func ClassifyError(message string) ErrorClass {
	lower := strings.ToLower(message)
	for _, kw := range authKeywords {
		if strings.Contains(lower, kw) {
			return ErrorClassAuth
		}
	}
	for _, kw := range connectivityKeywords {
		if strings.Contains(lower, kw) {
			return ErrorClassConnectivity
		}
	}
	return ErrorClassOther
}
