package protocol

import "testing"

func TestClassifyAuthErrors(t *testing.T) {
	messages := []string{
		"Permission denied (publickey,password)",
		"ssh: unable to authenticate",
		"Invalid password",
		"AUTH FAILED",
		"incorrect credentials",
	}
	for _, m := range messages {
		if got := ClassifyError(m); got != ErrorClassAuth {
			t.Errorf("ClassifyError(%q) = %v, want auth", m, got)
		}
	}
}

func TestClassifyConnectivityErrors(t *testing.T) {
	messages := []string{
		"connection reset by peer",
		"i/o timeout",
		"network is unreachable",
	}
	for _, m := range messages {
		if got := ClassifyError(m); got != ErrorClassConnectivity {
			t.Errorf("ClassifyError(%q) = %v, want connectivity", m, got)
		}
	}
}

func TestClassifyOther(t *testing.T) {
	if got := ClassifyError("shell exited with status 1"); got != ErrorClassOther {
		t.Errorf("ClassifyError = %v, want other", got)
	}
}

func TestAuthTakesPrecedenceOverConnectivity(t *testing.T) {
	// "failed" is an auth keyword even when a connectivity keyword is present.
	if got := ClassifyError("connection failed: bad credentials"); got != ErrorClassAuth {
		t.Errorf("ClassifyError = %v, want auth", got)
	}
}
