package gateway

import "sync"

// Status is the connection status of the provider session.
type Status string

const (
	StatusLoading       Status = "loading"       // starting up or reinitializing
	StatusScan          Status = "scan"          // awaiting pairing, artifact present
	StatusAuthenticated Status = "authenticated" // session ready
	StatusDisconnected  Status = "disconnected"  // session lost
)

// Session is the process-wide record of the provider session: connection
// status, current pairing artifact, and webhook target. The Relay owns
// status/artifact mutations; the HTTP layer owns the webhook URL. Reads may
// happen from any goroutine.
type Session struct {
	mu       sync.RWMutex
	status   Status
	artifact string
	webhook  string
}

// NewSession creates a Session in the loading state.
func NewSession() *Session {
	return &Session{status: StatusLoading}
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// PairingArtifact returns the current pairing artifact, or "" when the
// session is not awaiting pairing.
func (s *Session) PairingArtifact() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact
}

// WebhookURL returns the registered webhook target, or "" when unset.
func (s *Session) WebhookURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhook
}

// SetWebhookURL registers the webhook target for inbound message delivery.
func (s *Session) SetWebhookURL(url string) {
	s.mu.Lock()
	s.webhook = url
	s.mu.Unlock()
}

// TransitionTo records a status transition claimed by the provider. No
// transition is rejected: the provider is the source of truth. The pairing
// artifact is stored on a transition to scan (a fresh artifact always
// replaces the previous one) and cleared on any other transition.
func (s *Session) TransitionTo(next Status, artifact string) {
	s.mu.Lock()
	s.status = next
	if next == StatusScan {
		s.artifact = artifact
	} else {
		s.artifact = ""
	}
	s.mu.Unlock()
}

// TransitionIf atomically performs TransitionTo only when the current status
// equals from. Returns whether the transition happened. Used by the relay so
// that a delayed reinitialization does not stomp a pairing challenge that
// arrived in the meantime.
func (s *Session) TransitionIf(from, next Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from {
		return false
	}
	s.status = next
	if next != StatusScan {
		s.artifact = ""
	}
	return true
}
