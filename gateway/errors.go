package gateway

import "fmt"

// ErrNotReady is returned when an action requires an authenticated provider
// session and the session is in any other state.
type ErrNotReady struct {
	Status Status
}

func (e *ErrNotReady) Error() string {
	return fmt.Sprintf("gateway: session not ready (status: %s)", e.Status)
}

// ErrDispatchFailed wraps a failed webhook delivery attempt. It is logged
// and audited, never surfaced to an HTTP caller.
type ErrDispatchFailed struct {
	URL   string
	Cause error
}

func (e *ErrDispatchFailed) Error() string {
	return fmt.Sprintf("gateway: webhook dispatch to %s failed: %v", e.URL, e.Cause)
}

func (e *ErrDispatchFailed) Unwrap() error { return e.Cause }
