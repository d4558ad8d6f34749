// Package provider defines the messaging-provider capability boundary and
// its WhatsApp implementation.
//
// The gateway core only sees this interface: an event stream plus the four
// operations it needs (initialize, send text, send media, close). Everything
// protocol-specific — device pairing, encryption, media upload — stays behind
// it.
package provider

import (
	"context"
	"time"
)

// EventType discriminates provider lifecycle and message events.
type EventType string

const (
	// EventPairing carries a fresh pairing challenge in Code.
	EventPairing EventType = "pairing"
	// EventReady means the session is connected and usable.
	EventReady EventType = "ready"
	// EventAuthenticated is informational: credentials were accepted.
	// The session is not usable until EventReady.
	EventAuthenticated EventType = "authenticated"
	// EventDisconnected means the session was lost; Reason explains why.
	EventDisconnected EventType = "disconnected"
	// EventMessage carries an inbound message in From/Body/Timestamp.
	EventMessage EventType = "message"
)

// Event is a single provider event. Only the fields relevant to the Type
// are populated.
type Event struct {
	Type      EventType
	Code      string    // pairing challenge payload
	Reason    string    // disconnect reason
	From      string    // inbound message sender
	Body      string    // inbound message text
	Timestamp time.Time // inbound message receive time
}

// Provider is the opaque messaging capability the gateway is built around.
//
// Events returns the provider's event stream; the stream goes quiet once the
// provider is closed (implementations may or may not close the channel).
// Initialize starts or restarts the connection and may be called again after
// a disconnect. Send operations fail when the session is not ready.
type Provider interface {
	Initialize(ctx context.Context) error
	Events() <-chan Event
	SendText(ctx context.Context, number, text string) error
	SendMedia(ctx context.Context, number string, data []byte, mimeType, caption string) error
	Close() error
}
