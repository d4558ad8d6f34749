// Package gateway implements the core of the WhatsApp HTTP gateway: the
// provider session state machine, the bounded inbound-message buffer, the
// fire-and-forget webhook dispatcher, and the relay that translates provider
// events into state mutations.
//
// The package never talks to the messaging provider directly except through
// the provider.Provider capability interface; the Relay is the only component
// that consumes provider events, keeping provider vocabulary out of the
// session and the HTTP layer.
//
//	sess := gateway.NewSession()
//	buf := gateway.NewBuffer(50)
//	disp := gateway.NewDispatcher(sess, gateway.WithDispatchLogger(logger))
//	relay := gateway.NewRelay(prov, sess, buf, disp, gateway.WithRelayLogger(logger))
//	go relay.Run(ctx)
package gateway

import "context"

// InboundMessage is a provider-normalized inbound message as stored in the
// buffer and delivered to the webhook. Immutable once created.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Auditor records gateway lifecycle events. The observability package
// provides the SQLite-backed implementation; a nil Auditor disables auditing.
type Auditor interface {
	Record(ctx context.Context, eventType, entity, detail string, success bool)
}
