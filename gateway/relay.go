package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sintral/wagate/idgen"
	"github.com/sintral/wagate/provider"
)

const (
	defaultReconnectBase = 2 * time.Second
	defaultReconnectMax  = time.Minute
)

// Relay is the sole consumer of provider events. It translates each event
// into session transitions, buffer pushes, and webhook dispatches, and drives
// reinitialization after a disconnect with capped exponential backoff.
//
// Events are processed in arrival order. The buffer push for a message always
// completes before its webhook dispatch starts; dispatches themselves run in
// detached goroutines and may complete in any order.
type Relay struct {
	provider   provider.Provider
	session    *Session
	buffer     *Buffer
	dispatcher *Dispatcher
	logger     *slog.Logger
	audit      Auditor
	newID      idgen.Generator
	encode     func(code string) (string, error)

	reconnectBase time.Duration
	reconnectMax  time.Duration
	attempts      int // consecutive failed reconnect cycles, reset on pairing/ready

	// lifecycleCtx outlives any single event or HTTP request so that
	// reinitialization and in-flight dispatches survive short-lived contexts.
	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc
	wg              sync.WaitGroup
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets a custom logger for the relay.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = l }
}

// WithRelayAudit records lifecycle transitions to an audit log.
func WithRelayAudit(a Auditor) RelayOption {
	return func(r *Relay) { r.audit = a }
}

// WithMessageIDs sets the generator for inbound message IDs.
func WithMessageIDs(gen idgen.Generator) RelayOption {
	return func(r *Relay) { r.newID = gen }
}

// WithArtifactEncoder replaces the pairing artifact encoder. The default
// renders the pairing code as a PNG QR data URL.
func WithArtifactEncoder(encode func(code string) (string, error)) RelayOption {
	return func(r *Relay) { r.encode = encode }
}

// WithReconnectBackoff sets the base delay and cap for disconnect-triggered
// reinitialization.
func WithReconnectBackoff(base, max time.Duration) RelayOption {
	return func(r *Relay) {
		r.reconnectBase = base
		r.reconnectMax = max
	}
}

// NewRelay wires a provider to the session, buffer, and dispatcher.
func NewRelay(p provider.Provider, session *Session, buffer *Buffer, dispatcher *Dispatcher, opts ...RelayOption) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		provider:        p,
		session:         session,
		buffer:          buffer,
		dispatcher:      dispatcher,
		logger:          slog.Default(),
		newID:           idgen.Prefixed("msg_", idgen.Default),
		encode:          QRDataURL,
		reconnectBase:   defaultReconnectBase,
		reconnectMax:    defaultReconnectMax,
		lifecycleCtx:    ctx,
		lifecycleCancel: cancel,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run consumes provider events until ctx is cancelled or the provider closes
// its event stream. Call it in a goroutine.
func (r *Relay) Run(ctx context.Context) {
	events := r.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				r.logger.Info("provider event stream closed")
				return
			}
			r.handle(ev)
		}
	}
}

func (r *Relay) handle(ev provider.Event) {
	switch ev.Type {
	case provider.EventPairing:
		artifact, err := r.encode(ev.Code)
		if err != nil {
			// Fall back to the raw code: an unrenderable artifact is still
			// a pairing challenge the operator can act on.
			r.logger.Warn("pairing artifact encode failed", "error", err)
			artifact = ev.Code
		}
		r.session.TransitionTo(StatusScan, artifact)
		r.attempts = 0
		r.logger.Info("pairing challenge received")
		r.record("session_transition", string(StatusScan), "", true)

	case provider.EventReady:
		r.session.TransitionTo(StatusAuthenticated, "")
		r.attempts = 0
		r.logger.Info("provider session ready")
		r.record("session_transition", string(StatusAuthenticated), "", true)

	case provider.EventAuthenticated:
		// Informational only; the session advances on the ready event.
		r.logger.Info("provider authenticated")

	case provider.EventDisconnected:
		r.session.TransitionTo(StatusDisconnected, "")
		r.logger.Warn("provider disconnected", "reason", ev.Reason)
		r.record("session_transition", string(StatusDisconnected), ev.Reason, true)
		r.scheduleReinit()

	case provider.EventMessage:
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		msg := InboundMessage{
			ID:        r.newID(),
			From:      ev.From,
			Body:      ev.Body,
			Timestamp: ts.UnixMilli(),
		}
		r.buffer.Push(msg)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.dispatcher.Dispatch(r.lifecycleCtx, msg)
		}()
	}
}

// scheduleReinit requests provider reinitialization after a backoff delay.
// The delay doubles per consecutive disconnect up to the configured cap and
// resets once the provider emits a pairing challenge or comes back ready.
func (r *Relay) scheduleReinit() {
	delay := r.reconnectBase << r.attempts
	if delay > r.reconnectMax || delay <= 0 {
		delay = r.reconnectMax
	}
	r.attempts++

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-r.lifecycleCtx.Done():
			return
		case <-time.After(delay):
		}
		// Skip when the provider already moved the session on its own, e.g.
		// a pairing challenge that arrived right after the disconnect.
		if !r.session.TransitionIf(StatusDisconnected, StatusLoading) {
			return
		}
		r.initialize()
	}()
}

// RequestReinit transitions the session to loading and asks the provider to
// reinitialize, asynchronously. Errors are logged, never surfaced: the
// session does not advance until the provider emits a new pairing challenge
// or ready event.
func (r *Relay) RequestReinit() {
	r.session.TransitionTo(StatusLoading, "")
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.initialize()
	}()
}

func (r *Relay) initialize() {
	if err := r.provider.Initialize(r.lifecycleCtx); err != nil {
		r.logger.Error("provider reinitialization failed", "error", err)
		r.record("reinitialize", "", err.Error(), false)
		return
	}
	r.record("reinitialize", "", "", true)
}

func (r *Relay) record(eventType, entity, detail string, success bool) {
	if r.audit != nil {
		r.audit.Record(r.lifecycleCtx, eventType, entity, detail, success)
	}
}

// Close cancels the lifecycle context and waits for in-flight dispatches and
// scheduled reinitializations to finish.
func (r *Relay) Close() {
	r.lifecycleCancel()
	r.wg.Wait()
}
