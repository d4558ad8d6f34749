package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sintral/wagate/safeio"
)

const defaultDispatchTimeout = 10 * time.Second

// Dispatcher performs fire-and-forget webhook deliveries. Each Dispatch is a
// single attempt: failures are logged, counted, and discarded — there is no
// retry, no queue, and no signal back to the event path that triggered it.
//
// Dispatch holds no lock shared with session or buffer reads; the webhook URL
// is read once up front and the delivery happens on a private HTTP client.
type Dispatcher struct {
	session  *Session
	client   *http.Client
	logger   *slog.Logger
	validate func(string) error
	audit    Auditor
	failures atomic.Uint64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets a custom logger for the dispatcher.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDispatchTimeout bounds each delivery attempt. A hung webhook endpoint
// must never pin a dispatch goroutine forever.
func WithDispatchTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.client.Timeout = timeout }
}

// WithURLValidator replaces the outbound URL safety check. Pass nil to
// disable it (tests deliver to loopback httptest servers).
func WithURLValidator(validate func(string) error) DispatcherOption {
	return func(d *Dispatcher) { d.validate = validate }
}

// WithDispatchAudit records dispatch failures to an audit log.
func WithDispatchAudit(a Auditor) DispatcherOption {
	return func(d *Dispatcher) { d.audit = a }
}

// NewDispatcher creates a dispatcher that reads its target URL from the
// session at dispatch time.
func NewDispatcher(session *Session, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		session:  session,
		client:   &http.Client{Timeout: defaultDispatchTimeout},
		logger:   slog.Default(),
		validate: safeio.ValidateURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Failures returns the number of failed delivery attempts since start.
func (d *Dispatcher) Failures() uint64 {
	return d.failures.Load()
}

// Dispatch delivers msg to the registered webhook URL. No-op when no URL is
// set. Any failure is terminal for this attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, msg InboundMessage) {
	url := d.session.WebhookURL()
	if url == "" {
		return
	}

	if err := d.deliver(ctx, url, msg); err != nil {
		d.failures.Add(1)
		d.logger.Error("webhook dispatch failed",
			"url", url, "message_id", msg.ID, "error", err)
		if d.audit != nil {
			d.audit.Record(ctx, "webhook_dispatch", msg.ID, err.Error(), false)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, url string, msg InboundMessage) error {
	if d.validate != nil {
		if err := d.validate(url); err != nil {
			return &ErrDispatchFailed{URL: url, Cause: err}
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return &ErrDispatchFailed{URL: url, Cause: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &ErrDispatchFailed{URL: url, Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &ErrDispatchFailed{URL: url, Cause: err}
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ErrDispatchFailed{URL: url, Cause: fmt.Errorf("webhook returned %d", resp.StatusCode)}
	}
	return nil
}
