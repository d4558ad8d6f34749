package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sintral/wagate/provider"
)

// fakeProvider feeds scripted events to the relay.
type fakeProvider struct {
	events    chan provider.Event
	initCalls atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: make(chan provider.Event, 16)}
}

func (p *fakeProvider) Initialize(context.Context) error {
	p.initCalls.Add(1)
	return nil
}

func (p *fakeProvider) Events() <-chan provider.Event { return p.events }

func (p *fakeProvider) SendText(context.Context, string, string) error { return nil }

func (p *fakeProvider) SendMedia(context.Context, string, []byte, string, string) error {
	return nil
}

func (p *fakeProvider) Close() error {
	close(p.events)
	return nil
}

func startRelay(t *testing.T, p *fakeProvider, opts ...RelayOption) (*Relay, *Session, *Buffer) {
	t.Helper()
	session := NewSession()
	buffer := NewBuffer(50)
	dispatcher := NewDispatcher(session, WithURLValidator(nil))

	relay := NewRelay(p, session, buffer, dispatcher, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		relay.Close()
	})
	return relay, session, buffer
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayPairingChallenge(t *testing.T) {
	p := newFakeProvider()
	_, session, _ := startRelay(t, p)

	p.events <- provider.Event{Type: provider.EventPairing, Code: "2@pairing-code"}
	waitFor(t, func() bool { return session.Status() == StatusScan }, "session never reached scan")

	artifact := session.PairingArtifact()
	if !strings.HasPrefix(artifact, "data:image/png;base64,") {
		t.Errorf("artifact = %q, want PNG data URL", artifact)
	}
}

func TestRelayReadyTransition(t *testing.T) {
	p := newFakeProvider()
	_, session, _ := startRelay(t, p)

	p.events <- provider.Event{Type: provider.EventPairing, Code: "2@code"}
	p.events <- provider.Event{Type: provider.EventReady}
	waitFor(t, func() bool { return session.Status() == StatusAuthenticated }, "session never authenticated")
	if session.PairingArtifact() != "" {
		t.Error("artifact survived authentication")
	}
}

func TestRelayDisconnectTriggersReinit(t *testing.T) {
	p := newFakeProvider()
	_, session, _ := startRelay(t, p, WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond))

	p.events <- provider.Event{Type: provider.EventReady}
	waitFor(t, func() bool { return session.Status() == StatusAuthenticated }, "never ready")

	p.events <- provider.Event{Type: provider.EventDisconnected, Reason: "stream error"}
	waitFor(t, func() bool { return p.initCalls.Load() >= 1 }, "provider never reinitialized")
	if session.Status() != StatusLoading {
		t.Errorf("status = %q, want loading", session.Status())
	}
}

func TestRelayPairingBeatsDelayedReinit(t *testing.T) {
	p := newFakeProvider()
	_, session, _ := startRelay(t, p, WithReconnectBackoff(30*time.Millisecond, 100*time.Millisecond))

	p.events <- provider.Event{Type: provider.EventDisconnected, Reason: "logged out"}
	p.events <- provider.Event{Type: provider.EventPairing, Code: "2@fresh"}
	waitFor(t, func() bool { return session.Status() == StatusScan }, "never reached scan")

	// Let the scheduled reinit fire; it must not stomp the pairing state.
	time.Sleep(80 * time.Millisecond)
	if session.Status() != StatusScan {
		t.Errorf("status = %q, want scan", session.Status())
	}
	if p.initCalls.Load() != 0 {
		t.Errorf("initCalls = %d, want 0", p.initCalls.Load())
	}
}

func TestRelayBuffersAndDispatchesMessages(t *testing.T) {
	var delivered atomic.Int32
	var got InboundMessage
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		delivered.Add(1)
	}))
	defer hook.Close()

	p := newFakeProvider()
	_, session, buffer := startRelay(t, p)
	session.SetWebhookURL(hook.URL)

	ts := time.UnixMilli(1700000000000)
	p.events <- provider.Event{Type: provider.EventMessage, From: "123@s.whatsapp.net", Body: "hello", Timestamp: ts}

	waitFor(t, func() bool { return delivered.Load() == 1 }, "webhook never delivered")
	if got.Body != "hello" || got.From != "123@s.whatsapp.net" || got.Timestamp != 1700000000000 {
		t.Errorf("delivered %+v", got)
	}
	if got.ID == "" {
		t.Error("message delivered without an id")
	}

	msgs := buffer.Snapshot(0)
	if len(msgs) != 1 || msgs[0].ID != got.ID {
		t.Errorf("buffer = %+v, delivery id = %q", msgs, got.ID)
	}
}

func TestRelayMessageTimestampFallback(t *testing.T) {
	p := newFakeProvider()
	_, _, buffer := startRelay(t, p)

	before := time.Now().UnixMilli()
	p.events <- provider.Event{Type: provider.EventMessage, From: "123", Body: "no ts"}
	waitFor(t, func() bool { return buffer.Len() == 1 }, "message never buffered")

	ts := buffer.Snapshot(1)[0].Timestamp
	if ts < before || ts > time.Now().UnixMilli() {
		t.Errorf("timestamp %d outside [%d, now]", ts, before)
	}
}

func TestRelayRequestReinit(t *testing.T) {
	p := newFakeProvider()
	relay, session, _ := startRelay(t, p)

	p.events <- provider.Event{Type: provider.EventReady}
	waitFor(t, func() bool { return session.Status() == StatusAuthenticated }, "never ready")

	relay.RequestReinit()
	if session.Status() != StatusLoading {
		t.Fatalf("status = %q, want loading", session.Status())
	}
	waitFor(t, func() bool { return p.initCalls.Load() == 1 }, "provider never reinitialized")
}

func TestRelayStopsWhenEventStreamCloses(t *testing.T) {
	p := newFakeProvider()
	session := NewSession()
	buffer := NewBuffer(50)
	relay := NewRelay(p, session, buffer, NewDispatcher(session, WithURLValidator(nil)))

	done := make(chan struct{})
	go func() {
		relay.Run(context.Background())
		close(done)
	}()

	p.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay kept running after event stream closed")
	}
	relay.Close()
}
