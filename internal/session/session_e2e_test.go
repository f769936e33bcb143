package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pairmeet/pairmeet/internal/config"
	"github.com/pairmeet/pairmeet/internal/metrics"
	"github.com/pairmeet/pairmeet/internal/relay"
	"github.com/pairmeet/pairmeet/internal/rooms"
)

// startTestRelay spins up a real relay over httptest and returns its ws://
// endpoint plus the registry for membership assertions.
func startTestRelay(t *testing.T) (string, *rooms.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		WSIdleTimeout:        10 * time.Second,
		WSPingInterval:       3 * time.Second,
		MaxMessageBytes:      config.DefaultMaxMessageBytes,
		MaxMessagesPerSecond: config.DefaultMaxMessagesPerSecond,
		SendQueueSize:        config.DefaultSendQueueSize,
	}
	registry := rooms.New()
	srv := relay.NewServer(cfg, logger, registry, metrics.New())
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", registry
}

// scriptedFactory builds primitives that complete a negotiation without any
// real media stack: the initiator emits an offer on StartOffer and reports
// media on HandleAnswer; the responder answers the offer and reports media
// straight away.
func scriptedFactory() *fakeFactory {
	return &fakeFactory{configure: func(n *fakeNegotiator) {
		n.onStartOffer = func(n *fakeNegotiator) {
			n.emit(NegotiatorEvent{Kind: NegotiatorLocalOffer, Payload: json.RawMessage(`{"type":"offer","sdp":"i"}`)})
		}
		n.onHandleOffer = func(n *fakeNegotiator, _ json.RawMessage) {
			n.emit(NegotiatorEvent{Kind: NegotiatorLocalAnswer, Payload: json.RawMessage(`{"type":"answer","sdp":"r"}`)})
			n.emit(NegotiatorEvent{Kind: NegotiatorMediaReady})
		}
		n.onAnswer = func(n *fakeNegotiator, _ json.RawMessage) {
			n.emit(NegotiatorEvent{Kind: NegotiatorMediaReady})
		}
	}}
}

func startClient(t *testing.T, ctx context.Context, wsURL string, factory *fakeFactory) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr, err := Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	o := New(logger, tr, factory.New)
	go func() { _ = o.Run(ctx) }()
	return o
}

// Runs two orchestrators against a real relay with scripted negotiation
// primitives, checking role assignment and the full signal round trip.
func TestTwoOrchestratorsNegotiateThroughRelay(t *testing.T) {
	wsURL, _ := startTestRelay(t)
	factory := scriptedFactory()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := startClient(t, ctx, wsURL, factory)
	a.Join("E2E")
	expectState(t, a, StateConnecting)

	b := startClient(t, ctx, wsURL, factory)
	b.Join("e2e") // key normalization pairs them anyway
	expectState(t, b, StateConnecting)

	ua := expectState(t, a, StateConnected)
	ub := expectState(t, b, StateConnected)
	if ua.Peer == "" || ub.Peer == "" || ua.Peer == ub.Peer {
		t.Fatalf("peer bindings a=%q b=%q", ua.Peer, ub.Peer)
	}

	// Exactly one side initiated and exactly one responded.
	if got := factory.count(); got != 2 {
		t.Fatalf("primitives created=%d, want 2", got)
	}
	factory.mu.Lock()
	first, second := factory.created[0], factory.created[1]
	factory.mu.Unlock()
	roles := map[string]int{}
	for _, n := range []*fakeNegotiator{first, second} {
		select {
		case call := <-n.calls:
			roles[call]++
		case <-time.After(5 * time.Second):
			t.Fatalf("primitive never called")
		}
	}
	if roles["start_offer"] != 1 || roles["handle_offer"] != 1 {
		t.Fatalf("role split %v, want one initiator and one responder", roles)
	}

	// One side leaves; the other observes a departure, not an error.
	a.Disconnect()
	expectState(t, a, StateIdle)
	u := expectState(t, b, StateDisconnected)
	if u.Err != nil {
		t.Fatalf("departure surfaced error: %v", u.Err)
	}
}

// After a peer departs, the survivor's connection is still a member of the
// old room on the relay. A rejoin into a different room must actually land
// there and pair with a new arrival.
func TestRejoinIntoNewRoomThroughRelay(t *testing.T) {
	wsURL, registry := startTestRelay(t)
	factory := scriptedFactory()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := startClient(t, ctx, wsURL, factory)
	a.Join("OLD")
	expectState(t, a, StateConnecting)

	b := startClient(t, ctx, wsURL, factory)
	b.Join("OLD")
	expectState(t, b, StateConnecting)
	expectState(t, a, StateConnected)
	expectState(t, b, StateConnected)

	b.Disconnect()
	expectState(t, b, StateIdle)
	if u := expectState(t, a, StateDisconnected); u.Err != nil {
		t.Fatalf("departure surfaced error: %v", u.Err)
	}

	a.Join("NEW")
	expectState(t, a, StateConnecting)

	c := startClient(t, ctx, wsURL, factory)
	c.Join("NEW")
	expectState(t, c, StateConnecting)

	ua := expectState(t, a, StateConnected)
	uc := expectState(t, c, StateConnected)
	if ua.Peer == "" || uc.Peer == "" || ua.Peer == uc.Peer {
		t.Fatalf("peer bindings a=%q c=%q", ua.Peer, uc.Peer)
	}

	if got := registry.Members("OLD"); len(got) != 0 {
		t.Fatalf("stale membership in OLD: %v", got)
	}
	if got := len(registry.Members("NEW")); got != 2 {
		t.Fatalf("NEW membership=%d, want 2", got)
	}
}
