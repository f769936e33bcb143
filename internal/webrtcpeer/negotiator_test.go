package webrtcpeer_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/pairmeet/pairmeet/internal/session"
	"github.com/pairmeet/pairmeet/internal/webrtcpeer"
)

// Two peers negotiate over a virtual network with signals shuttled directly
// between their event channels, standing in for the relay.
func TestPeersConnectOverVNet(t *testing.T) {
	const (
		cidr = "10.0.0.0/24"
		ipA  = "10.0.0.1"
		ipB  = "10.0.0.2"
	)

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipA}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipB}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	newPeer := func(n *vnet.Net, peerID string) (session.Negotiator, chan session.NegotiatorEvent) {
		t.Helper()
		api, err := newVNetAPI(n)
		if err != nil {
			t.Fatalf("new api: %v", err)
		}
		events := make(chan session.NegotiatorEvent, 64)
		factory := webrtcpeer.NewFactory(api, webrtcpeer.Config{}, logger)
		neg, err := factory(peerID, events)
		if err != nil {
			t.Fatalf("create negotiator: %v", err)
		}
		t.Cleanup(func() { _ = neg.Close() })
		return neg, events
	}

	a, eventsA := newPeer(netA, "b")
	b, eventsB := newPeer(netB, "a")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	readyA := make(chan struct{})
	readyB := make(chan struct{})
	fail := make(chan error, 2)

	// Shuttle A's output to B.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventsA:
				switch ev.Kind {
				case session.NegotiatorLocalOffer:
					if err := b.HandleOffer(ctx, ev.Payload); err != nil {
						fail <- err
						return
					}
				case session.NegotiatorLocalCandidate:
					if err := b.AddCandidate(ev.Payload); err != nil {
						fail <- err
						return
					}
				case session.NegotiatorMediaReady:
					close(readyA)
				case session.NegotiatorFatal:
					fail <- ev.Err
					return
				}
			}
		}
	}()

	// And B's back to A.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventsB:
				switch ev.Kind {
				case session.NegotiatorLocalAnswer:
					if err := a.HandleAnswer(ev.Payload); err != nil {
						fail <- err
						return
					}
				case session.NegotiatorLocalCandidate:
					if err := a.AddCandidate(ev.Payload); err != nil {
						fail <- err
						return
					}
				case session.NegotiatorMediaReady:
					close(readyB)
				case session.NegotiatorFatal:
					fail <- ev.Err
					return
				}
			}
		}
	}()

	if err := a.StartOffer(ctx); err != nil {
		t.Fatalf("start offer: %v", err)
	}

	for _, ready := range []chan struct{}{readyA, readyB} {
		select {
		case <-ready:
		case err := <-fail:
			t.Fatalf("negotiation failed: %v", err)
		case <-time.After(15 * time.Second):
			t.Fatalf("timed out waiting for media path")
		}
	}
}

func newVNetAPI(n *vnet.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}
