package webrtcpeer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/pairmeet/pairmeet/internal/session"
)

// Config describes one peer's media intent, shared by every negotiation
// attempt created through the same factory.
type Config struct {
	ICEServers []webrtc.ICEServer

	// LocalTracks are published to the remote side. When empty, recvonly
	// audio and video transceivers are negotiated so the remote stream still
	// flows one way.
	LocalTracks []webrtc.TrackLocal

	// OnTrack is invoked for each inbound remote track, off the orchestrator
	// loop. Optional.
	OnTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// NewFactory returns a NegotiatorFactory producing pion-backed peers. One
// Peer maps to one PeerConnection; the orchestrator discards and recreates
// peers rather than renegotiating.
func NewFactory(api *webrtc.API, cfg Config, logger *slog.Logger) session.NegotiatorFactory {
	return func(peerID string, events chan<- session.NegotiatorEvent) (session.Negotiator, error) {
		return newPeer(api, cfg, logger.With("peer", peerID), events)
	}
}

// Peer implements session.Negotiator over a single webrtc.PeerConnection.
type Peer struct {
	log     *slog.Logger
	pc      *webrtc.PeerConnection
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	events    chan<- session.NegotiatorEvent
	mediaOnce sync.Once
	closeOnce sync.Once

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit // buffered until the remote description lands
}

func newPeer(api *webrtc.API, cfg Config, logger *slog.Logger, events chan<- session.NegotiatorEvent) (*Peer, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	p := &Peer{log: logger, pc: pc, onTrack: cfg.OnTrack, events: events}

	if len(cfg.LocalTracks) > 0 {
		for _, track := range cfg.LocalTracks {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add local track: %w", err)
			}
		}
	} else {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End of gathering.
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			p.log.Warn("marshal candidate", "err", err)
			return
		}
		p.emit(session.NegotiatorEvent{Kind: session.NegotiatorLocalCandidate, Payload: payload})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.log.Info("remote track", "kind", track.Kind().String(), "id", track.ID())
		p.mediaOnce.Do(func() {
			p.emit(session.NegotiatorEvent{Kind: session.NegotiatorMediaReady})
		})
		if p.onTrack != nil {
			p.onTrack(track, receiver)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			// With recvonly intent there may never be an inbound track; a
			// completed DTLS handshake still means the media path is up.
			p.mediaOnce.Do(func() {
				p.emit(session.NegotiatorEvent{Kind: session.NegotiatorMediaReady})
			})
		case webrtc.PeerConnectionStateFailed:
			p.emit(session.NegotiatorEvent{
				Kind: session.NegotiatorFatal,
				Err:  fmt.Errorf("peer connection failed"),
			})
		}
	})

	return p, nil
}

func (p *Peer) StartOffer(ctx context.Context) error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	payload, err := json.Marshal(p.pc.LocalDescription())
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}
	p.emit(session.NegotiatorEvent{Kind: session.NegotiatorLocalOffer, Payload: payload})
	return nil
}

func (p *Peer) HandleOffer(ctx context.Context, offer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	p.flushPending()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	payload, err := json.Marshal(p.pc.LocalDescription())
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	p.emit(session.NegotiatorEvent{Kind: session.NegotiatorLocalAnswer, Payload: payload})
	return nil
}

func (p *Peer) HandleAnswer(answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	p.flushPending()
	return nil
}

func (p *Peer) AddCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	// Candidates can outrun the answer in transit; hold them until the remote
	// description is in place.
	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (p *Peer) flushPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, init := range pending {
		if err := p.pc.AddICECandidate(init); err != nil {
			p.log.Warn("buffered candidate rejected", "err", err)
		}
	}
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
	})
	return err
}

func (p *Peer) emit(ev session.NegotiatorEvent) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn("negotiator event dropped", "kind", ev.Kind.String())
	}
}
