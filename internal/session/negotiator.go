package session

import (
	"context"
	"encoding/json"
)

// NegotiatorEventKind tags events emitted by a negotiation primitive.
type NegotiatorEventKind int

const (
	// NegotiatorLocalOffer through NegotiatorLocalCandidate carry payloads the
	// orchestrator must relay to the remote peer.
	NegotiatorLocalOffer NegotiatorEventKind = iota
	NegotiatorLocalAnswer
	NegotiatorLocalCandidate

	// NegotiatorMediaReady fires once the remote media stream is flowing.
	NegotiatorMediaReady

	// NegotiatorFatal reports an unrecoverable failure; Err holds the cause.
	NegotiatorFatal
)

func (k NegotiatorEventKind) String() string {
	switch k {
	case NegotiatorLocalOffer:
		return "local_offer"
	case NegotiatorLocalAnswer:
		return "local_answer"
	case NegotiatorLocalCandidate:
		return "local_candidate"
	case NegotiatorMediaReady:
		return "media_ready"
	case NegotiatorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// NegotiatorEvent is a single asynchronous notification from a negotiation
// primitive. Payload is set for the three local-signal kinds, Err for Fatal.
type NegotiatorEvent struct {
	Kind    NegotiatorEventKind
	Payload json.RawMessage
	Err     error
}

// Negotiator is the opaque peer-connection primitive the orchestrator drives.
// Implementations push asynchronous output through the event channel handed to
// the factory; the orchestrator consumes those events one at a time, so
// implementations never need to serialize their own callbacks.
//
// Close must release the underlying transport resources before returning, so
// that a fresh negotiation started afterwards cannot receive stale traffic.
type Negotiator interface {
	// StartOffer begins negotiation from the initiating side. The resulting
	// offer (and any candidates) arrive as events, not return values.
	StartOffer(ctx context.Context) error

	// HandleOffer ingests a remote offer on the responding side; the generated
	// answer arrives as an event.
	HandleOffer(ctx context.Context, offer json.RawMessage) error

	// HandleAnswer ingests the remote answer on the initiating side.
	HandleAnswer(answer json.RawMessage) error

	// AddCandidate ingests a remote connectivity candidate. Candidates may
	// keep arriving after media is already flowing.
	AddCandidate(candidate json.RawMessage) error

	Close() error
}

// NegotiatorFactory builds a fresh primitive bound to one remote peer. The
// implementation must deliver all asynchronous output on events and must not
// block on sends; the orchestrator guarantees a buffered, drained channel for
// the lifetime of the primitive.
type NegotiatorFactory func(peerID string, events chan<- NegotiatorEvent) (Negotiator, error)
