// Package protocol defines the wire messages exchanged between a participant
// and the rendezvous relay.
//
// The relay treats negotiation payloads (offer/answer/ice-candidate bodies) as
// opaque JSON; only the envelope is parsed and validated here. Everything
// downstream works with the explicit tagged union decided at this boundary.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Kind tags a Message. Wire names match the original rendezvous protocol.
type Kind string

const (
	// Client -> relay.
	KindJoinRoom  Kind = "join-room"
	KindLeaveRoom Kind = "leave-room"

	// Relay -> client room lifecycle events.
	KindJoinedRoom       Kind = "joined-room"
	KindRoomFull         Kind = "room-full"
	KindUserConnected    Kind = "user-connected"
	KindUserDisconnected Kind = "user-disconnected"

	// Negotiation messages, relayed verbatim in both directions.
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

// Message is the JSON envelope for every frame on the signaling connection.
//
// Exactly one payload field is populated per Kind; Validate enforces this so a
// malformed frame is rejected at the boundary instead of surfacing as a nil
// dereference in routing code.
type Message struct {
	Type Kind `json:"type"`

	// Room carries the room key for join-room/joined-room.
	Room string `json:"room,omitempty"`

	// Peer carries the participant ID for user-connected/user-disconnected.
	Peer string `json:"peer,omitempty"`

	// To addresses an outbound negotiation message; the relay replaces it with
	// From before delivery so the receiver learns provenance, not routing.
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`

	// Opaque negotiation payloads. The relay never inspects these.
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// IsSignal reports whether k is one of the three relayed negotiation kinds.
func IsSignal(k Kind) bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// Parse decodes and validates a single wire frame.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m Message) Validate() error {
	switch m.Type {
	case KindJoinRoom:
		// Room keys are normalized by trimming; a whitespace-only key would
		// normalize to nothing, so reject it here rather than leaving the
		// sender waiting for a reply that never comes.
		if strings.TrimSpace(m.Room) == "" {
			return fmt.Errorf("join-room message missing room")
		}
		if m.Peer != "" || m.To != "" || m.From != "" || m.hasPayload() {
			return fmt.Errorf("join-room message has unexpected fields")
		}
	case KindLeaveRoom:
		if m.Room != "" || m.Peer != "" || m.To != "" || m.From != "" || m.hasPayload() {
			return fmt.Errorf("leave-room message has unexpected fields")
		}
	case KindJoinedRoom:
		if m.Room == "" {
			return fmt.Errorf("joined-room message missing room")
		}
		if m.Peer != "" || m.To != "" || m.From != "" || m.hasPayload() {
			return fmt.Errorf("joined-room message has unexpected fields")
		}
	case KindRoomFull:
		if m.Room != "" || m.Peer != "" || m.To != "" || m.From != "" || m.hasPayload() {
			return fmt.Errorf("room-full message has unexpected fields")
		}
	case KindUserConnected, KindUserDisconnected:
		if m.Peer == "" {
			return fmt.Errorf("%s message missing peer", m.Type)
		}
		if m.Room != "" || m.To != "" || m.From != "" || m.hasPayload() {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case KindOffer, KindAnswer, KindICECandidate:
		if len(m.Payload()) == 0 {
			return fmt.Errorf("%s message missing payload", m.Type)
		}
		if m.Room != "" || m.Peer != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
		// Outbound frames carry To, delivered frames carry From; never both.
		if (m.To == "") == (m.From == "") {
			return fmt.Errorf("%s message must carry exactly one of to/from", m.Type)
		}
		if err := m.payloadExclusive(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// Payload returns the negotiation payload matching the message kind, or nil
// for non-signal kinds.
func (m Message) Payload() json.RawMessage {
	switch m.Type {
	case KindOffer:
		return m.Offer
	case KindAnswer:
		return m.Answer
	case KindICECandidate:
		return m.Candidate
	default:
		return nil
	}
}

func (m Message) hasPayload() bool {
	return len(m.Offer) > 0 || len(m.Answer) > 0 || len(m.Candidate) > 0
}

func (m Message) payloadExclusive() error {
	n := 0
	if len(m.Offer) > 0 {
		n++
	}
	if len(m.Answer) > 0 {
		n++
	}
	if len(m.Candidate) > 0 {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%s message must carry exactly one payload", m.Type)
	}
	return nil
}

// Signal constructs an outbound negotiation message addressed to a peer.
func Signal(kind Kind, to string, payload json.RawMessage) (Message, error) {
	m := Message{Type: kind, To: to}
	switch kind {
	case KindOffer:
		m.Offer = payload
	case KindAnswer:
		m.Answer = payload
	case KindICECandidate:
		m.Candidate = payload
	default:
		return Message{}, fmt.Errorf("%q is not a negotiation kind", kind)
	}
	return m, nil
}

// Deliver rewrites an inbound negotiation message for delivery: the routing
// address is replaced by the authenticated sender identity.
func Deliver(m Message, from string) Message {
	m.To = ""
	m.From = from
	return m
}
