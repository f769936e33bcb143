// Package session drives the client side of session establishment: it joins a
// room through the relay, runs the negotiation state machine against an opaque
// peer-connection primitive, and surfaces connection status to its caller.
//
// The orchestrator is event-driven: relay messages, primitive callbacks, and
// user commands all funnel into one inbox consumed by a single loop, so every
// transition happens one at a time and the machine never runs overlapping
// negotiation attempts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pairmeet/pairmeet/internal/protocol"
)

// State is the caller-visible connection state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// ErrRoomFull is surfaced when the requested room already has two members.
// There is no automatic retry; the user picks another room.
var ErrRoomFull = errors.New("room is full")

// NegotiationError wraps a fatal failure from the negotiation primitive. The
// underlying message is surfaced verbatim.
type NegotiationError struct {
	Cause error
}

func (e *NegotiationError) Error() string { return e.Cause.Error() }
func (e *NegotiationError) Unwrap() error { return e.Cause }

// Update is one state-machine transition surfaced to the caller. Err is set
// only when State is StateError.
type Update struct {
	State State
	Peer  string
	Err   error
}

const (
	inboxSize     = 32
	updatesSize   = 16
	negEventsSize = 16
)

type command int

const (
	cmdJoin command = iota + 1
	cmdDisconnect
)

// event is the single inbox union: exactly one field group is set.
type event struct {
	msg *protocol.Message

	neg    *NegotiatorEvent
	negGen int

	cmd  command
	room string

	transportErr error
}

// Orchestrator owns one session attempt at a time. Construct with New, start
// the loop with Run, then drive it with Join/Disconnect and consume Updates.
type Orchestrator struct {
	log       *slog.Logger
	transport Transport
	factory   NegotiatorFactory

	inbox   chan event
	updates chan Update
	done    chan struct{}

	closeOnce sync.Once

	// Loop-owned; never touched outside Run.
	ctx        context.Context
	state      State
	peerID     string
	negotiator Negotiator
	negGen     int
	negStop    chan struct{}
}

func New(logger *slog.Logger, transport Transport, factory NegotiatorFactory) *Orchestrator {
	return &Orchestrator{
		log:       logger,
		transport: transport,
		factory:   factory,
		inbox:     make(chan event, inboxSize),
		updates:   make(chan Update, updatesSize),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
}

// Updates delivers every state transition. The channel is buffered; a caller
// that stops draining loses the oldest transitions, never blocks the loop.
func (o *Orchestrator) Updates() <-chan Update { return o.updates }

// Join requests entry into a room. Accepted from idle and from the terminal
// disconnected/error states (a fresh attempt); ignored mid-attempt.
func (o *Orchestrator) Join(roomKey string) {
	o.post(event{cmd: cmdJoin, room: roomKey})
}

// Disconnect tears down the current attempt and returns the machine to idle.
// The negotiation primitive is released before any later join is processed.
func (o *Orchestrator) Disconnect() {
	o.post(event{cmd: cmdDisconnect})
}

func (o *Orchestrator) post(ev event) {
	select {
	case o.inbox <- ev:
	case <-o.done:
	}
}

// Run consumes events until ctx is cancelled or the transport fails. It always
// releases the negotiation primitive and the transport before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	go o.readTransport()

	defer func() {
		o.discardNegotiator()
		_ = o.transport.Close()
		o.closeOnce.Do(func() { close(o.done) })
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-o.inbox:
			if ev.transportErr != nil {
				return o.handleTransportFailure(ev.transportErr)
			}
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) readTransport() {
	for {
		msg, err := o.transport.Receive()
		if err != nil {
			o.post(event{transportErr: err})
			return
		}
		o.post(event{msg: &msg})
	}
}

func (o *Orchestrator) handle(ev event) {
	switch {
	case ev.cmd != 0:
		o.handleCommand(ev)
	case ev.msg != nil:
		o.handleRelayMessage(*ev.msg)
	case ev.neg != nil:
		o.handleNegotiatorEvent(ev)
	}
}

func (o *Orchestrator) handleCommand(ev event) {
	switch ev.cmd {
	case cmdJoin:
		switch o.state {
		case StateIdle, StateDisconnected, StateError:
		default:
			o.log.Warn("join ignored mid-attempt", "state", o.state)
			return
		}
		if strings.TrimSpace(ev.room) == "" {
			o.setError(errors.New("empty room key"))
			return
		}
		if o.state == StateDisconnected || o.state == StateError {
			// The relay keeps this connection in its old room across a peer
			// departure or a failed negotiation, and it ignores join-room from
			// a connection that is still a member somewhere. Leave first so
			// the rejoin lands; leave is idempotent on the relay.
			if err := o.transport.Send(protocol.Message{Type: protocol.KindLeaveRoom}); err != nil {
				o.setError(fmt.Errorf("send leave: %w", err))
				return
			}
		}
		o.discardNegotiator()
		o.peerID = ""
		if err := o.transport.Send(protocol.Message{Type: protocol.KindJoinRoom, Room: ev.room}); err != nil {
			o.setError(fmt.Errorf("send join: %w", err))
			return
		}
		o.setState(StateConnecting)
	case cmdDisconnect:
		o.discardNegotiator()
		o.peerID = ""
		// Best effort: the relay also detects transport-level disconnects.
		if err := o.transport.Send(protocol.Message{Type: protocol.KindLeaveRoom}); err != nil {
			o.log.Debug("leave-room send failed", "err", err)
		}
		o.setState(StateIdle)
	}
}

func (o *Orchestrator) handleRelayMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.KindJoinedRoom:
		o.log.Info("joined room", "room", msg.Room)

	case protocol.KindRoomFull:
		if o.state != StateConnecting {
			return
		}
		o.setError(ErrRoomFull)

	case protocol.KindUserConnected:
		// Being told a peer arrived means this side was already in the room:
		// it takes the initiator role.
		if o.state != StateConnecting {
			o.log.Warn("peer arrival ignored", "state", o.state, "peer", msg.Peer)
			return
		}
		o.peerID = msg.Peer
		if err := o.spawnNegotiator(); err != nil {
			o.setError(err)
			return
		}
		if err := o.negotiator.StartOffer(o.ctx); err != nil {
			o.discardNegotiator()
			o.setError(&NegotiationError{Cause: err})
		}

	case protocol.KindOffer:
		// An unsolicited offer makes this side the responder.
		if o.state != StateConnecting || o.negotiator != nil {
			o.log.Warn("offer ignored", "state", o.state, "from", msg.From)
			return
		}
		o.peerID = msg.From
		if err := o.spawnNegotiator(); err != nil {
			o.setError(err)
			return
		}
		if err := o.negotiator.HandleOffer(o.ctx, msg.Payload()); err != nil {
			o.discardNegotiator()
			o.setError(&NegotiationError{Cause: err})
		}

	case protocol.KindAnswer:
		if o.negotiator == nil || msg.From != o.peerID {
			o.log.Warn("answer ignored", "from", msg.From)
			return
		}
		if err := o.negotiator.HandleAnswer(msg.Payload()); err != nil {
			o.discardNegotiator()
			o.setError(&NegotiationError{Cause: err})
		}

	case protocol.KindICECandidate:
		if o.negotiator == nil || msg.From != o.peerID {
			o.log.Debug("candidate ignored", "from", msg.From)
			return
		}
		if err := o.negotiator.AddCandidate(msg.Payload()); err != nil {
			// A single bad candidate is not fatal; others may still connect.
			o.log.Warn("candidate rejected", "err", err)
		}

	case protocol.KindUserDisconnected:
		if o.peerID == "" || msg.Peer != o.peerID {
			return
		}
		// Peer departure is a lifecycle event, not an error.
		o.discardNegotiator()
		o.peerID = ""
		o.setState(StateDisconnected)

	default:
		o.log.Warn("unexpected relay message", "type", msg.Type)
	}
}

func (o *Orchestrator) handleNegotiatorEvent(ev event) {
	if ev.negGen != o.negGen || o.negotiator == nil {
		// Stale event from a discarded primitive.
		return
	}
	neg := *ev.neg
	switch neg.Kind {
	case NegotiatorLocalOffer, NegotiatorLocalAnswer, NegotiatorLocalCandidate:
		kind := map[NegotiatorEventKind]protocol.Kind{
			NegotiatorLocalOffer:     protocol.KindOffer,
			NegotiatorLocalAnswer:    protocol.KindAnswer,
			NegotiatorLocalCandidate: protocol.KindICECandidate,
		}[neg.Kind]
		msg, err := protocol.Signal(kind, o.peerID, neg.Payload)
		if err != nil {
			o.setError(err)
			return
		}
		if err := o.transport.Send(msg); err != nil {
			o.setError(fmt.Errorf("send %s: %w", kind, err))
		}
	case NegotiatorMediaReady:
		o.setState(StateConnected)
	case NegotiatorFatal:
		o.discardNegotiator()
		o.setError(&NegotiationError{Cause: neg.Err})
	}
}

func (o *Orchestrator) handleTransportFailure(err error) error {
	o.discardNegotiator()
	if o.state != StateIdle && o.state != StateDisconnected {
		o.setError(fmt.Errorf("relay connection lost: %w", err))
	}
	return err
}

// spawnNegotiator discards any existing primitive first, then creates a fresh
// one bound to o.peerID with a forwarder goroutine bridging its events into
// the inbox. Events from superseded primitives are filtered by generation.
func (o *Orchestrator) spawnNegotiator() error {
	o.discardNegotiator()
	o.negGen++
	gen := o.negGen
	events := make(chan NegotiatorEvent, negEventsSize)
	stop := make(chan struct{})

	neg, err := o.factory(o.peerID, events)
	if err != nil {
		return fmt.Errorf("create negotiation primitive: %w", err)
	}
	o.negotiator = neg
	o.negStop = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case e := <-events:
				o.post(event{neg: &e, negGen: gen})
			}
		}
	}()
	return nil
}

// discardNegotiator releases the current primitive synchronously, so stale
// traffic from a torn-down session can never reach a fresh one.
func (o *Orchestrator) discardNegotiator() {
	if o.negotiator == nil {
		return
	}
	if err := o.negotiator.Close(); err != nil {
		o.log.Warn("negotiation primitive close failed", "err", err)
	}
	o.negotiator = nil
	close(o.negStop)
	o.negStop = nil
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.publish(Update{State: s, Peer: o.peerID})
}

func (o *Orchestrator) setError(err error) {
	o.state = StateError
	o.log.Error("session failed", "err", err)
	o.publish(Update{State: StateError, Peer: o.peerID, Err: err})
}

func (o *Orchestrator) publish(u Update) {
	select {
	case o.updates <- u:
	default:
		o.log.Warn("update dropped, consumer not draining", "state", u.State)
	}
}
