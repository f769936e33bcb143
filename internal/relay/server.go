package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pairmeet/pairmeet/internal/config"
	"github.com/pairmeet/pairmeet/internal/metrics"
	"github.com/pairmeet/pairmeet/internal/origin"
	"github.com/pairmeet/pairmeet/internal/protocol"
	"github.com/pairmeet/pairmeet/internal/ratelimit"
	"github.com/pairmeet/pairmeet/internal/rooms"
)

// Server is the WebSocket rendezvous relay.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	rooms   *rooms.Registry
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	upgrader websocket.Upgrader
	ice      ICEConfig

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

func NewServer(cfg config.Config, logger *slog.Logger, registry *rooms.Registry, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		log:     logger,
		rooms:   registry,
		metrics: m,
		clock:   ratelimit.RealClock{},
		conns:   make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  int(cfg.MaxMessageBytes),
		WriteBufferSize: int(cfg.MaxMessageBytes),
		CheckOrigin: func(r *http.Request) bool {
			return origin.Allowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ice", s.handleICE)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	c := newConn(uuid.NewString(), ws, s)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.conns[c.id] = c
	s.mu.Unlock()

	s.metrics.Inc(metrics.EventConnOpened)
	c.log.Info("participant connected", "remote_addr", ws.RemoteAddr().String())

	go c.writePump()
	c.readPump()
}

// Close tears down every live connection. Used on shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
		_ = c.ws.Close()
	}
}

// dispatch routes one parsed inbound frame. It runs on the sender's read
// goroutine, so per-connection state (roomKey) needs no locking.
func (s *Server) dispatch(c *conn, msg protocol.Message) {
	switch msg.Type {
	case protocol.KindJoinRoom:
		s.handleJoin(c, msg.Room)

	case protocol.KindLeaveRoom:
		s.leaveRoom(c)

	case protocol.KindOffer, protocol.KindAnswer, protocol.KindICECandidate:
		s.relaySignal(c, msg)

	default:
		// Server-to-client kinds arriving from a client.
		s.metrics.Inc(metrics.EventMalformedFrame)
		c.log.Debug("dropping unexpected client frame", "type", msg.Type)
	}
}

func (s *Server) handleJoin(c *conn, key string) {
	if c.roomKey != "" {
		// At most one room per connection; the second join is a client bug.
		s.metrics.Inc(metrics.EventMalformedFrame)
		c.log.Warn("join while already in a room", "room", c.roomKey)
		return
	}

	normalized := rooms.NormalizeKey(key)

	peers, err := s.rooms.Join(normalized, c.id)
	switch {
	case errors.Is(err, rooms.ErrRoomFull):
		s.metrics.Inc(metrics.EventRoomFull)
		c.log.Info("join rejected, room full", "room", normalized)
		c.enqueue(protocol.Message{Type: protocol.KindRoomFull})
		return
	case err != nil:
		s.metrics.Inc(metrics.EventMalformedFrame)
		c.log.Debug("join rejected", "err", err)
		return
	}

	c.roomKey = normalized
	// Empty rooms don't exist in the registry, so joining an empty room means
	// it was just created.
	if len(peers) == 0 {
		s.metrics.Inc(metrics.EventRoomCreated)
	}
	s.metrics.Inc(metrics.EventRoomJoined)
	c.log.Info("joined room", "room", normalized, "peers", len(peers))

	c.enqueue(protocol.Message{Type: protocol.KindJoinedRoom, Room: normalized})

	// The earlier member learns who arrived; that notification is what makes
	// it the negotiation initiator.
	for _, peer := range peers {
		s.sendTo(peer, protocol.Message{Type: protocol.KindUserConnected, Peer: c.id})
	}
}

func (s *Server) relaySignal(c *conn, msg protocol.Message) {
	s.mu.Lock()
	target := s.conns[msg.To]
	s.mu.Unlock()

	if target == nil {
		// Benign race: the addressee disconnected after the sender queued this.
		s.metrics.Inc(metrics.EventRoutingMiss)
		c.log.Debug("dropping signal for unknown target", "type", msg.Type, "to", msg.To)
		return
	}

	target.enqueue(protocol.Deliver(msg, c.id))
	s.metrics.Inc(metrics.EventSignalRelayed)
}

func (s *Server) leaveRoom(c *conn) {
	if c.roomKey == "" {
		return
	}
	key := c.roomKey
	c.roomKey = ""

	remaining, left := s.rooms.Leave(key, c.id)
	if !left {
		return
	}

	s.metrics.Inc(metrics.EventPeerLeft)
	c.log.Info("left room", "room", key, "remaining", len(remaining))

	for _, peer := range remaining {
		s.sendTo(peer, protocol.Message{Type: protocol.KindUserDisconnected, Peer: c.id})
	}
	if len(remaining) == 0 {
		s.metrics.Inc(metrics.EventRoomDeleted)
	}
}

// unregister runs when a connection's read pump exits, for any reason. Leave
// is driven from here so room cleanup is deterministic on transport
// disconnect, not dependent on the client having said goodbye.
func (s *Server) unregister(c *conn) {
	s.leaveRoom(c)

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()

	s.metrics.Inc(metrics.EventConnClosed)
	c.log.Info("participant disconnected")
}

func (s *Server) sendTo(id string, msg protocol.Message) {
	s.mu.Lock()
	target := s.conns[id]
	s.mu.Unlock()

	if target == nil {
		s.metrics.Inc(metrics.EventRoutingMiss)
		return
	}
	target.enqueue(msg)
}
