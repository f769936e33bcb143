package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairmeet/pairmeet/internal/metrics"
	"github.com/pairmeet/pairmeet/internal/protocol"
	"github.com/pairmeet/pairmeet/internal/ratelimit"
)

const wsWriteWait = 10 * time.Second

// conn wraps one participant's WebSocket connection.
//
// All reads happen on the goroutine running readPump, all writes on the one
// running writePump. roomKey is owned by the read goroutine; other goroutines
// reach a conn only through its send queue.
type conn struct {
	id  string
	ws  *websocket.Conn
	srv *Server
	log *slog.Logger

	send chan protocol.Message

	closeOnce sync.Once
	done      chan struct{}

	roomKey string
}

func newConn(id string, ws *websocket.Conn, srv *Server) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		srv:  srv,
		log:  srv.log.With("participant", id),
		send: make(chan protocol.Message, srv.cfg.SendQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue queues an outbound message without blocking. A participant that
// cannot drain its queue loses notifications rather than stalling whoever is
// delivering to it.
func (c *conn) enqueue(msg protocol.Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.srv.metrics.Inc(metrics.EventSlowConsumer)
		c.log.Warn("dropping message for slow consumer", "type", msg.Type)
	}
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump consumes inbound frames until the connection dies, then triggers
// the deterministic leave path. It runs on the HTTP handler goroutine.
func (c *conn) readPump() {
	defer func() {
		c.srv.unregister(c)
		c.shutdown()
		_ = c.ws.Close()
	}()

	cfg := c.srv.cfg
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(c.srv.clock.Now().Add(cfg.WSIdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(c.srv.clock.Now().Add(cfg.WSIdleTimeout))
	})

	limit := int64(cfg.MaxMessagesPerSecond)
	limiter := ratelimit.NewTokenBucket(c.srv.clock, limit, limit)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("connection read failed", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(c.srv.clock.Now().Add(cfg.WSIdleTimeout))

		if msgType != websocket.TextMessage {
			c.writeClose(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		if !limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.EventRateLimited)
			c.writeClose(websocket.ClosePolicyViolation, "message rate exceeded")
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			// Malformed frames never take down the connection; a buggy client
			// still gets its room torn down properly when it goes away.
			c.srv.metrics.Inc(metrics.EventMalformedFrame)
			c.log.Debug("dropping malformed frame", "err", err)
			continue
		}

		c.srv.dispatch(c, msg)
	}
}

// writePump serializes all writes: queued messages plus keepalive pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.srv.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug("connection write failed", "err", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *conn) writeClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
