package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairmeet/pairmeet/internal/protocol"
)

// Transport is the persistent bidirectional connection to the relay. The
// orchestrator owns exactly one and closes it on teardown.
type Transport interface {
	// Send writes one message to the relay.
	Send(msg protocol.Message) error

	// Receive blocks until the next relay message arrives. It returns an error
	// once the connection is gone; the orchestrator treats that as final.
	Receive() (protocol.Message, error)

	Close() error
}

const wsTransportWriteWait = 10 * time.Second

// wsTransport carries the relay protocol over a websocket.
type wsTransport struct {
	mu sync.Mutex // guards writes
	ws *websocket.Conn
}

// Dial connects to a relay signaling endpoint, e.g. ws://host:8080/ws.
func Dial(ctx context.Context, url string) (Transport, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	return &wsTransport{ws: ws}, nil
}

func (t *wsTransport) Send(msg protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(wsTransportWriteWait))
	return t.ws.WriteJSON(msg)
}

func (t *wsTransport) Receive() (protocol.Message, error) {
	_, data, err := t.ws.ReadMessage()
	if err != nil {
		return protocol.Message{}, err
	}
	return protocol.Parse(data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	_ = t.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsTransportWriteWait))
	t.mu.Unlock()
	return t.ws.Close()
}
