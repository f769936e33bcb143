package metrics

import "sync"

// Relay event counter names.
const (
	EventRoomJoined     = "room_joined"
	EventRoomFull       = "room_full"
	EventRoomCreated    = "room_created"
	EventRoomDeleted    = "room_deleted"
	EventPeerLeft       = "peer_left"
	EventSignalRelayed  = "signal_relayed"
	EventRoutingMiss    = "routing_miss"
	EventMalformedFrame = "malformed_frame"
	EventSlowConsumer   = "slow_consumer_drop"
	EventRateLimited    = "rate_limited"
	EventConnOpened     = "conn_opened"
	EventConnClosed     = "conn_closed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment is expected to plug into a real metrics backend;
// this type keeps relay accounting testable while still being scrapeable via
// the Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
