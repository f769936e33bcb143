// Package rooms holds the relay's room registry: capacity-2 rendezvous rooms
// keyed by a case-normalized token.
//
// The registry is an explicitly owned object with two locking levels: a
// registry mutex guarding only the key->room map, and a per-room mutex
// serializing membership changes. Joins and leaves on different keys never
// contend on the same room lock.
package rooms

import (
	"errors"
	"strings"
	"sync"
)

// Capacity is the fixed membership limit of every room.
const Capacity = 2

var (
	ErrEmptyKey = errors.New("rooms: empty room key")
	ErrRoomFull = errors.New("rooms: room is full")
)

// NormalizeKey canonicalizes a user-supplied room key. Both clients and the
// relay normalize, so a key typed as "abc123 " rendezvouses with "ABC123".
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

type room struct {
	mu sync.Mutex

	// gone marks a room that has been emptied and is being removed from the
	// registry map. A join that raced with the removal retries with a fresh
	// room instead of resurrecting this one.
	gone    bool
	members []string
}

// Registry tracks all live rooms. The zero value is not usable; use New.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Join adds member id to the room at key, creating the room if absent.
// It returns the members already present (at most one).
//
// Two joiners racing for the last slot are serialized by the room lock:
// exactly one succeeds, the other gets ErrRoomFull.
func (r *Registry) Join(key, id string) ([]string, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, ErrEmptyKey
	}

	for {
		rm := r.lookupOrCreate(key)

		rm.mu.Lock()
		if rm.gone {
			rm.mu.Unlock()
			continue
		}
		if len(rm.members) >= Capacity {
			rm.mu.Unlock()
			return nil, ErrRoomFull
		}
		peers := append([]string(nil), rm.members...)
		rm.members = append(rm.members, id)
		rm.mu.Unlock()
		return peers, nil
	}
}

// Leave removes member id from the room at key. It returns the members still
// present and whether id was actually a member. Leaving twice, or leaving a
// room the member never joined, is a no-op.
//
// The last member out deletes the room.
func (r *Registry) Leave(key, id string) (remaining []string, left bool) {
	key = NormalizeKey(key)

	r.mu.RLock()
	rm := r.rooms[key]
	r.mu.RUnlock()
	if rm == nil {
		return nil, false
	}

	rm.mu.Lock()
	idx := -1
	for i, m := range rm.members {
		if m == id {
			idx = i
			break
		}
	}
	if rm.gone || idx < 0 {
		rm.mu.Unlock()
		return nil, false
	}

	rm.members = append(rm.members[:idx], rm.members[idx+1:]...)
	if len(rm.members) == 0 {
		rm.gone = true
		rm.mu.Unlock()

		r.mu.Lock()
		if r.rooms[key] == rm {
			delete(r.rooms, key)
		}
		r.mu.Unlock()
		return nil, true
	}

	remaining = append([]string(nil), rm.members...)
	rm.mu.Unlock()
	return remaining, true
}

// Members returns a snapshot of the room's membership, or nil if the room does
// not exist.
func (r *Registry) Members(key string) []string {
	key = NormalizeKey(key)

	r.mu.RLock()
	rm := r.rooms[key]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.gone {
		return nil
	}
	return append([]string(nil), rm.members...)
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) lookupOrCreate(key string) *room {
	r.mu.RLock()
	rm := r.rooms[key]
	r.mu.RUnlock()
	if rm != nil {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm = r.rooms[key]; rm != nil {
		return rm
	}
	rm = &room{}
	r.rooms[key] = rm
	return rm
}
