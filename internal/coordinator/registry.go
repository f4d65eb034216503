package coordinator

import (
	"sync"

	"github.com/iambigmarn/realtime-app/internal/core"
)

// room tracks the members of one named room along with the last location
// each member reported. A room always has at least one member: it is
// created on first join and removed when the last member leaves.
type room struct {
	participants map[core.ParticipantID]struct{}
	locations    map[core.ParticipantID]core.LatLng
}

func newRoom() *room {
	return &room{
		participants: make(map[core.ParticipantID]struct{}),
		locations:    make(map[core.ParticipantID]core.LatLng),
	}
}

// Registry is the process-scoped index of live connections and the rooms
// they occupy. It is constructed once in main and injected into the
// coordinator, so tests can run isolated instances side by side. All
// mutation happens on the router's dispatch goroutine; the lock shields
// concurrent readers.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	conns map[core.ParticipantID]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		conns: make(map[core.ParticipantID]string),
	}
}

// Register records id as connected. The participant belongs to no room
// until it joins one.
func (r *Registry) Register(id core.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		r.conns[id] = ""
	}
}

// Deregister forgets a connection. The caller removes the participant
// from its room first.
func (r *Registry) Deregister(id core.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, id)
}

// Connected reports whether id currently has a live connection.
func (r *Registry) Connected(id core.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[id]
	return ok
}

// RoomOf returns the room id occupies; ok is false for unknown or
// roomless participants.
func (r *Registry) RoomOf(id core.ParticipantID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.conns[id]
	if !ok || name == "" {
		return "", false
	}

	return name, true
}

// RoomExists reports whether the named room currently has members.
func (r *Registry) RoomExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[name]
	return ok
}

// Join adds id to the named room, creating it on first member. It returns
// the other members and their last reported locations as one atomic
// snapshot: everything the newcomer must be told about the room as of the
// moment it became a member. The caller removes id from any previous room
// first.
func (r *Registry) Join(id core.ParticipantID, name string) ([]core.ParticipantID, map[core.ParticipantID]core.LatLng) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[name]
	if !ok {
		rm = newRoom()
		r.rooms[name] = rm
	}

	others := make([]core.ParticipantID, 0, len(rm.participants))
	locations := make(map[core.ParticipantID]core.LatLng, len(rm.locations))
	for member := range rm.participants {
		if member == id {
			continue
		}
		others = append(others, member)
		if loc, ok := rm.locations[member]; ok {
			locations[member] = loc
		}
	}

	rm.participants[id] = struct{}{}
	r.conns[id] = name

	return others, locations
}

// Leave removes id from whatever room it occupies and returns the room's
// name plus the members that remain; ok is false when the participant was
// not in a room. A room left with no members is deleted.
func (r *Registry) Leave(id core.ParticipantID) (string, []core.ParticipantID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.conns[id]
	if !ok || name == "" {
		return "", nil, false
	}

	rm := r.rooms[name]
	delete(rm.participants, id)
	delete(rm.locations, id)
	r.conns[id] = ""

	remaining := make([]core.ParticipantID, 0, len(rm.participants))
	for member := range rm.participants {
		remaining = append(remaining, member)
	}
	if len(remaining) == 0 {
		delete(r.rooms, name)
	}

	return name, remaining, true
}

// Members returns a snapshot of the room's members excluding except.
func (r *Registry) Members(name string, except core.ParticipantID) []core.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[name]
	if !ok {
		return nil
	}

	members := make([]core.ParticipantID, 0, len(rm.participants))
	for member := range rm.participants {
		if member == except {
			continue
		}
		members = append(members, member)
	}

	return members
}

// SetLocation stores the last reported location for id, provided the
// participant is actually a member of the named room. It reports whether
// the update was accepted.
func (r *Registry) SetLocation(id core.ParticipantID, name string, loc core.LatLng) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || r.conns[id] != name {
		return false
	}

	r.rooms[name].locations[id] = loc

	return true
}
