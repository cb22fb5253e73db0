// Package state tracks relay-side room membership.
package state

import (
	"sync"
	"time"
)

// Member is one websocket client registered in a room. JoinedAt drives the
// initiator tie-break: the earlier-joined member always makes the offer.
type Member struct {
	ID       string
	JoinedAt time.Time
}

type RoomEvent struct {
	Type    string   `json:"type"` // join|leave
	Room    string   `json:"room"`
	PeerID  string   `json:"peer_id"`
	Members []string `json:"members,omitempty"`
}

// RoomTable tracks room membership for the signaling relay. Join order is
// preserved per room.
type RoomTable struct {
	mu        sync.Mutex
	rooms     map[string][]Member
	listeners []chan RoomEvent
}

func NewRoomTable() *RoomTable {
	return &RoomTable{
		rooms:     map[string][]Member{},
		listeners: make([]chan RoomEvent, 0),
	}
}

// Join adds id to room. Idempotent: joining a room twice keeps the original
// position and timestamp. Returns true if the member was newly added.
func (t *RoomTable) Join(room, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.rooms[room] {
		if m.ID == id {
			return false
		}
	}
	t.rooms[room] = append(t.rooms[room], Member{ID: id, JoinedAt: time.Now()})
	t.notifyListeners(RoomEvent{Type: "join", Room: room, PeerID: id, Members: t.memberIDs(room)})
	return true
}

// Leave removes id from room. Empty rooms are dropped.
func (t *RoomTable) Leave(room, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(room, id)
}

// LeaveAll removes id from every room it is a member of and returns the
// affected room names. Called when a client's websocket drops.
func (t *RoomTable) LeaveAll(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var affected []string
	for room, members := range t.rooms {
		for _, m := range members {
			if m.ID == id {
				affected = append(affected, room)
				break
			}
		}
	}
	for _, room := range affected {
		t.removeLocked(room, id)
	}
	return affected
}

// Members returns the current members of room in join order.
func (t *RoomTable) Members(room string) []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Member, len(t.rooms[room]))
	copy(out, t.rooms[room])
	return out
}

// Elder returns the id of the earliest-joined member of room, or "" when the
// room is empty. The elder is the negotiation initiator.
func (t *RoomTable) Elder(room string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ms := t.rooms[room]; len(ms) > 0 {
		return ms[0].ID
	}
	return ""
}

// RoomsOf returns the rooms id is currently a member of.
func (t *RoomTable) RoomsOf(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for room, members := range t.rooms {
		for _, m := range members {
			if m.ID == id {
				out = append(out, room)
				break
			}
		}
	}
	return out
}

// Snapshot returns a copy of all rooms and their member ids.
func (t *RoomTable) Snapshot() map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[string][]string, len(t.rooms))
	for room := range t.rooms {
		cp[room] = t.memberIDs(room)
	}
	return cp
}

func (t *RoomTable) Subscribe() chan RoomEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan RoomEvent, 16)
	t.listeners = append(t.listeners, ch)
	return ch
}

func (t *RoomTable) Unsubscribe(ch chan RoomEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *RoomTable) removeLocked(room, id string) {
	members := t.rooms[room]
	for i, m := range members {
		if m.ID == id {
			t.rooms[room] = append(members[:i], members[i+1:]...)
			if len(t.rooms[room]) == 0 {
				delete(t.rooms, room)
			}
			t.notifyListeners(RoomEvent{Type: "leave", Room: room, PeerID: id, Members: t.memberIDs(room)})
			return
		}
	}
}

func (t *RoomTable) memberIDs(room string) []string {
	ids := make([]string, 0, len(t.rooms[room]))
	for _, m := range t.rooms[room] {
		ids = append(ids, m.ID)
	}
	return ids
}

func (t *RoomTable) notifyListeners(evt RoomEvent) {
	for _, ch := range t.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
