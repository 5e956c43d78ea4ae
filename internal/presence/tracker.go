package presence

import (
	"sync"
)

// Tracker records which users currently have which rooms open. It is a
// pure in-memory cache: nothing survives a restart and clients must
// re-announce after reconnecting.
//
// The two maps are inverses of each other and are only ever mutated
// together under mu, so a user appears in a room's set exactly when
// that room appears in the user's set.
type Tracker struct {
	mu          sync.RWMutex
	roomViewers map[string]map[string]struct{}
	userRooms   map[string]map[string]struct{}
}

// Stats is a point-in-time snapshot of tracker size.
type Stats struct {
	RoomCount int `json:"room_count"`
	UserCount int `json:"user_count"`
}

func NewTracker() *Tracker {
	return &Tracker{
		roomViewers: make(map[string]map[string]struct{}),
		userRooms:   make(map[string]map[string]struct{}),
	}
}

// MarkActive records that a user is viewing a room. Empty identifiers
// are ignored.
func (t *Tracker) MarkActive(username, roomID string) {
	if username == "" || roomID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.roomViewers[roomID] == nil {
		t.roomViewers[roomID] = make(map[string]struct{})
	}
	t.roomViewers[roomID][username] = struct{}{}

	if t.userRooms[username] == nil {
		t.userRooms[username] = make(map[string]struct{})
	}
	t.userRooms[username][roomID] = struct{}{}
}

// MarkInactive records that a user stopped viewing a room. Removing
// the last viewer of a room drops the room's entry entirely, same for
// the user's last room.
func (t *Tracker) MarkInactive(username, roomID string) {
	if username == "" || roomID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeLocked(username, roomID)
}

// MarkOffline purges a user from every room they were viewing.
func (t *Tracker) MarkOffline(username string) {
	if username == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for roomID := range t.userRooms[username] {
		t.removeLocked(username, roomID)
	}
	delete(t.userRooms, username)
}

// removeLocked drops one (user, room) pair from both maps. Caller
// holds mu.
func (t *Tracker) removeLocked(username, roomID string) {
	if viewers, ok := t.roomViewers[roomID]; ok {
		delete(viewers, username)
		if len(viewers) == 0 {
			delete(t.roomViewers, roomID)
		}
	}

	if rooms, ok := t.userRooms[username]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(t.userRooms, username)
		}
	}
}

// IsActive reports whether a user currently has a room open.
func (t *Tracker) IsActive(username, roomID string) bool {
	if username == "" || roomID == "" {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.roomViewers[roomID][username]
	return ok
}

// ActiveUsers returns everyone currently viewing a room.
func (t *Tracker) ActiveUsers(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	viewers := t.roomViewers[roomID]
	users := make([]string, 0, len(viewers))
	for username := range viewers {
		users = append(users, username)
	}
	return users
}

// ActiveRooms returns every room a user currently has open.
func (t *Tracker) ActiveRooms(username string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := t.userRooms[username]
	rooms := make([]string, 0, len(active))
	for roomID := range active {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Stats returns the current tracker size.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		RoomCount: len(t.roomViewers),
		UserCount: len(t.userRooms),
	}
}
