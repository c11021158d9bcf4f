package registry

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/FilipDolezal/pig-game-server/internal/protocol"
)

var (
	// ErrServerFull is returned by AddPlayer when no lobby slot is free.
	ErrServerFull = errors.New("registry: server full")
	// ErrNoSuchRoom is returned when a room id is out of range.
	ErrNoSuchRoom = errors.New("registry: no such room")
	// ErrRoomFull is returned by JoinRoom when the target room already
	// has two occupants.
	ErrRoomFull = errors.New("registry: room full")
	// ErrRoomNotWaiting is returned by JoinRoom when the target room
	// is not in the Waiting state.
	ErrRoomNotWaiting = errors.New("registry: room not waiting")
	// ErrGameInProgress is returned by LeaveRoom once the room has
	// filled and is no longer Waiting.
	ErrGameInProgress = errors.New("registry: game in progress")
	// ErrNotInRoom is returned by LeaveRoom when the player does not
	// occupy a slot in the room it names.
	ErrNotInRoom = errors.New("registry: player not in room")
)

// Registry is the process-wide player and room table, allocated once
// with fixed capacities (spec §4.3). All player-lifecycle operations
// lock the registry's own mutex; room occupancy/state additionally
// locks the target room's own mutex, always acquired after the
// registry mutex per the lock hierarchy of spec §5.
type Registry struct {
	mu      sync.Mutex
	players []*Player
	rooms   []*Room

	maxPlayers, maxRooms int
}

// New allocates a registry with maxPlayers player slots and maxRooms
// rooms, the rooms numbered 0..maxRooms-1 (spec §3).
func New(maxPlayers, maxRooms int) *Registry {
	reg := &Registry{
		players:    make([]*Player, maxPlayers),
		rooms:      make([]*Room, maxRooms),
		maxPlayers: maxPlayers,
		maxRooms:   maxRooms,
	}
	for i := range reg.players {
		reg.players[i] = &Player{RoomID: -1, slot: i}
	}
	for i := range reg.rooms {
		reg.rooms[i] = newRoom(i)
	}
	return reg
}

// MaxPlayers returns the configured player capacity.
func (reg *Registry) MaxPlayers() int { return reg.maxPlayers }

// MaxRooms returns the configured room capacity.
func (reg *Registry) MaxRooms() int { return reg.maxRooms }

// AddPlayer reserves the first free slot (socket absent AND state
// Lobby — a disconnected in-game slot is not free, spec §4.3) for a
// newly accepted connection, clearing its nickname and read buffer.
func (reg *Registry) AddPlayer(conn net.Conn) (*Player, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, p := range reg.players {
		if p.Conn == nil && p.State == Lobby {
			p.Conn = conn
			p.Reader = protocol.NewReader(conn)
			p.Nickname = ""
			p.RoomID = -1
			p.DisconnectedAt = time.Time{}
			p.LastActivity = time.Now()
			return p, nil
		}
	}
	return nil, ErrServerFull
}

// RemovePlayer removes p from any room slot it occupies and returns
// it to an empty Lobby slot, closing its socket if still open.
func (reg *Registry) RemovePlayer(p *Player) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if p.RoomID >= 0 {
		if room := reg.roomLocked(p.RoomID); room != nil {
			room.mu.Lock()
			for i, slot := range room.slots {
				if slot == p {
					room.slots[i] = nil
					room.count--
				}
			}
			room.mu.Unlock()
		}
	}

	if p.Conn != nil {
		p.Conn.Close()
	}
	p.Conn = nil
	p.Reader = nil
	p.State = Lobby
	p.RoomID = -1
	p.Nickname = ""
	p.DisconnectedAt = time.Time{}
}

// FindDisconnected returns the unique disconnected, in-game slot
// holding nickname, if any (spec §3 invariant 5, §4.3).
func (reg *Registry) FindDisconnected(nickname string) (*Player, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, p := range reg.players {
		if p.Conn == nil && p.State == InGame && p.Nickname == nickname {
			return p, true
		}
	}
	return nil, false
}

// FindActive returns the connected slot holding nickname, if any
// (spec §3 invariant 4: at most one such slot exists).
func (reg *Registry) FindActive(nickname string) (*Player, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for _, p := range reg.players {
		if p.Conn != nil && p.Nickname == nickname {
			return p, true
		}
	}
	return nil, false
}

// GetRoom returns the room with the given id.
func (reg *Registry) GetRoom(id int) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room := reg.roomLocked(id)
	if room == nil {
		return nil, false
	}
	return room, true
}

func (reg *Registry) roomLocked(id int) *Room {
	if id < 0 || id >= len(reg.rooms) {
		return nil
	}
	return reg.rooms[id]
}

// RoomSnapshot is an immutable view of one room's public state, used
// to answer LIST_ROOMS without holding any lock for the duration of
// the response write (spec §9: an observer may legitimately see an
// intermediate count during a JOIN_ROOM race).
type RoomSnapshot struct {
	ID    int
	Count int
	State RoomState
}

// Rooms returns a snapshot of every room in stable id order.
func (reg *Registry) Rooms() []RoomSnapshot {
	reg.mu.Lock()
	rooms := append([]*Room(nil), reg.rooms...)
	reg.mu.Unlock()

	out := make([]RoomSnapshot, len(rooms))
	for i, room := range rooms {
		room.mu.Lock()
		out[i] = RoomSnapshot{ID: room.ID, Count: room.count, State: room.state}
		room.mu.Unlock()
	}
	return out
}

// JoinRoom places p into roomID's next free slot, in stable
// first-come-first-served order (spec §4.3). It fails if the id is
// out of range, the room is not Waiting, or the room is already
// full. filled reports whether this join brought the room to two
// occupants; the caller (the session package), not the registry, is
// responsible for spawning the game coordinator in that case.
func (reg *Registry) JoinRoom(roomID int, p *Player) (filled bool, err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room := reg.roomLocked(roomID)
	if room == nil {
		return false, ErrNoSuchRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	// A room leaves Waiting only once both slots are taken, so a full
	// room and a non-Waiting room are almost always the same thing;
	// check occupancy first so that case reports the more specific
	// ROOM_FULL. ErrRoomNotWaiting covers a room that is not Waiting
	// with a free slot: an Aborted room whose reconnecting player has
	// already been removed, until the coordinator's teardown resets it.
	if room.count >= MaxPlayersPerRoom {
		return false, ErrRoomFull
	}
	if room.state != Waiting {
		return false, ErrRoomNotWaiting
	}

	for i, slot := range room.slots {
		if slot == nil {
			room.slots[i] = p
			room.count++
			break
		}
	}
	p.State = InGame
	p.RoomID = roomID

	if room.count == MaxPlayersPerRoom {
		room.state = InProgress
		filled = true
	}
	return filled, nil
}

// LeaveRoom removes p from its room, permitted only while that room
// is still Waiting (spec §4.3). The remaining slots are shifted left
// to close the gap, preserving join order.
func (reg *Registry) LeaveRoom(p *Player) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room := reg.roomLocked(p.RoomID)
	if room == nil {
		return ErrNotInRoom
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.state != Waiting {
		return ErrGameInProgress
	}

	found := false
	remaining := room.slots[:0:0]
	for _, slot := range room.slots {
		if slot == p {
			found = true
			continue
		}
		if slot != nil {
			remaining = append(remaining, slot)
		}
	}
	if !found {
		return ErrNotInRoom
	}

	room.slots = [MaxPlayersPerRoom]*Player{}
	for i, slot := range remaining {
		room.slots[i] = slot
	}
	room.count--

	p.State = Lobby
	p.RoomID = -1
	return nil
}

// Splice adopts provisional's live socket into disconnected's
// existing in-game slot (spec §3 invariant 5's reconnection path),
// and returns provisional's now-empty lobby slot to the free pool.
// disconnected keeps its nickname, room id and game-coordinator
// identity; only its socket and reader change.
func (reg *Registry) Splice(disconnected, provisional *Player) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	disconnected.Conn = provisional.Conn
	disconnected.Reader = provisional.Reader
	disconnected.DisconnectedAt = time.Time{}
	disconnected.LastActivity = time.Now()

	provisional.Conn = nil
	provisional.Reader = nil
	provisional.State = Lobby
	provisional.RoomID = -1
	provisional.Nickname = ""
}

// HandleDisconnect closes p's socket, marks it absent and records the
// disconnection time; it deliberately does not remove p from its
// room — that remains the session coordinator's job once it decides
// the game should pause (spec §4.3). p.Reader is left in place: it
// still wraps the now-closed conn harmlessly until Splice replaces it
// on reconnect, or RemovePlayer discards it if the player never comes
// back.
func (reg *Registry) HandleDisconnect(p *Player) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if p.Conn != nil {
		p.Conn.Close()
	}
	p.Conn = nil
	p.DisconnectedAt = time.Now()
}

// EndGame returns room and every player still slotted in it to the
// Lobby/Waiting state, and wakes any handler parked on the room (spec
// §4.5.2's teardown step, §3 invariant 6). Players who disconnected
// and never reconnected are released the same as anyone else: their
// slot simply becomes an empty Lobby slot, freeing it for AddPlayer.
func (reg *Registry) EndGame(room *Room) {
	reg.mu.Lock()
	room.mu.Lock()
	for i, slot := range room.slots {
		if slot != nil {
			slot.State = Lobby
			slot.RoomID = -1
			slot.Nickname = ""
			slot.DisconnectedAt = time.Time{}
		}
		room.slots[i] = nil
	}
	room.count = 0
	room.state = Waiting
	room.mu.Unlock()
	reg.mu.Unlock()

	room.Broadcast()
}
