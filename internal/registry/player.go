// Package registry implements the process-wide player and room
// tables: fixed-capacity slot allocation, nickname lookup, and the
// join/leave/disconnect transitions that move a player between a
// lobby slot and a room slot.
package registry

import (
	"net"
	"time"

	"github.com/FilipDolezal/pig-game-server/internal/protocol"
)

// PlayerState is a player's lifecycle state (spec §3).
type PlayerState int

const (
	Lobby PlayerState = iota
	InGame
)

func (s PlayerState) String() string {
	if s == InGame {
		return "InGame"
	}
	return "Lobby"
}

// Player is one occupant of a registry slot. Its socket is absent
// (Conn == nil) while disconnected; a disconnected InGame slot is the
// unique reconnection target for its nickname (spec §3 invariant 5).
//
// The fields below are mutated only while the registry's mutex is
// held, per spec §5 ("Registry-mutex-guarded state"), except
// LastActivity, which whichever goroutine currently owns the socket
// (the connection handler, or the game coordinator once a match
// starts) updates on each line it reads. That owner also reads
// Conn/Reader directly without taking the registry lock for every
// byte.
type Player struct {
	Conn   net.Conn
	Reader *protocol.Reader

	Nickname string
	State    PlayerState
	RoomID   int // -1 when not in a room

	DisconnectedAt time.Time
	LastActivity   time.Time

	slot int
}

// Connected reports whether the player currently has a live socket.
func (p *Player) Connected() bool {
	return p.Conn != nil
}

// Slot returns the player's fixed index in the registry's player
// table. It never changes for the lifetime of the slot.
func (p *Player) Slot() int {
	return p.slot
}
