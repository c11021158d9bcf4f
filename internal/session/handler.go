package session

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/FilipDolezal/pig-game-server/internal/logging"
	"github.com/FilipDolezal/pig-game-server/internal/protocol"
	"github.com/FilipDolezal/pig-game-server/internal/registry"
)

// handler drives a single connection through the states of spec
// §4.5.1: Welcome, LoginWait, IdentityResolve, ResumeWait/Lobby,
// InGameWait. Unlike the teacher's Client.Handle, which spawns a
// second goroutine to scan input while the caller blocks on a done
// channel, a handler reads its own socket directly in whichever state
// it is in — there is only ever one reader of a Player's Reader at a
// time, handed off explicitly at state boundaries.
type handler struct {
	srv    *Server
	player *registry.Player
	log    *slog.Logger
}

func (h *handler) run() {
	h.sendWelcome()

	nick, ok := h.loginWait()
	if !ok {
		return
	}

	active, ok := h.srv.Reg.FindActive(nick)
	if ok && active != h.player {
		// The Open Question decision recorded in DESIGN.md: reject
		// the new connection and leave the existing session alone.
		h.log.Warn("rejecting duplicate login", "nick", nick)
		sendError(h.log, h.player, protocol.ErrNicknameInUse)
		h.closeAndRemove()
		return
	}

	if disc, ok := h.srv.Reg.FindDisconnected(nick); ok {
		h.adopt(disc)
		if !h.resumeWait() {
			return
		}
	} else {
		h.player.Nickname = nick
		send(h.log, h.player, protocol.SOk, protocol.KV("cmd", protocol.VerbLogin), protocol.KV("nick", nick))
		h.log.Info("login", logging.WithCategory(logging.Lobby), "nick", nick)
	}

	h.lobbyLoop()
}

func (h *handler) sendWelcome() {
	send(h.log, h.player, protocol.SWelcome,
		protocol.KV("players", itoa(h.srv.Reg.MaxPlayers())),
		protocol.KV("rooms", itoa(h.srv.Reg.MaxRooms())))
}

// loginWait waits for a single well-formed LOGIN command, rejecting
// and closing the connection on anything else (spec §4.5.1).
func (h *handler) loginWait() (string, bool) {
	for {
		res := h.player.Reader.Receive(h.srv.Conf.ReadTimeout)
		switch res.Kind {
		case protocol.Timeout:
			continue
		case protocol.Disconnect, protocol.IoError:
			h.closeAndRemove()
			return "", false
		case protocol.Overflow:
			sendError(h.log, h.player, protocol.ErrInvalidCommand)
			h.closeAndRemove()
			return "", false
		}

		h.player.LastActivity = time.Now()
		cmd, err := protocol.Parse(res.Line)
		if err != nil || cmd.Verb != protocol.VerbLogin {
			sendError(h.log, h.player, protocol.ErrInvalidCommand)
			h.closeAndRemove()
			return "", false
		}
		nick, ok := cmd.Arg("nick")
		if !ok || len(nick) == 0 || len(nick) > protocol.NicknameMaxLen {
			sendError(h.log, h.player, protocol.ErrInvalidNickname)
			h.closeAndRemove()
			return "", false
		}
		return nick, true
	}
}

// adopt splices the reconnecting socket into disc's slot (spec §3
// invariant 5) and releases h.player's provisional lobby slot back to
// the pool. After adopt, h.player refers to the adopted, in-game
// slot.
func (h *handler) adopt(disc *registry.Player) {
	provisional := h.player
	h.srv.Reg.Splice(disc, provisional)
	h.player = disc
	h.log.Info("reconnect", logging.WithCategory(logging.Lobby), "nick", disc.Nickname, "room", disc.RoomID)
}

// resumeWait handles the ResumeWait state: the reconnected player
// must send RESUME before anything else, after which the handler
// parks until the game coordinator releases the room back to Lobby.
// Returns false if the connection was torn down in the process.
func (h *handler) resumeWait() bool {
	room, ok := h.srv.Reg.GetRoom(h.player.RoomID)
	if !ok {
		h.closeAndRemove()
		return false
	}
	send(h.log, h.player, protocol.SGamePaused, protocol.KV("room", itoa(room.ID)))

	var res protocol.Result
	for {
		res = h.player.Reader.Receive(h.srv.Conf.ReadTimeout)
		if res.Kind != protocol.Timeout {
			break
		}
	}

	if res.Kind == protocol.Line {
		h.player.LastActivity = time.Now()
		if cmd, err := protocol.Parse(res.Line); err == nil && cmd.Verb == protocol.VerbResume {
			room.SetState(registry.InProgress)
			send(h.log, h.player, protocol.SOk, protocol.KV("cmd", protocol.VerbResume))
			if peer := opponent(room, h.player); peer != nil {
				send(h.log, peer, protocol.SOpponentReconnected, protocol.KV("nick", h.player.Nickname))
			}
			room.Broadcast()
			return h.parkUntilLobby(room)
		}
		sendError(h.log, h.player, protocol.ErrInvalidCommand)
	}

	// Anything other than a well-formed RESUME — a different command,
	// a malformed line, an overflow, or the socket dropping again
	// mid-handshake — aborts the match outright instead of retrying
	// indefinitely.
	room.SetState(registry.Aborted)
	room.Broadcast()
	h.closeAndRemove()
	return false
}

// lobbyLoop services LIST_ROOMS/JOIN_ROOM/LEAVE_ROOM/PING/EXIT while
// h.player sits in the Lobby state (spec §4.5.1).
func (h *handler) lobbyLoop() {
	for {
		budget := h.srv.Conf.IdleTimeout - time.Since(h.player.LastActivity)
		if budget <= 0 {
			h.idleTimeout()
			return
		}
		wait := budget
		if wait > h.srv.Conf.ReadTimeout {
			wait = h.srv.Conf.ReadTimeout
		}

		res := h.player.Reader.Receive(wait)
		switch res.Kind {
		case protocol.Timeout:
			continue
		case protocol.Disconnect, protocol.IoError:
			h.closeAndRemove()
			return
		case protocol.Overflow:
			sendError(h.log, h.player, protocol.ErrInvalidCommand)
			h.closeAndRemove()
			return
		}

		h.player.LastActivity = time.Now()
		cmd, err := protocol.Parse(res.Line)
		if err != nil {
			sendError(h.log, h.player, protocol.ErrInvalidCommand)
			h.closeAndRemove()
			return
		}

		switch cmd.Verb {
		case protocol.VerbListRooms:
			h.listRooms()
		case protocol.VerbJoinRoom:
			if !h.joinRoom(cmd) {
				return
			}
		case protocol.VerbLeaveRoom:
			if err := h.srv.Reg.LeaveRoom(h.player); err != nil {
				sendError(h.log, h.player, protocol.ErrGameInProgress)
				continue
			}
			send(h.log, h.player, protocol.SOk, protocol.KV("cmd", protocol.VerbLeaveRoom))
		case protocol.VerbPing:
			send(h.log, h.player, protocol.SOk, protocol.KV("cmd", protocol.VerbPing))
		case protocol.VerbExit:
			h.closeAndRemove()
			return
		default:
			sendError(h.log, h.player, protocol.ErrInvalidCommand)
			h.closeAndRemove()
			return
		}
	}
}

func (h *handler) idleTimeout() {
	h.log.Info("idle timeout", logging.WithCategory(logging.Lobby), "nick", h.player.Nickname)
	send(h.log, h.player, protocol.SDisconnected, protocol.KV("msg", "idle timeout"))
	h.closeAndRemove()
}

func (h *handler) listRooms() {
	for _, r := range h.srv.Reg.Rooms() {
		send(h.log, h.player, protocol.SRoomInfo,
			protocol.KV("room", itoa(r.ID)),
			protocol.KV("count", itoa(r.Count)),
			protocol.KV("state", r.State.String()))
	}
}

// joinRoom implements JOIN_ROOM. On success it moves h.player through
// InGameWait until either the room fills and a match is played out,
// or the player leaves/disconnects while still Waiting. Returns false
// if the connection was torn down.
func (h *handler) joinRoom(cmd *protocol.Command) bool {
	raw, ok := cmd.Arg("room")
	if !ok {
		sendError(h.log, h.player, protocol.ErrInvalidCommand)
		return true
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		sendError(h.log, h.player, protocol.ErrInvalidCommand)
		return true
	}

	filled, err := h.srv.Reg.JoinRoom(id, h.player)
	if err != nil {
		switch err {
		case registry.ErrRoomFull:
			sendError(h.log, h.player, protocol.ErrRoomFull)
		case registry.ErrNoSuchRoom:
			sendError(h.log, h.player, protocol.ErrInvalidCommand)
		default:
			sendError(h.log, h.player, protocol.ErrCannotJoin)
		}
		return true
	}

	send(h.log, h.player, protocol.SOk, protocol.KV("cmd", protocol.VerbJoinRoom), protocol.KV("room", itoa(id)))
	h.log.Info("joined room", logging.WithCategory(logging.Lobby), "nick", h.player.Nickname, "room", id)

	room, _ := h.srv.Reg.GetRoom(id)
	if filled {
		go newCoordinator(h.srv, room).Run()
	}
	return h.awaitGameSlot(room)
}

// awaitGameSlot is the InGameWait state: while the room is still
// Waiting, the handler keeps servicing its own socket for
// LEAVE_ROOM/PING/idle-timeout/disconnect (spec §4.5.1, "the game
// coordinator does not exist yet"). Once the room fills, it parks on
// the room's broadcast channel until the coordinator tears the match
// down and returns the player to Lobby.
func (h *handler) awaitGameSlot(room *registry.Room) bool {
	for room.State() == registry.Waiting {
		budget := h.srv.Conf.IdleTimeout - time.Since(h.player.LastActivity)
		if budget <= 0 {
			h.idleTimeout()
			return false
		}
		wait := budget
		if wait > h.srv.Conf.ReadTimeout {
			wait = h.srv.Conf.ReadTimeout
		}

		res := h.player.Reader.Receive(wait)
		switch res.Kind {
		case protocol.Timeout:
			continue
		case protocol.Disconnect, protocol.IoError:
			h.closeAndRemove()
			return false
		case protocol.Overflow:
			sendError(h.log, h.player, protocol.ErrInvalidCommand)
			h.closeAndRemove()
			return false
		}

		h.player.LastActivity = time.Now()
		cmd, err := protocol.Parse(res.Line)
		if err != nil {
			sendError(h.log, h.player, protocol.ErrInvalidCommand)
			h.closeAndRemove()
			return false
		}
		switch cmd.Verb {
		case protocol.VerbLeaveRoom:
			if err := h.srv.Reg.LeaveRoom(h.player); err != nil {
				sendError(h.log, h.player, protocol.ErrGameInProgress)
				continue
			}
			send(h.log, h.player, protocol.SOk, protocol.KV("cmd", protocol.VerbLeaveRoom))
			return true
		case protocol.VerbPing:
			send(h.log, h.player, protocol.SOk, protocol.KV("cmd", protocol.VerbPing))
		case protocol.VerbExit:
			h.closeAndRemove()
			return false
		default:
			sendError(h.log, h.player, protocol.ErrInvalidCommand)
		}
	}

	return h.parkUntilLobby(room)
}

// parkUntilLobby blocks until the game coordinator has finished its
// match and reset h.player to the Lobby state, following spec §5's
// condition-variable wait pattern (reimplemented as the room's
// close-and-replace broadcast channel). It reports whether this
// handler's connection still holds the slot: if the player dropped
// and a reconnect spliced in a new socket, that connection's handler
// owns the slot now, and false tells this one to stop.
func (h *handler) parkUntilLobby(room *registry.Room) bool {
	conn := h.player.Conn
	for {
		ch := room.Wait()
		<-ch
		if h.player.State == registry.Lobby {
			return h.player.Conn == conn
		}
	}
}

// closeAndRemove is the handler's exit door for a connection that is
// leaving the registry for good; RemovePlayer closes the socket.
func (h *handler) closeAndRemove() {
	h.srv.Reg.RemovePlayer(h.player)
}

func opponent(room *registry.Room, p *registry.Player) *registry.Player {
	players := room.Players()
	for _, q := range players {
		if q != nil && q != p {
			return q
		}
	}
	return nil
}
