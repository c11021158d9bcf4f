package session

import (
	"log/slog"
	"net"
	"time"

	"github.com/FilipDolezal/pig-game-server/internal/engine"
	"github.com/FilipDolezal/pig-game-server/internal/logging"
	"github.com/FilipDolezal/pig-game-server/internal/protocol"
	"github.com/FilipDolezal/pig-game-server/internal/registry"
)

// socketPollInterval is how long the coordinator waits on each
// player's socket per round while a match is live. Checking both
// sockets once per round keeps worst-case detection latency for a
// dropped opponent within the ~1s spec §8 scenario S3 expects, without
// the two reads ever running concurrently against the same Reader.
const socketPollInterval = 500 * time.Millisecond

// pausePollInterval is how often a paused match rechecks its
// reconnect deadline against the wall clock.
const pausePollInterval = 1 * time.Second

// coordinator is the per-match goroutine spawned once a room fills
// (spec §4.5.2). It is the sole owner of the match's engine.GameState
// and moves the room between InProgress and Paused; a reconnecting
// player's handler moves it back to InProgress on RESUME, or to
// Aborted when that handshake fails. The coordinator hands the room
// back to Waiting, through the registry, once the match ends.
//
// Grounded on the teacher's game.go: Game.Play's central select loop
// over player moves and a death channel, here generalized to two
// sockets with bounded per-socket reads instead of one move channel
// per side, since neither player's net.Conn offers a channel-shaped
// "next line" primitive on its own.
type coordinator struct {
	srv  *Server
	room *registry.Room
	log  *slog.Logger

	// pausedIdx/pausedIdle record why the room is currently Paused,
	// set by whichever of handleDisconnect/checkIdle triggered it.
	pausedIdx  int
	pausedIdle bool
}

func newCoordinator(srv *Server, room *registry.Room) *coordinator {
	return &coordinator{
		srv:  srv,
		room: room,
		log:  srv.Log.With("room", room.ID, logging.WithCategory(logging.Game)),
	}
}

func (c *coordinator) Run() {
	players := c.room.Players()
	seed := time.Now().UnixNano() ^ int64(c.room.ID)<<32
	game := engine.New(seed)

	for i, p := range players {
		if p == nil {
			continue
		}
		send(c.log, p, protocol.SGameStart,
			protocol.KV("your_turn", bit01(game.Current == i)),
			protocol.KV("opp_nick", nickOf(peerOf(players, i))))
	}
	c.log.Info("match started")

	c.mainLoop(game, players)
	c.teardown(game)
}

// mainLoop drives the match until game.GameOver, handling pause and
// resume along the way.
func (c *coordinator) mainLoop(game *engine.GameState, players [registry.MaxPlayersPerRoom]*registry.Player) {
	shadow := [registry.MaxPlayersPerRoom]net.Conn{}
	for i, p := range players {
		if p != nil {
			shadow[i] = p.Conn
		}
	}

	var pauseDeadline time.Time
	for !game.GameOver {
		if c.room.State() == registry.Aborted {
			return
		}

		if c.room.State() == registry.Paused {
			if pauseDeadline.IsZero() {
				pauseDeadline = time.Now().Add(c.srv.Conf.ReconnectTimeout)
			}
			c.waitOutPause(game, players, pauseDeadline)
			if game.GameOver {
				return
			}
			if c.room.State() == registry.InProgress {
				pauseDeadline = time.Time{}
			}
			continue
		}
		pauseDeadline = time.Time{}

		// Refresh the fd shadow: a reconnect splices a new socket
		// into an existing slot without this goroutine's
		// involvement, so re-send the player their current state
		// whenever their connection identity changes underneath us.
		for i, p := range players {
			if p == nil {
				continue
			}
			conn := p.Conn
			if conn != nil && conn != shadow[i] {
				c.sendState(game, i, p)
			}
			shadow[i] = conn
		}

		sawLine := false
		for i, p := range players {
			if p == nil || !p.Connected() {
				continue
			}
			res := p.Reader.Receive(socketPollInterval)
			switch res.Kind {
			case protocol.Timeout:
				continue
			case protocol.Disconnect, protocol.IoError:
				c.pause(players, i, false)
			case protocol.Overflow:
				c.log.Warn("dropping oversized in-game line", "nick", p.Nickname)
			case protocol.Line:
				sawLine = true
				p.LastActivity = time.Now()
				c.dispatch(game, players, i, res.Line)
			}
			if game.GameOver || c.room.State() != registry.InProgress {
				break
			}
		}

		if !sawLine && c.room.State() == registry.InProgress {
			c.checkIdle(players)
		}
	}
}

func (c *coordinator) dispatch(game *engine.GameState, players [registry.MaxPlayersPerRoom]*registry.Player, i int, line string) {
	p := players[i]
	cmd, err := protocol.Parse(line)
	if err != nil {
		c.log.Warn("dropping malformed in-game line", "nick", p.Nickname)
		return
	}

	switch cmd.Verb {
	case protocol.VerbPing:
		send(c.log, p, protocol.SOk, protocol.KV("cmd", protocol.VerbPing))
	case protocol.VerbLeaveRoom:
		sendError(c.log, p, protocol.ErrGameInProgress)
	case protocol.VerbGameStateRequest:
		c.sendState(game, i, p)
	case protocol.VerbQuit:
		game.Resign(i)
		c.log.Info("player quit", "nick", p.Nickname)
		c.broadcastState(game, players)
	case protocol.VerbRoll:
		if game.Current != i {
			sendError(c.log, p, protocol.ErrInvalidCommand)
			return
		}
		game.Roll()
		c.broadcastState(game, players)
	case protocol.VerbHold:
		if game.Current != i {
			sendError(c.log, p, protocol.ErrInvalidCommand)
			return
		}
		game.Hold()
		c.broadcastState(game, players)
	default:
		sendError(c.log, p, protocol.ErrInvalidCommand)
	}
}

// pause marks players[i] as the reason the match is stalling — either
// a hard socket disconnect (idle == false) or a connected-but-silent
// timeout (idle == true) — and moves the room to Paused.
func (c *coordinator) pause(players [registry.MaxPlayersPerRoom]*registry.Player, i int, idle bool) {
	p := players[i]
	if !idle {
		c.srv.Reg.HandleDisconnect(p)
		c.log.Info("opponent disconnected", "nick", p.Nickname)
	} else {
		c.log.Info("opponent idle", "nick", p.Nickname)
	}
	c.pausedIdx = i
	c.pausedIdle = idle
	c.room.SetState(registry.Paused)
	if peer := peerOf(players, i); peer != nil {
		send(c.log, peer, protocol.SOpponentDisconnected, protocol.KV("nick", p.Nickname))
	}
}

// checkIdle pauses the match if a connected player has gone silent
// for longer than IdleTimeout, without a hard socket disconnect.
func (c *coordinator) checkIdle(players [registry.MaxPlayersPerRoom]*registry.Player) {
	for i, p := range players {
		if p == nil || !p.Connected() {
			continue
		}
		if time.Since(p.LastActivity) > c.srv.Conf.IdleTimeout {
			c.pause(players, i, true)
			return
		}
	}
}

// waitOutPause blocks while the room is Paused, polling the reconnect
// deadline and (when the stalled player is merely idle, not hard
// disconnected) that player's own socket for any line that counts as
// activity.
func (c *coordinator) waitOutPause(game *engine.GameState, players [registry.MaxPlayersPerRoom]*registry.Player, deadline time.Time) {
	if time.Now().After(deadline) {
		c.timeoutLoss(game, players)
		return
	}

	if c.pausedIdle {
		p := players[c.pausedIdx]
		res := p.Reader.Receive(pausePollInterval)
		switch res.Kind {
		case protocol.Line:
			p.LastActivity = time.Now()
			if cmd, err := protocol.Parse(res.Line); err == nil && cmd.Verb == protocol.VerbPing {
				send(c.log, p, protocol.SOk, protocol.KV("cmd", protocol.VerbPing))
			}
			c.resume(players, c.pausedIdx)
		case protocol.Disconnect, protocol.IoError:
			c.srv.Reg.HandleDisconnect(p)
			c.pausedIdle = false
		}
		return
	}

	// Hard-disconnect case: nothing to read locally, wait for the
	// reconnecting handler's RESUME to flip the room back to
	// InProgress (or to Aborted, if that handshake fails).
	select {
	case <-c.room.Wait():
	case <-time.After(pausePollInterval):
	}
}

func (c *coordinator) resume(players [registry.MaxPlayersPerRoom]*registry.Player, idx int) {
	c.room.SetState(registry.InProgress)
	if peer := peerOf(players, idx); peer != nil {
		send(c.log, peer, protocol.SOpponentReconnected, protocol.KV("nick", players[idx].Nickname))
	}
	c.room.Broadcast()
}

func (c *coordinator) timeoutLoss(game *engine.GameState, players [registry.MaxPlayersPerRoom]*registry.Player) {
	idx := c.pausedIdx
	game.Resign(idx)
	winner := engine.Other(idx)
	if players[winner] != nil {
		send(c.log, players[winner], protocol.SGameWin, protocol.KV("msg", "your opponent timed out"))
	}
	if c.pausedIdle && players[idx] != nil {
		send(c.log, players[idx], protocol.SDisconnected, protocol.KV("msg", "reconnect timeout"))
	}
	c.log.Info("match ended on reconnect timeout", "loser", nickOf(players[idx]))
}

// sendState renders GAME_STATE from i's own perspective: my_score and
// opp_score swap depending on the recipient, and your_turn reflects
// whether i is the currently active player.
func (c *coordinator) sendState(game *engine.GameState, i int, p *registry.Player) {
	send(c.log, p, protocol.SGameState,
		protocol.KV("my_score", itoa(game.Scores[i])),
		protocol.KV("opp_score", itoa(game.Scores[engine.Other(i)])),
		protocol.KV("turn_score", itoa(game.TurnScore)),
		protocol.KV("roll", itoa(game.LastRoll)),
		protocol.KV("your_turn", bit01(game.Current == i)))
}

func (c *coordinator) broadcastState(game *engine.GameState, players [registry.MaxPlayersPerRoom]*registry.Player) {
	for i, p := range players {
		if p != nil {
			c.sendState(game, i, p)
		}
	}
	if game.GameOver {
		for i, p := range players {
			if p == nil {
				continue
			}
			if i == game.Winner {
				send(c.log, p, protocol.SGameWin)
			} else {
				send(c.log, p, protocol.SGameLose)
			}
		}
		c.log.Info("match finished", "winner", nickOf(players[game.Winner]))
	}
}

// teardown returns the room to Waiting and every still-slotted player
// to Lobby, via the registry (spec §3 invariant 6: the registry is the
// only writer of slot assignments; the coordinator crosses that
// boundary through the room's mutex rather than writing the fields
// itself).
func (c *coordinator) teardown(game *engine.GameState) {
	if !game.GameOver {
		// The room was aborted by a reconnecting player's failed
		// RESUME; there is no meaningful winner, but EndGame only
		// needs the room, not the final score.
		game.GameOver = true
	}
	c.srv.Reg.EndGame(c.room)
}

func peerOf(players [registry.MaxPlayersPerRoom]*registry.Player, i int) *registry.Player {
	return players[engine.Other(i)]
}

func nickOf(p *registry.Player) string {
	if p == nil {
		return ""
	}
	return p.Nickname
}

func bit01(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
