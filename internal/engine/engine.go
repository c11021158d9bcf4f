// Package engine implements the pure rules of Pig: a turn-based dice
// game for exactly two players. Nothing in this package performs I/O;
// GameState is a plain value manipulated by New/Roll/Hold rather than
// a server object with side effects.
package engine

import "math/rand"

// WinningScore is the number of banked points required to win a game
// (spec §4.4, §6).
const WinningScore = 30

// GameState is the full state of one match. It carries no socket or
// identity information — that is the session coordinator's concern —
// only the numbers the Pig rules operate on.
type GameState struct {
	Scores       [2]int
	Current      int // 0 or 1
	TurnScore    int
	LastRoll     int // most recent roll 1..6; 0 at game start and after a Hold
	GameOver     bool
	Winner       int // -1 until GameOver

	rng *rand.Rand
}

// New creates a GameState seeded from seed, with a uniformly random
// starting player. The PRNG is thread-local to this GameState — never
// a shared global source — so concurrent games never contend on or
// correlate through the same random stream (spec §4.4).
func New(seed int64) *GameState {
	g := &GameState{
		Winner: -1,
		rng:    rand.New(rand.NewSource(seed)),
	}
	g.Current = g.rng.Intn(2)
	return g
}

// Other returns the index of the player who is not currently active.
func Other(player int) int {
	return 1 - player
}

// Roll draws a uniform die value in 1..6 and applies it to the turn
// in progress. Rolling a 1 zeroes the turn and switches the active
// player; any other value accumulates into TurnScore, and an
// accumulated total reaching WinningScore ends the game immediately.
func (g *GameState) Roll() int {
	if g.GameOver {
		return g.LastRoll
	}

	r := g.rng.Intn(6) + 1
	g.LastRoll = r

	if r == 1 {
		g.TurnScore = 0
		g.Switch()
		return r
	}

	g.TurnScore += r
	if g.Scores[g.Current]+g.TurnScore >= WinningScore {
		g.GameOver = true
		g.Winner = g.Current
	}
	return r
}

// Hold banks the current turn's accumulated score for the active
// player. If that brings them to WinningScore the game ends;
// otherwise play passes to the other player.
func (g *GameState) Hold() {
	if g.GameOver {
		return
	}

	g.Scores[g.Current] += g.TurnScore
	g.TurnScore = 0
	g.LastRoll = 0

	if g.Scores[g.Current] >= WinningScore {
		g.GameOver = true
		g.Winner = g.Current
		return
	}
	g.Switch()
}

// Switch passes the turn to the other player.
func (g *GameState) Switch() {
	g.Current = Other(g.Current)
}

// Resign ends the game immediately in favor of the other player, for
// use when a player quits or is timed out (spec §4.5.2, §7).
func (g *GameState) Resign(loser int) {
	if g.GameOver {
		return
	}
	g.GameOver = true
	g.Winner = Other(loser)
}
