package session

import (
	"log/slog"
	"strconv"

	"github.com/FilipDolezal/pig-game-server/internal/protocol"
	"github.com/FilipDolezal/pig-game-server/internal/registry"
)

// send encodes verb/pairs and writes it to p's current socket. A
// disconnected player (Conn == nil) is silently skipped, mirroring
// the teacher's Respond, which no-ops once cli.rwc has been unset.
func send(log *slog.Logger, p *registry.Player, verb string, pairs ...protocol.Pair) {
	if p == nil || p.Conn == nil {
		return
	}
	data, err := protocol.Encode(verb, pairs...)
	if err != nil {
		log.Error("failed to encode outgoing message", "verb", verb, "err", err)
		return
	}
	if _, err := protocol.Send(p.Conn, data); err != nil {
		log.Warn("failed to deliver message", "verb", verb, "nick", p.Nickname, "err", err)
	}
}

func sendError(log *slog.Logger, p *registry.Player, msg string) {
	send(log, p, protocol.SError, protocol.KV("msg", msg))
}

// itoa is a tiny readability shim so call sites read "room", itoa(id)
// instead of spelling out strconv at every call site.
func itoa(n int) string { return strconv.Itoa(n) }
