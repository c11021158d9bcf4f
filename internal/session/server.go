// Package session implements the per-connection state machine and the
// per-room game coordinator that together drive a client from its
// first byte to a finished match and back to the lobby.
package session

import (
	"log/slog"
	"net"

	"github.com/FilipDolezal/pig-game-server/internal/config"
	"github.com/FilipDolezal/pig-game-server/internal/logging"
	"github.com/FilipDolezal/pig-game-server/internal/protocol"
	"github.com/FilipDolezal/pig-game-server/internal/registry"
)

// Server holds everything a connection handler or game coordinator
// needs: the shared registry, the active configuration, and a logger.
// It carries no per-connection state of its own.
type Server struct {
	Reg  *registry.Registry
	Conf config.Conf
	Log  *slog.Logger
}

// New builds a Server around reg, conf and log.
func New(reg *registry.Registry, conf config.Conf, log *slog.Logger) *Server {
	return &Server{Reg: reg, Conf: conf, Log: log}
}

// HandleConnection drives one accepted TCP connection to completion.
// It is meant to be invoked as `go srv.HandleConnection(conn)` from
// the accept loop in cmd/server.
func (s *Server) HandleConnection(conn net.Conn) {
	connID := logging.ConnectionID()
	log := s.Log.With("conn", connID, logging.WithCategory(logging.Server))

	player, err := s.Reg.AddPlayer(conn)
	if err != nil {
		log.Warn("rejecting connection, server full")
		data, encErr := protocol.Encode(protocol.SError, protocol.KV("msg", protocol.ErrServerFull))
		if encErr == nil {
			protocol.Send(conn, data)
		}
		conn.Close()
		return
	}
	h := &handler{srv: s, player: player, log: log}
	h.run()
}
