// Command server runs the TCP game server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/BurntSushi/toml"
	"golang.org/x/sync/errgroup"

	"github.com/FilipDolezal/pig-game-server/internal/config"
	"github.com/FilipDolezal/pig-game-server/internal/logging"
	"github.com/FilipDolezal/pig-game-server/internal/registry"
	"github.com/FilipDolezal/pig-game-server/internal/session"
)

// Default file name for the configuration file.
const defconf = "server.toml"

func main() {
	var (
		confFile   = flag.String("conf", defconf, "Name of configuration file")
		dumpConf   = flag.Bool("dump-config", false, "Dump default configuration")
		address    = flag.String("a", "", "address to bind (overrides config)")
		maxPlayers = flag.Int("p", 0, "max players (overrides config)")
		maxRooms   = flag.Int("r", 0, "max rooms (overrides config)")
		logDir     = flag.String("l", "", "log directory (overrides config)")
	)

	flag.Parse()
	if flag.NArg() > 1 {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Too many arguments passed to %s.\nUsage:\n",
			os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *dumpConf {
		enc := toml.NewEncoder(os.Stdout)
		if err := enc.Encode(config.Default()); err != nil {
			fmt.Fprintln(os.Stderr, "failed to encode default configuration:", err)
			os.Exit(1)
		}
		return
	}

	conf, err := config.Load(*confFile)
	if err != nil && *confFile != defconf {
		fmt.Fprintln(os.Stderr, "loading configuration:", err)
		os.Exit(1)
	}
	if *address != "" {
		conf.Address = *address
	}
	if *maxPlayers != 0 {
		conf.MaxPlayers = *maxPlayers
	}
	if *maxRooms != 0 {
		conf.MaxRooms = *maxRooms
	}
	if *logDir != "" {
		conf.LogDir = *logDir
	}
	if flag.NArg() == 1 {
		port, err := strconv.ParseUint(flag.Arg(0), 10, 16)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid port argument:", flag.Arg(0))
			os.Exit(1)
		}
		conf.Port = uint(port)
	}

	log, closer, err := logging.New(conf.LogDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setting up logging:", err)
		os.Exit(1)
	}
	defer closer()

	if err := run(conf, log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run wires up the registry and the TCP accept loop, and blocks until
// the loop exits or a shutdown signal cancels the context.
func run(conf config.Conf, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	reg := registry.New(conf.MaxPlayers, conf.MaxRooms)
	srv := session.New(reg, conf, log)

	addr := fmt.Sprintf("%s:%d", conf.Address, conf.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		log.Info("listening", "address", addr, "max_players", conf.MaxPlayers, "max_rooms", conf.MaxRooms)
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-gctx.Done():
					return nil
				default:
					log.Warn("accept failed", "err", err)
					continue
				}
			}
			log.Info("accepted connection", logging.WithCategory(logging.Server), "remote", conn.RemoteAddr().String())
			go srv.HandleConnection(conn)
		}
	})

	return g.Wait()
}
