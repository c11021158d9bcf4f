// Package config defines the server's runtime configuration: typed
// defaults, an optional TOML file override, and the shape CLI flags
// fill in on top. CLI parsing itself stays a cmd/server concern; this
// package only defines the struct.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Conf is the server's full runtime configuration (spec §6).
type Conf struct {
	Address    string `toml:"address"`
	Port       uint   `toml:"port"`
	MaxPlayers int    `toml:"max_players"`
	MaxRooms   int    `toml:"max_rooms"`
	LogDir     string `toml:"log_dir"`

	ReconnectTimeout time.Duration `toml:"-"`
	IdleTimeout      time.Duration `toml:"-"`
	ReadTimeout      time.Duration `toml:"-"`
	PingInterval     time.Duration `toml:"-"`
}

// Default returns the server's default configuration, matching spec
// §6's defaults and the scalability constants of spec §6.
func Default() Conf {
	return Conf{
		Address:    "0.0.0.0",
		Port:       12345,
		MaxPlayers: 10,
		MaxRooms:   5,
		LogDir:     "logs",

		ReconnectTimeout: 20 * time.Second,
		IdleTimeout:      20 * time.Second,
		ReadTimeout:      5 * time.Second,
		PingInterval:     10 * time.Second,
	}
}

// Load reads an optional TOML file at path on top of Default,
// returning Default unmodified if path does not exist.
func Load(path string) (Conf, error) {
	conf := Default()
	if path == "" {
		return conf, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return conf, nil
	}

	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return Conf{}, err
	}
	return conf, nil
}
