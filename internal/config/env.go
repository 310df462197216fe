package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServerConfig configures the standalone websocket server.
type ServerConfig struct {
	Addr           string   `env:"PYLOS_ADDR" envDefault:":8000"`
	DBPath         string   `env:"PYLOS_DB_PATH" envDefault:"pylos.db"`
	GameConfigPath string   `env:"PYLOS_GAME_CONFIG"`
	AuthSecret     string   `env:"PYLOS_AUTH_SECRET"`
	Origins        []string `env:"PYLOS_ORIGINS" envSeparator:","`
	MsgRate        float64  `env:"PYLOS_MSG_RATE" envDefault:"5"`
	MsgBurst       int      `env:"PYLOS_MSG_BURST" envDefault:"10"`
	LogDev         bool     `env:"PYLOS_LOG_DEV" envDefault:"false"`
}

// LoadServerConfig parses ServerConfig from the process environment.
func LoadServerConfig() (ServerConfig, error) {
	var c ServerConfig
	if err := env.Parse(&c); err != nil {
		return ServerConfig{}, fmt.Errorf("parse server env: %w", err)
	}
	if c.MsgRate <= 0 || c.MsgBurst <= 0 {
		return ServerConfig{}, fmt.Errorf("message rate and burst must be positive, got %v/%d", c.MsgRate, c.MsgBurst)
	}
	return c, nil
}
