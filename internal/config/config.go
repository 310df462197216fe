package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	defaultPaceMillis         = 500
	defaultWriteTimeoutMillis = 5000
)

// GameConfig holds tunables shared by every session.
type GameConfig struct {
	// PaceMillis is the pause before each animated state frame.
	PaceMillis int `json:"pace_millis"`
	// WriteTimeoutMillis bounds a single send to a connection.
	WriteTimeoutMillis int `json:"write_timeout_millis"`
	// InitialTokens overrides the reserve per player; 0 keeps the standard 15.
	InitialTokens int `json:"initial_tokens"`
}

var (
	cfg      *GameConfig
	loadOnce sync.Once
	loadErr  error
)

// LoadGameConfig loads the game configuration from the given path.
func LoadGameConfig(path string) error {
	loadOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read game config: %w", err)
			return
		}

		c := Defaults()
		if err := json.Unmarshal(data, &c); err != nil {
			loadErr = fmt.Errorf("failed to unmarshal game config: %w", err)
			return
		}
		if c.PaceMillis < 0 || c.WriteTimeoutMillis < 0 || c.InitialTokens < 0 {
			loadErr = fmt.Errorf("game config has negative values: %+v", c)
			return
		}
		cfg = &c
	})
	return loadErr
}

// Defaults returns the configuration used when no file was loaded.
func Defaults() GameConfig {
	return GameConfig{
		PaceMillis:         defaultPaceMillis,
		WriteTimeoutMillis: defaultWriteTimeoutMillis,
	}
}

// GetGameConfig returns the global game configuration, or the defaults.
func GetGameConfig() GameConfig {
	if cfg == nil {
		return Defaults()
	}
	return *cfg
}

// Pace returns the animation pause as a duration.
func (c GameConfig) Pace() time.Duration {
	return time.Duration(c.PaceMillis) * time.Millisecond
}

// WriteTimeout returns the per-send deadline; zero disables it.
func (c GameConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMillis) * time.Millisecond
}
