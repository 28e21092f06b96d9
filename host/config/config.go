// Package config loads the TOML configuration of the atcomm host tools.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"atcomm/host/logging"
	"atcomm/host/serial"
	"atcomm/protocol"
)

// Config is the top-level host configuration
type Config struct {
	Serial  serial.Config `toml:"serial"`
	Link    LinkConfig    `toml:"link"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// LinkConfig describes one point-to-point link
type LinkConfig struct {
	LocalID      uint8 `toml:"local_id"`
	PeerID       uint8 `toml:"peer_id"`
	BufferSize   int   `toml:"buffer_size"`
	AckTimeoutMS int   `toml:"ack_timeout_ms"`
	AutoAck      *bool `toml:"auto_ack"`
	QueueDepth   int   `toml:"queue_depth"`
}

// AckTimeout returns the configured ACK wait as a duration
func (c LinkConfig) AckTimeout() time.Duration {
	return time.Duration(c.AckTimeoutMS) * time.Millisecond
}

// AutoAckEnabled reports the auto_ack setting, true when unset
func (c LinkConfig) AutoAckEnabled() bool {
	return c.AutoAck == nil || *c.AutoAck
}

type LogConfig struct {
	Level string `toml:"level"`
}

type MetricsConfig struct {
	// Addr serves /metrics when non-empty (e.g. ":9110")
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads, defaults and validates the TOML file at path
func Load(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *Config) {
	def := serial.DefaultConfig("/dev/ttyUSB0")
	if cfg.Serial.Device == "" {
		cfg.Serial.Device = def.Device
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = def.Baud
	}
	if cfg.Serial.ReadTimeout == 0 {
		cfg.Serial.ReadTimeout = def.ReadTimeout
	}

	if cfg.Link.LocalID == 0 && cfg.Link.PeerID == 0 {
		cfg.Link.LocalID = 1
		cfg.Link.PeerID = 2
	}
	if cfg.Link.BufferSize == 0 {
		cfg.Link.BufferSize = 512
	}
	if cfg.Link.AckTimeoutMS == 0 {
		cfg.Link.AckTimeoutMS = 500
	}
	if cfg.Link.QueueDepth == 0 {
		cfg.Link.QueueDepth = 16
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects configurations the link cannot run with
func Validate(cfg Config) error {
	if cfg.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive")
	}
	if cfg.Link.LocalID == cfg.Link.PeerID {
		return fmt.Errorf("link.local_id and link.peer_id must differ (both %d)", cfg.Link.LocalID)
	}
	if cfg.Link.BufferSize < protocol.OverheadLen || cfg.Link.BufferSize > protocol.MaxFrameLen {
		return fmt.Errorf("link.buffer_size %d out of range [%d, %d]",
			cfg.Link.BufferSize, protocol.OverheadLen, protocol.MaxFrameLen)
	}
	if cfg.Link.AckTimeoutMS < 0 {
		return fmt.Errorf("link.ack_timeout_ms must be positive")
	}
	if cfg.Link.QueueDepth < 0 {
		return fmt.Errorf("link.queue_depth must be positive")
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		return fmt.Errorf("log.level %q not recognized", cfg.Log.Level)
	}
	return nil
}
