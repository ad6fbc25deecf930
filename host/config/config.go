// Package config loads the host tool configuration from TOML
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Vigne-hub/nadamq/protocol"
)

// Config is the host tool configuration
type Config struct {
	Serial   SerialConfig   `toml:"serial"`
	Protocol ProtocolConfig `toml:"protocol"`
	Read     ReadConfig     `toml:"read"`
	Log      LogConfig      `toml:"log"`
}

type SerialConfig struct {
	Device        string `toml:"device"`
	Baud          int    `toml:"baud"`
	ReadTimeoutMS int    `toml:"read_timeout_ms"`
}

type ProtocolConfig struct {
	MaxPayload int `toml:"max_payload"`
}

type ReadConfig struct {
	TimeoutMS int `toml:"timeout_ms"`
	PollMS    int `toml:"poll_ms"`
}

type LogConfig struct {
	Debug bool `toml:"debug"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// LoadFile parses a TOML configuration file
func LoadFile(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return finish(cfg)
}

// Parse parses TOML configuration data
func Parse(data string) (Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *Config) {
	if cfg.Serial.Device == "" {
		cfg.Serial.Device = "/dev/ttyACM0"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Serial.ReadTimeoutMS == 0 {
		cfg.Serial.ReadTimeoutMS = 100
	}
	if cfg.Protocol.MaxPayload == 0 {
		cfg.Protocol.MaxPayload = protocol.LinkMaxPayload
	}
	if cfg.Read.TimeoutMS == 0 {
		cfg.Read.TimeoutMS = 2000
	}
	if cfg.Read.PollMS == 0 {
		cfg.Read.PollMS = 1
	}
}

// Validate checks the configuration for values the host cannot use
func (c Config) Validate() error {
	if strings.TrimSpace(c.Serial.Device) == "" {
		return fmt.Errorf("serial config missing device")
	}
	if c.Serial.Baud < 0 {
		return fmt.Errorf("serial baud must be positive, got %d", c.Serial.Baud)
	}
	if c.Serial.ReadTimeoutMS < 0 {
		return fmt.Errorf("serial read_timeout_ms must not be negative, got %d", c.Serial.ReadTimeoutMS)
	}
	if c.Protocol.MaxPayload < 0 || c.Protocol.MaxPayload > protocol.MaxPayload {
		return fmt.Errorf("protocol max_payload must be within 0..%d, got %d", protocol.MaxPayload, c.Protocol.MaxPayload)
	}
	if c.Read.TimeoutMS < 0 {
		return fmt.Errorf("read timeout_ms must not be negative, got %d", c.Read.TimeoutMS)
	}
	if c.Read.PollMS < 0 {
		return fmt.Errorf("read poll_ms must not be negative, got %d", c.Read.PollMS)
	}
	return nil
}

// ReadTimeout returns the packet read timeout
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.Read.TimeoutMS) * time.Millisecond
}

// PollInterval returns the byte source poll interval
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Read.PollMS) * time.Millisecond
}
