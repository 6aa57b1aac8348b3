package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caprica/lircj/pkg/lirc"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Lirc  LircConfig  `yaml:"lirc"`
	Relay RelayConfig `yaml:"relay"`
	Log   LogConfig   `yaml:"log"`
}

type LircConfig struct {
	Socket          string   `yaml:"socket"`
	RepeatThreshold int      `yaml:"repeat_threshold"`
	ProcessNames    []string `yaml:"process_names"`
}

// RelayConfig controls the optional WebSocket relay of button events.
type RelayConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ClientBuffer   int      `yaml:"client_buffer"`
	MaxClients     int      `yaml:"max_clients"` // 0 means unlimited
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

func defaultConfig() *Config {
	return &Config{
		Lirc: LircConfig{
			Socket:          lirc.DefaultSocketPath,
			RepeatThreshold: lirc.AcceptAllRepeats,
			ProcessNames:    []string{"lircd"},
		},
		Relay: RelayConfig{
			Host:         "127.0.0.1",
			Port:         8765,
			ClientBuffer: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML config file. Fields missing from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Lirc.Socket) == "" {
		return errors.New("lirc.socket must not be empty")
	}
	if c.Relay.Enabled {
		if c.Relay.Port < 1 || c.Relay.Port > 65535 {
			return fmt.Errorf("relay.port %d out of range", c.Relay.Port)
		}
		if c.Relay.ClientBuffer < 1 {
			return fmt.Errorf("relay.client_buffer must be positive, got %d", c.Relay.ClientBuffer)
		}
		if c.Relay.MaxClients < 0 {
			return fmt.Errorf("relay.max_clients must not be negative, got %d", c.Relay.MaxClients)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}
