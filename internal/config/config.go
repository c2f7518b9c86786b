package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wlkit/wlkit/proto"
)

// ServerConfig drives the wlhostd daemon.
type ServerConfig struct {
	Socket      string        `toml:"socket"`
	LogLevel    string        `toml:"log_level"`
	MetricsAddr string        `toml:"metrics_addr"`
	Limits      LimitsConfig  `toml:"limits"`
	Globals     []GlobalEntry `toml:"globals"`
}

// LimitsConfig is the per-client flood protection.
type LimitsConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// GlobalEntry advertises one global at startup. The interface must be
// registered in the protocol schema registry.
type GlobalEntry struct {
	Interface string `toml:"interface"`
	Version   uint32 `toml:"version"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Socket:   "wayland-0",
		LogLevel: "info",
	}
}

// LoadServerConfig reads and validates a daemon config, filling defaults
// for anything the file leaves out.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw ServerConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("socket") {
		cfg.Socket = strings.TrimSpace(raw.Socket)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("limits") {
		cfg.Limits = raw.Limits
	}
	if meta.IsDefined("globals") {
		cfg.Globals = raw.Globals
	}

	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if cfg.Socket == "" {
		return fmt.Errorf("server config missing socket")
	}
	if strings.ContainsRune(cfg.Socket, '/') {
		return fmt.Errorf("socket must be a name under the runtime dir, got %q", cfg.Socket)
	}
	if cfg.Limits.RequestsPerSecond < 0 {
		return fmt.Errorf("limits.requests_per_second must not be negative")
	}
	if cfg.Limits.Burst < 0 {
		return fmt.Errorf("limits.burst must not be negative")
	}
	for i, g := range cfg.Globals {
		if err := validateGlobalEntry(g); err != nil {
			return fmt.Errorf("globals[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func validateGlobalEntry(g GlobalEntry) error {
	if strings.TrimSpace(g.Interface) == "" {
		return fmt.Errorf("interface is required")
	}
	iface, ok := proto.Lookup(g.Interface)
	if !ok {
		return fmt.Errorf("unknown interface %q", g.Interface)
	}
	if g.Version < 1 || g.Version > iface.Version {
		return fmt.Errorf("%s version %d not in [1, %d]", g.Interface, g.Version, iface.Version)
	}
	return nil
}
