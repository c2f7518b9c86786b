package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wlhostd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServerConfigFillsDefaults(t *testing.T) {
	path := writeConfig(t, `metrics_addr = ":9090"`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Socket != "wayland-0" {
		t.Fatalf("default socket: %q", cfg.Socket)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("default log level: %q", cfg.LogLevel)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Fatalf("metrics addr: %q", cfg.MetricsAddr)
	}
}

func TestLoadServerConfigFull(t *testing.T) {
	path := writeConfig(t, `
socket = "wayland-1"
log_level = "debug"

[limits]
requests_per_second = 500.0
burst = 1000

[[globals]]
interface = "wl_callback"
version = 1
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Socket != "wayland-1" || cfg.LogLevel != "debug" {
		t.Fatalf("fields not applied: %+v", cfg)
	}
	if cfg.Limits.RequestsPerSecond != 500 || cfg.Limits.Burst != 1000 {
		t.Fatalf("limits not applied: %+v", cfg.Limits)
	}
	if len(cfg.Globals) != 1 || cfg.Globals[0].Interface != "wl_callback" {
		t.Fatalf("globals not applied: %+v", cfg.Globals)
	}
}

func TestLoadServerConfigRejectsUnknownInterface(t *testing.T) {
	path := writeConfig(t, `
[[globals]]
interface = "no_such_interface"
version = 1
`)
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatalf("expected unknown interface to fail validation")
	}
}

func TestLoadServerConfigRejectsVersionOutOfRange(t *testing.T) {
	path := writeConfig(t, `
[[globals]]
interface = "wl_callback"
version = 5
`)
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatalf("expected out-of-range version to fail validation")
	}
}

func TestLoadServerConfigRejectsPathSocket(t *testing.T) {
	path := writeConfig(t, `socket = "/tmp/abs"`)
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatalf("expected absolute socket to fail validation")
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wlhostd.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}

	if _, err := LoadServerConfig(path); err != nil {
		t.Fatalf("template does not validate: %v", err)
	}
}
