package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes a starter daemon config, refusing to clobber an
// existing file unless told to.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(serverTemplate), 0o600)
}

const serverTemplate = `socket = "wayland-0"
log_level = "info"
metrics_addr = ":9090"

[limits]
requests_per_second = 1000
burst = 2000

# Globals advertised at startup. Interfaces must exist in the protocol
# schema registry.
# [[globals]]
# interface = "wl_shm"
# version = 1
`
