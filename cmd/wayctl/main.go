package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wlkit/wlkit/client"
)

var socketPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "wayctl",
		Short:         "Inspect and poke a display server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"explicit socket path (default: WAYLAND_DISPLAY under XDG_RUNTIME_DIR)")

	rootCmd.AddCommand(
		globalsCmd(),
		monitorCmd(),
		pingCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wayctl: %v\n", err)
		os.Exit(1)
	}
}

// connect dials using the --socket override or the environment contract.
func connect() (*client.Display, error) {
	if socketPath != "" {
		return client.ConnectPath(socketPath)
	}
	return client.Connect()
}
