package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wlkit/wlkit/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage wlhostd configuration",
	}

	var overwrite bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter wlhostd config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "wlhostd.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, overwrite); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&overwrite, "force", "f", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a wlhostd config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ok: socket=%s globals=%d\n", cfg.Socket, len(cfg.Globals))
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
