package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wlkit/wlkit/client"
)

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Watch globals appear and disappear",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := connect()
			if err != nil {
				return err
			}
			defer d.Close()

			reg, err := d.GetRegistry()
			if err != nil {
				return err
			}
			names := make(map[uint32]string)
			reg.OnGlobal = func(g client.Global) {
				names[g.Name] = g.Interface
				fmt.Printf("+ %6d  %s v%d\n", g.Name, g.Interface, g.Version)
			}
			reg.OnGlobalRemove = func(name uint32) {
				fmt.Printf("- %6d  %s\n", name, names[name])
				delete(names, name)
			}

			for {
				if err := d.Queue().Dispatch(); err != nil {
					return err
				}
			}
		},
	}
}
