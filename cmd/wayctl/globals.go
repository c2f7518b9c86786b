package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func globalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "globals",
		Short: "List the advertised globals",
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
			if err := d.Roundtrip(); err != nil {
				return err
			}

			for _, g := range reg.Globals() {
				fmt.Printf("%6d  %-40s v%d\n", g.Name, g.Interface, g.Version)
			}
			return nil
		},
	}
}
