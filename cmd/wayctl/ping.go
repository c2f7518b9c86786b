package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func pingCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure request/event roundtrip latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := connect()
			if err != nil {
				return err
			}
			defer d.Close()

			var total time.Duration
			for i := 0; i < count; i++ {
				start := time.Now()
				if err := d.Roundtrip(); err != nil {
					return err
				}
				rtt := time.Since(start)
				total += rtt
				fmt.Printf("roundtrip %d: %v\n", i+1, rtt)
			}
			fmt.Printf("average: %v\n", total/time.Duration(count))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "c", 4, "number of roundtrips")
	return cmd
}
