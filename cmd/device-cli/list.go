package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nanoncore/networkd/internal/device"
)

func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Enumerate all devices currently under /sys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, flags)
		},
	}
}

func runList(cmd *cobra.Command, flags *globalFlags) error {
	enum := device.NewEnumerator(flags.sysRoot)
	devices, err := enum.Devices()
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	out := cmd.OutOrStdout()
	if !flags.noLegend {
		fmt.Fprintf(out, "%-10s %s\n", "SUBSYSTEM", "SYSPATH")
	}
	for _, rec := range devices {
		fmt.Fprintf(out, "%-10s %s\n", rec.Subsystem(), rec.Syspath())
		if flags.all {
			if dn := rec.Devnode(); dn != "" {
				fmt.Fprintf(out, "           devnode: %s\n", dn)
			}
			if drv := rec.Driver(); drv != "" {
				fmt.Fprintf(out, "           driver: %s\n", drv)
			}
		}
	}
	return nil
}
