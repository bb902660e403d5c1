package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nanoncore/networkd/internal/device"
)

func newShowCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <syspath>",
		Short: "Print all known properties of one device",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("invalid number of arguments: show takes exactly one syspath")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, flags, args[0])
		},
	}
}

func runShow(cmd *cobra.Command, flags *globalFlags, syspath string) error {
	rec, err := device.NewFromSyspath(flags.sysRoot, syspath)
	if err != nil {
		return fmt.Errorf("show %s: %w", syspath, err)
	}
	if err := device.LoadDatabase("", rec, newLogger()); err != nil {
		return fmt.Errorf("show %s: %w", syspath, err)
	}

	out := cmd.OutOrStdout()
	if !flags.noLegend {
		fmt.Fprintf(out, "# %s\n", rec.Syspath())
	}
	fmt.Fprintf(out, "SUBSYSTEM=%s\n", rec.Subsystem())
	if dt := rec.Devtype(); dt != "" {
		fmt.Fprintf(out, "DEVTYPE=%s\n", dt)
	}
	if dn := rec.Devnode(); dn != "" {
		fmt.Fprintf(out, "DEVNAME=%s\n", dn)
	}
	if maj, min, ok := rec.Devnum(); ok {
		fmt.Fprintf(out, "MAJOR=%d\nMINOR=%d\n", maj, min)
	}
	if idx, ok := rec.Ifindex(); ok {
		fmt.Fprintf(out, "IFINDEX=%d\n", idx)
	}
	for _, kv := range rec.Properties() {
		fmt.Fprintf(out, "%s=%s\n", kv.Key, kv.Value)
	}
	if flags.all {
		for _, l := range rec.Devlinks() {
			fmt.Fprintf(out, "DEVLINK=%s\n", l)
		}
		for _, tag := range rec.Tags() {
			fmt.Fprintf(out, "TAG=%s\n", tag)
		}
	}
	return nil
}
