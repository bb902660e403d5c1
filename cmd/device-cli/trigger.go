package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nanoncore/networkd/internal/device"
)

func newTriggerCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Re-request a change event for every discovered device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd, flags)
		},
	}
}

// runTrigger implements spec.md §8 testable property 12: for each
// enumerated device it opens /sys/<path>/uevent and writes the literal
// 6-byte string "change", which asks the kernel to emit a "change" uevent
// for that device.
func runTrigger(cmd *cobra.Command, flags *globalFlags) error {
	enum := device.NewEnumerator(flags.sysRoot)
	devices, err := enum.Devices()
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}

	var failed int
	for _, rec := range devices {
		path := filepath.Join(rec.Syspath(), "uevent")
		if err := writeChange(path); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trigger: %s: %v\n", path, err)
			failed++
			continue
		}
		if flags.all {
			fmt.Fprintf(cmd.OutOrStdout(), "triggered %s\n", rec.Syspath())
		}
	}
	if failed > 0 {
		return fmt.Errorf("trigger: %d of %d devices failed", failed, len(devices))
	}
	return nil
}

func writeChange(ueventPath string) error {
	f, err := os.OpenFile(ueventPath, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte("change"))
	return err
}
