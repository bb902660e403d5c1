// Command device-cli is the operator-facing front end for the device
// monitor and enumerator described in spec.md §6: it can watch live
// device events, list or show currently enumerated devices, and trigger a
// synthetic "change" uevent for every device found under /sys.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nanoncore/networkd/internal/device"
)

var version = "dev"

type globalFlags struct {
	all      bool
	noPager  bool
	noLegend bool
	sysRoot  string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "device-cli",
		Short:         "Inspect and monitor kernel device events",
		Long:          "device-cli watches, lists, and triggers kernel device (uevent) notifications.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")

	root.PersistentFlags().BoolVarP(&flags.all, "all", "a", false, "show verbose per-device detail")
	root.PersistentFlags().BoolVar(&flags.noPager, "no-pager", false, "do not pipe output through a pager")
	root.PersistentFlags().BoolVar(&flags.noLegend, "no-legend", false, "suppress column headers/legends")
	root.PersistentFlags().StringVar(&flags.sysRoot, "sys-root", device.DefaultSysRoot, "root of the sys filesystem (for testing)")

	root.AddCommand(newMonitorCommand(flags))
	root.AddCommand(newListCommand(flags))
	root.AddCommand(newShowCommand(flags))
	root.AddCommand(newTriggerCommand(flags))

	return root
}

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return log.WithField("component", "device-cli")
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "device-cli:", err)
		os.Exit(1)
	}
}
