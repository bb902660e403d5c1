package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nanoncore/networkd/internal/device"
	"github.com/nanoncore/networkd/internal/deviceipc"
)

// colour escapes for the action glyph, per spec.md §6: add/online green,
// remove/offline red, change blue.
const (
	colourGreen = "\033[32m"
	colourRed   = "\033[31m"
	colourBlue  = "\033[34m"
	colourReset = "\033[0m"
)

func actionColour(a device.Action) string {
	switch a {
	case device.ActionAdd, device.ActionOnline:
		return colourGreen
	case device.ActionRemove, device.ActionOffline:
		return colourRed
	case device.ActionChange, device.ActionMove:
		return colourBlue
	default:
		return ""
	}
}

func newMonitorCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Watch kernel device events and bridged bus signals live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, flags)
		},
	}
}

// monitorPrinter serializes writes from the kernel and bus goroutines onto
// a single output stream and tracks, per seqnum, when the kernel-sourced
// copy of an event was first seen so bus-sourced copies can report their
// delay relative to it rather than to monitor start.
type monitorPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	start     time.Time
	legend    bool
	kernelSeen map[uint64]time.Time
}

func newMonitorPrinter(out io.Writer, legend bool) *monitorPrinter {
	p := &monitorPrinter{out: out, start: time.Now(), legend: legend, kernelSeen: make(map[uint64]time.Time)}
	if legend {
		fmt.Fprintln(out, "MONITOR -- Ctrl+C to stop")
	}
	return p
}

func (p *monitorPrinter) printKernel(ev device.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, seen := p.kernelSeen[ev.Seqnum]; !seen {
		p.kernelSeen[ev.Seqnum] = ev.Received
	}
	rel := ev.Received.Sub(p.start)
	p.printLine("KERNEL ", ev.Action, ev.Seqnum, rel, ev.Record.Syspath())
}

func (p *monitorPrinter) printBus(ev deviceipc.WatchedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	base, ok := p.kernelSeen[ev.Seqnum]
	if !ok {
		base = p.start
	}
	rel := time.Since(base)
	p.printLine("DEVICED+", ev.Action, ev.Seqnum, rel, ev.Properties["DEVPATH"])
}

func (p *monitorPrinter) printLine(source string, action device.Action, seqnum uint64, rel time.Duration, syspath string) {
	colour := actionColour(action)
	reset := colourReset
	if colour == "" {
		reset = ""
	}
	secs := rel.Seconds()
	fmt.Fprintf(p.out, "%s %s%-8s%s [%9.6f] #%d %s\n", source, colour, action, reset, secs, seqnum, syspath)
}

func runMonitor(cmd *cobra.Command, flags *globalFlags) error {
	log := newLogger()
	printer := newMonitorPrinter(cmd.OutOrStdout(), !flags.noLegend)

	mon, err := device.NewMonitor(func(_ *device.Monitor, ev device.Event) {
		printer.printKernel(ev)
	}, device.WithSysRoot(flags.sysRoot), device.WithLogger(log))
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if err := mon.Bind(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	defer mon.Close()

	watcher, err := deviceipc.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("monitor: bus watcher unavailable, showing kernel events only")
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
		go func() {
			for ev := range watcher.Events() {
				printer.printBus(ev)
			}
		}()
	}

	stop := make(chan struct{})
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		close(stop)
	}()

	if err := mon.Run(stop); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
