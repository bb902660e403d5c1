// Command networkd is the integration harness described in spec.md §4.8:
// one event loop wiring the device monitor, the RTNL object cache, the
// D-Bus IPC bridge, and one IP acquisition engine per non-loopback link.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nanoncore/networkd/internal/config"
	"github.com/nanoncore/networkd/internal/device"
	"github.com/nanoncore/networkd/internal/deviceipc"
	"github.com/nanoncore/networkd/internal/rtnl"
)

func main() {
	configPath := flag.String("config", "", "path to the daemon's TOML configuration file")
	flag.Parse()

	log := logrus.New()
	if err := run(*configPath, log); err != nil {
		log.WithError(err).Error("networkd exiting")
		os.Exit(1)
	}
}

func run(configPath string, log *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("networkd: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := rtnl.New(log.WithField("component", "rtnl"))
	if err != nil {
		return fmt.Errorf("networkd: rtnl cache: %w", err)
	}
	defer cache.Close()
	if err := cache.Start(ctx); err != nil {
		return fmt.Errorf("networkd: rtnl cache start: %w", err)
	}

	bridge, err := deviceipc.New(log.WithField("component", "deviceipc"))
	if err != nil {
		log.WithError(err).Warn("networkd: device1 bridge unavailable, running without D-Bus signals")
		bridge = nil
	} else {
		defer bridge.Close()
	}

	mon, err := device.NewMonitor(
		func(_ *device.Monitor, ev device.Event) {
			if bridge != nil {
				bridge.Publish(ev)
			}
		},
		device.WithSysRoot(cfg.SysRoot),
		device.WithReceiveBuffer(cfg.Device.ReceiveBufferBytes),
		device.WithLogger(log.WithField("component", "device.monitor")),
	)
	if err != nil {
		return fmt.Errorf("networkd: device monitor: %w", err)
	}
	if err := mon.Bind(); err != nil {
		return fmt.Errorf("networkd: device monitor bind: %w", err)
	}
	defer mon.Close()

	supervisor := newLinkSupervisor(cache, cfg, log.WithField("component", "ipacq"))
	supervisor.attach()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		return nil
	})
	group.Go(func() error {
		return mon.Run(ctx.Done())
	})

	return group.Wait()
}
