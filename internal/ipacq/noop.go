package ipacq

import (
	"context"
	"net"
)

// The noop* clients let an Engine be built without wiring all four
// sub-protocols (e.g. an IPv4-only policy, or a unit test exercising only
// the state machine); Start/Stop are both no-ops.

type noopIPv4LL struct{}

func (noopIPv4LL) Start(context.Context, int, net.HardwareAddr, uint64, func(IPv4LLEvent, net.IP)) error {
	return nil
}
func (noopIPv4LL) Stop() error { return nil }

type noopDHCP4 struct{}

func (noopDHCP4) Start(context.Context, int, net.HardwareAddr, func(Lease)) error { return nil }
func (noopDHCP4) Stop() error                                                    { return nil }

type noopDHCP6 struct{}

func (noopDHCP6) Start(context.Context, int, net.HardwareAddr, func(Lease)) error { return nil }
func (noopDHCP6) Stop() error                                                    { return nil }

type noopNdisc struct{}

func (noopNdisc) Start(context.Context, int, net.HardwareAddr, func(RouterAdvertisement)) error {
	return nil
}
func (noopNdisc) Stop() error { return nil }
