// Package ipacq implements the per-link IP acquisition engine described in
// spec.md §4.4: it watches a link's CARRIER and IPV6LL state and starts or
// stops the four address-acquisition clients (ipv4ll, dhcp4, dhcp6, ndisc)
// accordingly, installing and removing the ipv4ll fallback address itself.
package ipacq

import (
	"context"
	"net"
)

// IPv4LLEvent is the event an ipv4ll client reports.
type IPv4LLEvent int

const (
	// IPv4LLBind reports a claimed address in 169.254.0.0/16.
	IPv4LLBind IPv4LLEvent = iota
	// IPv4LLConflict reports a defended address lost to a conflicting host.
	IPv4LLConflict
	// IPv4LLStop reports the client gave up (e.g. link went away).
	IPv4LLStop
)

func (e IPv4LLEvent) String() string {
	switch e {
	case IPv4LLBind:
		return "BIND"
	case IPv4LLConflict:
		return "CONFLICT"
	case IPv4LLStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// IPv4LLClient is the contract for an IPv4 link-local address selection
// client (RFC 3927). Start must be non-blocking: it begins probing/defending
// in the background and delivers events on the supplied callback until Stop
// is called or ctx is cancelled.
type IPv4LLClient interface {
	Start(ctx context.Context, ifindex int, mac net.HardwareAddr, seed uint64, events func(IPv4LLEvent, net.IP)) error
	Stop() error
}

// DHCP4Client is the contract for an IPv4 DHCP client. Leases are delivered
// as this package's Lease values via the callback; translation to
// addresses/routes happens in the engine, per spec.md §4.5.
type DHCP4Client interface {
	Start(ctx context.Context, ifindex int, mac net.HardwareAddr, lease func(Lease)) error
	Stop() error
}

// DHCP6Client is the analogous contract for IPv6 DHCP.
type DHCP6Client interface {
	Start(ctx context.Context, ifindex int, mac net.HardwareAddr, lease func(Lease)) error
	Stop() error
}

// RouterAdvertisement is the minimal decoded shape of an IPv6 router
// advertisement the engine acts on.
type RouterAdvertisement struct {
	Router         net.IP
	Prefixes       []net.IPNet
	ManagedConfig  bool // M-bit: run dhcp6 for addresses
	OtherConfig    bool // O-bit: run dhcp6 for other config only
	DefaultLifetime int
}

// NdiscClient is the contract for IPv6 router discovery.
type NdiscClient interface {
	Start(ctx context.Context, ifindex int, mac net.HardwareAddr, ra func(RouterAdvertisement)) error
	Stop() error
}

// Route is one static route carried by a lease (classful or classless for
// IPv4, or an OPTION_NEXT_HOP/option-24-style prefix route for IPv6).
type Route struct {
	DestPrefixLen int
	Dest          net.IP
	Gateway       net.IP
}

// Lease is the minimal shape the engine needs out of a decoded lease to
// translate it into RTNL address/route mutations (spec.md §4.5); the full
// option decode lives in internal/dhcp4lease for IPv4 and whatever client
// package backs DHCP6Client.
type Lease struct {
	Address   net.IP
	PrefixLen int
	Broadcast net.IP // IPv4 only; derived from Address/PrefixLen if absent
	Gateway   net.IP // default gateway, installs a default route if set
	Routes    []Route
	Expired   bool
}
