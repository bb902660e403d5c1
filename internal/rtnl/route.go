package rtnl

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nanoncore/networkd/internal/slot"
)

// RouteData is the value-typed decoded payload of one netlink route message.
type RouteData struct {
	Family     int
	Table      int
	Priority   int
	Dst        *net.IPNet
	Src        *net.IPNet
	Gateway    net.IP
	Tos        int
	OutIfindex int
	Pref       int // RTA_PREF (router preference), IPv6 RA routes only
}

func routeDataFromNetlink(r netlink.Route) RouteData {
	family := unix.AF_INET
	if r.Dst != nil && r.Dst.IP.To4() == nil {
		family = unix.AF_INET6
	} else if r.Gw != nil && r.Gw.To4() == nil {
		family = unix.AF_INET6
	}
	var src *net.IPNet
	if r.Src != nil {
		bits := 32
		if r.Src.To4() == nil {
			bits = 128
		}
		src = &net.IPNet{IP: r.Src, Mask: net.CIDRMask(bits, bits)}
	}
	return RouteData{
		Family:     family,
		Table:      r.Table,
		Priority:   r.Priority,
		Dst:        r.Dst,
		Src:        src,
		Gateway:    r.Gw,
		Tos:        r.Tos,
		OutIfindex: r.LinkIndex,
		Pref:       int(r.Pref),
	}
}

// RouteKey is the route-set key: (family, table, priority, dst prefix
// length, tos [IPv4] or oif [IPv6], normalised dst prefix), per spec.md
// §4.3.
type RouteKey struct {
	Family    int
	Table     int
	Priority  int
	PrefixLen int
	TosOrOif  int
	Dst       [16]byte
}

func routeKeyOf(d RouteData) RouteKey {
	k := RouteKey{Family: d.Family, Table: d.Table, Priority: d.Priority}
	if d.Family == unix.AF_INET {
		k.TosOrOif = d.Tos
	} else {
		k.TosOrOif = d.OutIfindex
	}
	if d.Dst != nil {
		ones, _ := d.Dst.Mask.Size()
		k.PrefixLen = ones
		maskPrefixInto(&k.Dst, d.Dst.IP, ones)
	}
	return k
}

// routeKeyHash produces a hash compatible with RouteKey equality, for use in
// a plain Go map (map equality on the fixed-size struct already gives this
// for free; the function exists so callers needing an explicit integer key,
// e.g. logging or metrics cardinality limiting, have one available).
func routeKeyHash(k RouteKey) uint64 {
	h := uint64(k.Family)*31 + uint64(k.Table)
	h = h*31 + uint64(k.Priority)
	h = h*31 + uint64(k.PrefixLen)
	h = h*31 + uint64(k.TosOrOif)
	h = h*31 + binary.BigEndian.Uint64(k.Dst[:8])
	h = h*31 + binary.BigEndian.Uint64(k.Dst[8:])
	return h
}

// Route is the identity object for one route key.
type Route struct {
	subs slot.List[*Route]

	mu   sync.RWMutex
	data RouteData
}

// Data returns a copy of the route's current decoded payload.
func (r *Route) Data() RouteData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

// Subscribe registers callback against this specific route object. callback
// receives nil when the route is removed (RTM_DELROUTE).
func (r *Route) Subscribe(callback func(*Route)) *slot.Slot[*Route] {
	return r.subs.Subscribe(callback)
}

func (r *Route) setData(d RouteData) {
	r.mu.Lock()
	r.data = d
	r.mu.Unlock()
}
