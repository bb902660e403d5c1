package rtnl

import (
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nanoncore/networkd/internal/slot"
)

// CreateAddress queues an RTM_NEWADDR for data and returns a slot carrying
// callback, invoked once with the resulting cache object on success or with
// nil on socket error or kernel refusal (spec.md §4.3 "Mutation"). The
// netlink.Addr sent on the wire follows the address policy exactly:
//   - IPv4: emit IFA_LOCAL; IFA_ADDRESS only if Peer is set, else
//     IFA_BROADCAST only if Broadcast is set.
//   - IPv6: emit IFA_LOCAL, and IFA_ADDRESS if Peer is set.
//   - Flags: low 8 bits go through the legacy field; the full 32-bit value
//     is additionally carried (as IFA_FLAGS) whenever any high bit is set.
func (c *Cache) CreateAddress(data AddrData, callback func(*Address)) *slot.Slot[*Address] {
	key := addrKeyOf(data)

	var placeholder slot.List[*Address]
	s := placeholder.Subscribe(func(*Address) {})

	if callback != nil {
		c.mu.Lock()
		c.pendingAddrs[key] = callback
		c.mu.Unlock()
		s = s.WithCleanup(func() {
			c.mu.Lock()
			delete(c.pendingAddrs, key)
			c.mu.Unlock()
		})
	}

	nlAddr := addrDataToNetlink(data)
	link := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Index: data.Ifindex}}

	go func() {
		if err := c.handle.AddrReplace(link, nlAddr); err != nil {
			c.log.WithError(err).WithField("ifindex", data.Ifindex).Warn("rtnl: address create refused")
			if callback != nil {
				c.mu.Lock()
				delete(c.pendingAddrs, key)
				c.mu.Unlock()
				callback(nil)
			}
		}
		// On success the kernel broadcasts a matching RTM_NEWADDR, which
		// upsertAddr ingests normally and which fulfils the pending
		// callback registered above.
	}()

	return s
}

// CreateRoute queues an RTM_NEWROUTE for data, mirroring CreateAddress.
// Destination and source prefixes are only emitted when their prefix length
// is non-zero; RTA_PRIORITY, RTA_PREF, and RTA_OIF are always emitted;
// tables above 255 are carried via RTA_TABLE (the library promotes this
// automatically once Route.Table exceeds the one-byte legacy field range).
func (c *Cache) CreateRoute(data RouteData, callback func(*Route)) *slot.Slot[*Route] {
	key := routeKeyOf(data)

	var placeholder slot.List[*Route]
	s := placeholder.Subscribe(func(*Route) {})

	if callback != nil {
		c.mu.Lock()
		c.pendingRoutes[key] = callback
		c.mu.Unlock()
		s = s.WithCleanup(func() {
			c.mu.Lock()
			delete(c.pendingRoutes, key)
			c.mu.Unlock()
		})
	}

	nlRoute := routeDataToNetlink(data)

	go func() {
		if err := c.handle.RouteReplace(nlRoute); err != nil {
			c.log.WithError(err).WithField("table", data.Table).Warn("rtnl: route create refused")
			if callback != nil {
				c.mu.Lock()
				delete(c.pendingRoutes, key)
				c.mu.Unlock()
				callback(nil)
			}
		}
	}()

	return s
}

// DestroyAddress queues an RTM_DELADDR. Its slot carries no callback by
// default, matching spec.md §4.3.
func (c *Cache) DestroyAddress(data AddrData) *slot.Slot[*Address] {
	nlAddr := addrDataToNetlink(data)
	link := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Index: data.Ifindex}}
	var placeholder slot.List[*Address]
	s := placeholder.Subscribe(func(*Address) {})
	go func() {
		if err := c.handle.AddrDel(link, nlAddr); err != nil {
			c.log.WithError(err).WithField("ifindex", data.Ifindex).Debug("rtnl: address destroy refused")
		}
	}()
	return s
}

// DestroyRoute queues an RTM_DELROUTE.
func (c *Cache) DestroyRoute(data RouteData) *slot.Slot[*Route] {
	nlRoute := routeDataToNetlink(data)
	var placeholder slot.List[*Route]
	s := placeholder.Subscribe(func(*Route) {})
	go func() {
		if err := c.handle.RouteDel(nlRoute); err != nil {
			c.log.WithError(err).WithField("table", data.Table).Debug("rtnl: route destroy refused")
		}
	}()
	return s
}

func addrDataToNetlink(d AddrData) *netlink.Addr {
	mask := net.CIDRMask(d.PrefixLen, 32)
	if d.Family == unix.AF_INET6 {
		mask = net.CIDRMask(d.PrefixLen, 128)
	}
	a := &netlink.Addr{
		IPNet:       &net.IPNet{IP: d.Local, Mask: mask},
		Label:       d.Label,
		Scope:       d.Scope,
		PreferedLft: d.PreferredLft,
		ValidLft:    d.ValidLft,
		Flags:       int(d.Flags), // library promotes to IFA_FLAGS automatically above 8 bits
	}
	if d.Peer != nil {
		a.Peer = &net.IPNet{IP: d.Peer, Mask: mask}
	} else if d.Broadcast != nil {
		a.Broadcast = d.Broadcast
	}
	return a
}

func routeDataToNetlink(d RouteData) *netlink.Route {
	r := &netlink.Route{
		Table:      d.Table,
		Priority:   d.Priority,
		Tos:        d.Tos,
		LinkIndex:  d.OutIfindex,
		Gw:         d.Gateway,
		Pref:       netlink.IPv6RouterPref(d.Pref),
	}
	if d.Dst != nil {
		if ones, _ := d.Dst.Mask.Size(); ones > 0 {
			r.Dst = d.Dst
		}
	}
	if d.Src != nil {
		if ones, _ := d.Src.Mask.Size(); ones > 0 {
			r.Src = d.Src.IP
		}
	}
	return r
}
