package rtnl

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nanoncore/networkd/internal/slot"
	"github.com/nanoncore/networkd/internal/xerrors"
)

// rcvbufSize is the kernel receive buffer forced onto the route-netlink
// socket at start, per spec.md §4.3 / §6.
const rcvbufSize = 16 << 20

// Cache is the authoritative in-process mirror of the kernel's link,
// address, and route tables (spec.md §4.3).
type Cache struct {
	log    *logrus.Entry
	handle *netlink.Handle

	mu     sync.Mutex
	links  map[int]*Link
	addrs  map[AddrKey]*Address
	routes map[RouteKey]*Route

	globalLinks  slot.List[*Link]
	globalAddrs  slot.List[*Address]
	globalRoutes slot.List[*Route]

	enumeratingLinks, enumeratingAddrs, enumeratingRoutes bool

	pendingAddrs  map[AddrKey]func(*Address)
	pendingRoutes map[RouteKey]func(*Route)

	linkUpdates  chan netlink.LinkUpdate
	addrUpdates  chan netlink.AddrUpdate
	routeUpdates chan netlink.RouteUpdate
	subDone      chan struct{}

	started bool
	closed  bool
}

// New constructs a Cache. Call Start to enumerate and begin following
// updates.
func New(log *logrus.Entry) (*Cache, error) {
	if log == nil {
		log = logrus.WithField("component", "rtnl.cache")
	}
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("rtnl: open route-netlink handle: %w", err)
	}
	return &Cache{
		log:           log,
		handle:        h,
		links:         make(map[int]*Link),
		addrs:         make(map[AddrKey]*Address),
		routes:        make(map[RouteKey]*Route),
		pendingAddrs:  make(map[AddrKey]func(*Address)),
		pendingRoutes: make(map[RouteKey]func(*Route)),
		linkUpdates:   make(chan netlink.LinkUpdate, 64),
		addrUpdates:   make(chan netlink.AddrUpdate, 64),
		routeUpdates:  make(chan netlink.RouteUpdate, 64),
		subDone:       make(chan struct{}),
	}, nil
}

// Start enumerates links, then addresses, then routes (spec.md §4.3 order),
// suppressing subscriber notification for that initial snapshot, then
// begins following route-netlink multicast for subsequent changes. Start
// blocks until all three enumerations complete.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("rtnl: cache already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := raiseRcvbuf(c.handle); err != nil {
		c.log.WithError(err).Warn("failed to raise route-netlink receive buffer")
	}

	c.mu.Lock()
	c.enumeratingLinks = true
	c.mu.Unlock()
	links, err := c.handle.LinkList()
	if err != nil {
		return fmt.Errorf("rtnl: %w: list links: %v", xerrors.ErrEnumerationFailed, err)
	}
	for _, l := range links {
		c.upsertLink(linkDataFromNetlink(l))
	}
	c.mu.Lock()
	c.enumeratingLinks = false
	c.mu.Unlock()

	c.mu.Lock()
	c.enumeratingAddrs = true
	c.mu.Unlock()
	addrs, err := c.handle.AddrList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("rtnl: %w: list addresses: %v", xerrors.ErrEnumerationFailed, err)
	}
	for _, a := range addrs {
		c.upsertAddr(addrDataFromNetlink(addrLinkIndex(a), a))
	}
	c.mu.Lock()
	c.enumeratingAddrs = false
	c.mu.Unlock()

	c.mu.Lock()
	c.enumeratingRoutes = true
	c.mu.Unlock()
	routes, err := c.handle.RouteListFiltered(netlink.FAMILY_ALL, nil, 0)
	if err != nil {
		return fmt.Errorf("rtnl: %w: list routes: %v", xerrors.ErrEnumerationFailed, err)
	}
	for _, r := range routes {
		c.upsertRoute(routeDataFromNetlink(r))
	}
	c.mu.Lock()
	c.enumeratingRoutes = false
	c.mu.Unlock()

	if err := c.handle.LinkSubscribe(c.linkUpdates, c.subDone); err != nil {
		return fmt.Errorf("rtnl: subscribe links: %w", err)
	}
	if err := c.handle.AddrSubscribe(c.addrUpdates, c.subDone); err != nil {
		return fmt.Errorf("rtnl: subscribe addresses: %w", err)
	}
	if err := c.handle.RouteSubscribe(c.routeUpdates, c.subDone); err != nil {
		return fmt.Errorf("rtnl: subscribe routes: %w", err)
	}

	go c.run(ctx)
	return nil
}

// addrLinkIndex reads the ifindex off a netlink.Addr returned from
// AddrList(nil, family), which carries it in the Addr's LinkIndex field.
// Kept as its own function because the mapping is easy to get backwards.
func addrLinkIndex(a netlink.Addr) int {
	return a.LinkIndex
}

// run drains the three update channels until the context is cancelled or
// Close is called.
func (c *Cache) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.subDone:
			return
		case u, ok := <-c.linkUpdates:
			if !ok {
				return
			}
			c.handleLinkUpdate(u)
		case u, ok := <-c.addrUpdates:
			if !ok {
				return
			}
			c.handleAddrUpdate(u)
		case u, ok := <-c.routeUpdates:
			if !ok {
				return
			}
			c.handleRouteUpdate(u)
		}
	}
}

func (c *Cache) handleLinkUpdate(u netlink.LinkUpdate) {
	ifindex := u.Link.Attrs().Index
	if u.Header.Type == unix.RTM_DELLINK {
		c.removeLink(ifindex)
		return
	}
	c.upsertLink(linkDataFromNetlink(u.Link))
}

func (c *Cache) handleAddrUpdate(u netlink.AddrUpdate) {
	data := addrDataFromUpdate(u)
	if !u.NewAddr {
		c.removeAddr(addrKeyOf(data))
		return
	}
	c.upsertAddr(data)
}

func (c *Cache) handleRouteUpdate(u netlink.RouteUpdate) {
	data := routeDataFromNetlink(u.Route)
	if u.Type == unix.RTM_DELROUTE {
		c.removeRoute(routeKeyOf(data))
		return
	}
	c.upsertRoute(data)
}

// Close stops the update loop started by Start and closes the route-netlink
// handle. It does not close subscriber slots, notify subscribers, or remove
// the cached links, addresses and routes; those stay as they were.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.subDone)
	c.mu.Unlock()

	c.handle.Close()
	return nil
}

// SubscribeLinks registers a global link subscriber; fires on every newly
// observed link, not on per-link data updates (those go to Link.Subscribe).
func (c *Cache) SubscribeLinks(callback func(*Link)) *slot.Slot[*Link] {
	return c.globalLinks.Subscribe(callback)
}

// SubscribeAddresses registers a global address subscriber.
func (c *Cache) SubscribeAddresses(callback func(*Address)) *slot.Slot[*Address] {
	return c.globalAddrs.Subscribe(callback)
}

// SubscribeRoutes registers a global route subscriber.
func (c *Cache) SubscribeRoutes(callback func(*Route)) *slot.Slot[*Route] {
	return c.globalRoutes.Subscribe(callback)
}

// LinkByIndex looks up the current link object for ifindex.
func (c *Cache) LinkByIndex(ifindex int) (*Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[ifindex]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return l, nil
}

// AllLinks returns a snapshot of every link currently in the cache, for
// callers that need a replay of the current state (subscribers do not get
// one automatically per spec.md §4.3).
func (c *Cache) AllLinks() []*Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Link, 0, len(c.links))
	for _, l := range c.links {
		out = append(out, l)
	}
	return out
}

func (c *Cache) upsertLink(d LinkData) *Link {
	c.mu.Lock()
	l, exists := c.links[d.Ifindex]
	suppress := c.enumeratingLinks
	if exists {
		l.setData(d)
		c.mu.Unlock()
		if !suppress {
			l.subs.Notify(l)
		}
		return l
	}
	l = &Link{cache: c}
	l.setData(d)
	c.links[d.Ifindex] = l
	c.mu.Unlock()
	if !suppress {
		c.globalLinks.Notify(l)
	}
	return l
}

func (c *Cache) removeLink(ifindex int) {
	c.mu.Lock()
	l, ok := c.links[ifindex]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.links, ifindex)
	c.mu.Unlock()

	l.subs.Notify(nil)
}

func (c *Cache) upsertAddr(d AddrData) *Address {
	key := addrKeyOf(d)

	c.mu.Lock()
	a, exists := c.addrs[key]
	suppress := c.enumeratingAddrs
	var pendingCB func(*Address)
	if cb, ok := c.pendingAddrs[key]; ok {
		pendingCB = cb
		delete(c.pendingAddrs, key)
	}
	link := c.links[d.Ifindex]
	c.mu.Unlock()

	if exists {
		a.setData(d)
	} else {
		a = &Address{}
		a.setData(d)
		c.mu.Lock()
		c.addrs[key] = a
		c.mu.Unlock()
	}

	if link != nil && d.IsLinkLocalIPv6() && !d.IsTentativeOrDeprecated() {
		link.latchIPV6LL()
	}

	if !suppress {
		if exists {
			a.subs.Notify(a)
		} else {
			c.globalAddrs.Notify(a)
		}
	}
	if pendingCB != nil {
		pendingCB(a)
	}
	return a
}

func (c *Cache) removeAddr(key AddrKey) {
	c.mu.Lock()
	a, ok := c.addrs[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.addrs, key)
	c.mu.Unlock()

	a.subs.Notify(nil)
}

func (c *Cache) upsertRoute(d RouteData) *Route {
	key := routeKeyOf(d)

	c.mu.Lock()
	r, exists := c.routes[key]
	suppress := c.enumeratingRoutes
	var pendingCB func(*Route)
	if cb, ok := c.pendingRoutes[key]; ok {
		pendingCB = cb
		delete(c.pendingRoutes, key)
	}
	c.mu.Unlock()

	if exists {
		r.setData(d)
	} else {
		r = &Route{}
		r.setData(d)
		c.mu.Lock()
		c.routes[key] = r
		c.mu.Unlock()
	}

	if !suppress {
		if exists {
			r.subs.Notify(r)
		} else {
			c.globalRoutes.Notify(r)
		}
	}
	if pendingCB != nil {
		pendingCB(r)
	}
	return r
}

func (c *Cache) removeRoute(key RouteKey) {
	c.mu.Lock()
	r, ok := c.routes[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.routes, key)
	c.mu.Unlock()

	r.subs.Notify(nil)
}

func raiseRcvbuf(h *netlink.Handle) error {
	return h.SetSocketReceiveBufferSize(rcvbufSize, true)
}
