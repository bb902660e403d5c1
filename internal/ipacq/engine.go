package ipacq

import (
	"context"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nanoncore/networkd/internal/rtnl"
	"github.com/nanoncore/networkd/internal/slot"
)

// observedState is an alias for rtnl.LinkState: the engine tracks the same
// two bits (CARRIER, IPV6LL) the cache derives for a link.
type observedState = rtnl.LinkState

const (
	stateCarrier = rtnl.StateCarrier
	stateIPV6LL  = rtnl.StateIPV6LL
)

// AddressCache is the slice of *rtnl.Cache an Engine needs to install and
// remove its ipv4ll fallback address plus whatever addresses and routes a
// dhcp4/dhcp6 lease resolves to (spec.md §4.5). *rtnl.Cache satisfies it;
// tests supply a fake that records calls instead of touching a real
// netlink handle.
type AddressCache interface {
	CreateAddress(data rtnl.AddrData, callback func(*rtnl.Address)) *slot.Slot[*rtnl.Address]
	DestroyAddress(data rtnl.AddrData) *slot.Slot[*rtnl.Address]
	CreateRoute(data rtnl.RouteData, callback func(*rtnl.Route)) *slot.Slot[*rtnl.Route]
	DestroyRoute(data rtnl.RouteData) *slot.Slot[*rtnl.Route]
}

// LinkWatcher is the slice of *rtnl.Link an Engine needs: its current data
// and derived state, and per-link subscription. *rtnl.Link satisfies it.
type LinkWatcher interface {
	Data() rtnl.LinkData
	State() rtnl.LinkState
	Subscribe(callback func(*rtnl.Link)) *slot.Slot[*rtnl.Link]
}

// Engine runs the per-link acquisition state machine of spec.md §4.4: it
// subscribes to one link's CARRIER/IPV6LL transitions and starts or stops
// the four address-acquisition clients accordingly.
type Engine struct {
	cache AddressCache
	link  LinkWatcher
	log   *logrus.Entry
	seed  uint64

	ipv4ll IPv4LLClient
	dhcp4  DHCP4Client
	dhcp6  DHCP6Client
	ndisc  NdiscClient

	mu            sync.Mutex
	observed      observedState
	running       bool
	linkSub       *slot.Slot[*rtnl.Link]
	ipv4llCtx     context.Context
	ipv4llCancel  context.CancelFunc
	dhcp4Ctx      context.Context
	dhcp4Cancel   context.CancelFunc
	dhcp6Ctx      context.Context
	dhcp6Cancel   context.CancelFunc
	ndiscCtx      context.Context
	ndiscCancel   context.CancelFunc

	ipv4llAddrSlot *slot.Slot[*rtnl.Address]
	ipv4llAddr     net.IP

	dhcp4Addr          net.IP
	dhcp4AddrPrefixLen int
	dhcp4AddrSlot      *slot.Slot[*rtnl.Address]
	dhcp4Routes        []rtnl.RouteData
	dhcp4RouteSlots    []*slot.Slot[*rtnl.Route]

	dhcp6Addr          net.IP
	dhcp6AddrPrefixLen int
	dhcp6AddrSlot      *slot.Slot[*rtnl.Address]
	dhcp6Routes        []rtnl.RouteData
	dhcp6RouteSlots    []*slot.Slot[*rtnl.Route]
}

// Clients bundles the four per-link client implementations an Engine drives.
// Any left nil is treated as a no-op client (Start/Stop return nil
// immediately) so an engine can be built for, e.g., an IPv4-only policy.
type Clients struct {
	IPv4LL IPv4LLClient
	DHCP4  DHCP4Client
	DHCP6  DHCP6Client
	Ndisc  NdiscClient
}

// New constructs an Engine bound to one link. seed is the "unique
// predictable data" threaded into the ipv4ll address selection algorithm;
// callers typically derive it from the link's stable identifier (e.g. MAC
// address hash) so address choice is deterministic across restarts.
func New(cache AddressCache, link LinkWatcher, seed uint64, clients Clients, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.WithField("component", "ipacq.engine")
	}
	e := &Engine{
		cache:  cache,
		link:   link,
		log:    log,
		seed:   seed,
		ipv4ll: clients.IPv4LL,
		dhcp4:  clients.DHCP4,
		dhcp6:  clients.DHCP6,
		ndisc:  clients.Ndisc,
	}
	if e.ipv4ll == nil {
		e.ipv4ll = noopIPv4LL{}
	}
	if e.dhcp4 == nil {
		e.dhcp4 = noopDHCP4{}
	}
	if e.dhcp6 == nil {
		e.dhcp6 = noopDHCP6{}
	}
	if e.ndisc == nil {
		e.ndisc = noopNdisc{}
	}
	return e
}

// Start subscribes to the link and, if it already has CARRIER (and
// IPV6LL), performs the same actions a gain edge would (spec.md §4.4
// "On explicit start").
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.linkSub = e.link.Subscribe(e.onLinkUpdate)

	initial := e.link.State()
	e.applyTransition(0, initial)
	e.mu.Lock()
	e.observed = initial
	e.mu.Unlock()
}

// Stop stops every running client and unsubscribes from the link.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	sub := e.linkSub
	e.linkSub = nil
	e.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	e.applyTransition(e.currentObserved(), 0)
}

func (e *Engine) currentObserved() observedState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observed
}

func (e *Engine) onLinkUpdate(l *rtnl.Link) {
	// l is the same identity object as e.link on an update, and nil on
	// detach (spec.md §4.4 step 1); state is always read through the
	// LinkWatcher so a detach forces new_state to empty regardless of what
	// the last cached data said.
	var newState observedState
	if l != nil {
		newState = e.link.State()
	}

	e.mu.Lock()
	old := e.observed
	e.observed = newState
	e.mu.Unlock()

	e.applyTransition(old, newState)
}

// applyTransition performs the edge-triggered start/stop actions of spec.md
// §4.4 steps 3-6 for the move from old to updated.
func (e *Engine) applyTransition(old, updated observedState) {
	gained := updated &^ old
	lost := old &^ updated

	if gained&stateCarrier != 0 {
		e.startCarrierClients()
	}
	if lost&stateCarrier != 0 {
		e.stopCarrierClients()
	}

	gainedV6LL := (updated&stateIPV6LL != 0 && updated&stateCarrier != 0) &&
		!(old&stateIPV6LL != 0 && old&stateCarrier != 0)
	lostV6LL := (old&stateIPV6LL != 0 && old&stateCarrier != 0) &&
		!(updated&stateIPV6LL != 0 && updated&stateCarrier != 0)

	if gainedV6LL {
		e.startV6LLClients()
	}
	if lostV6LL {
		e.stopV6LLClients()
	}
}

func (e *Engine) startCarrierClients() {
	data := e.link.Data()
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.ipv4llCtx, e.ipv4llCancel = ctx, cancel
	e.mu.Unlock()
	if err := e.ipv4ll.Start(ctx, data.Ifindex, data.MAC, e.seed, e.onIPv4LLEvent); err != nil {
		e.log.WithError(err).Warn("ipacq: ipv4ll start failed")
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	e.mu.Lock()
	e.dhcp4Ctx, e.dhcp4Cancel = ctx2, cancel2
	e.mu.Unlock()
	if err := e.dhcp4.Start(ctx2, data.Ifindex, data.MAC, e.onDHCP4Lease); err != nil {
		e.log.WithError(err).Warn("ipacq: dhcp4 start failed")
	}
}

func (e *Engine) stopCarrierClients() {
	e.mu.Lock()
	cancel := e.ipv4llCancel
	e.ipv4llCancel = nil
	cancel2 := e.dhcp4Cancel
	e.dhcp4Cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := e.ipv4ll.Stop(); err != nil {
		e.log.WithError(err).Debug("ipacq: ipv4ll stop error")
	}
	e.releaseIPv4LLAddress()

	if cancel2 != nil {
		cancel2()
	}
	if err := e.dhcp4.Stop(); err != nil {
		e.log.WithError(err).Debug("ipacq: dhcp4 stop error")
	}
}

// startV6LLClients starts ndisc and dhcp6 together: both are gated on the
// same CARRIER+IPV6LL edge (spec.md §4.4), ndisc to learn routers/prefixes
// and dhcp6 to acquire a managed address and routes.
func (e *Engine) startV6LLClients() {
	data := e.link.Data()

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.ndiscCtx, e.ndiscCancel = ctx, cancel
	e.mu.Unlock()
	if err := e.ndisc.Start(ctx, data.Ifindex, data.MAC, e.onRouterAdvertisement); err != nil {
		e.log.WithError(err).Warn("ipacq: ndisc start failed")
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	e.mu.Lock()
	e.dhcp6Ctx, e.dhcp6Cancel = ctx2, cancel2
	e.mu.Unlock()
	if err := e.dhcp6.Start(ctx2, data.Ifindex, data.MAC, e.onDHCP6Lease); err != nil {
		e.log.WithError(err).Warn("ipacq: dhcp6 start failed")
	}
}

func (e *Engine) stopV6LLClients() {
	e.mu.Lock()
	cancel := e.ndiscCancel
	e.ndiscCancel = nil
	cancel2 := e.dhcp6Cancel
	e.dhcp6Cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := e.ndisc.Stop(); err != nil {
		e.log.WithError(err).Debug("ipacq: ndisc stop error")
	}

	if cancel2 != nil {
		cancel2()
	}
	if err := e.dhcp6.Stop(); err != nil {
		e.log.WithError(err).Debug("ipacq: dhcp6 stop error")
	}
	e.releaseDHCP6Lease()
}

// onIPv4LLEvent implements the "IPv4LL sub-protocol" of spec.md §4.4.
func (e *Engine) onIPv4LLEvent(ev IPv4LLEvent, addr net.IP) {
	switch ev {
	case IPv4LLBind:
		e.installIPv4LLAddress(addr)
	case IPv4LLConflict, IPv4LLStop:
		e.releaseIPv4LLAddress()
	}
}

// broadcastFromPrefix derives the IPv4 broadcast address for addr/prefixLen
// (host bits all set).
func broadcastFromPrefix(addr net.IP, prefixLen int) net.IP {
	mask := net.CIDRMask(prefixLen, 32)
	broadcast := make(net.IP, net.IPv4len)
	a4 := addr.To4()
	for i := range broadcast {
		broadcast[i] = a4[i] | ^mask[i]
	}
	return broadcast
}

func (e *Engine) installIPv4LLAddress(addr net.IP) {
	e.releaseIPv4LLAddress()

	data := e.link.Data()
	broadcast := broadcastFromPrefix(addr, 16)

	ad := rtnl.AddrData{
		Ifindex:   data.Ifindex,
		Family:    unix.AF_INET,
		PrefixLen: 16,
		Local:     addr,
		Broadcast: broadcast,
		Scope:     int(netlink.SCOPE_LINK),
	}

	e.mu.Lock()
	e.ipv4llAddr = addr
	e.mu.Unlock()

	s := e.cache.CreateAddress(ad, nil)
	e.mu.Lock()
	e.ipv4llAddrSlot = s
	e.mu.Unlock()
}

func (e *Engine) releaseIPv4LLAddress() {
	e.mu.Lock()
	addr := e.ipv4llAddr
	s := e.ipv4llAddrSlot
	e.ipv4llAddr = nil
	e.ipv4llAddrSlot = nil
	e.mu.Unlock()

	if addr == nil {
		return
	}
	if s != nil {
		s.Close()
	}
	data := e.link.Data()
	e.cache.DestroyAddress(rtnl.AddrData{
		Ifindex:   data.Ifindex,
		Family:    unix.AF_INET,
		PrefixLen: 16,
		Local:     addr,
	})
}

// onDHCP4Lease implements the dhcp4 half of spec.md §4.5: a fresh lease is
// translated into an installed address plus whatever routes it carries; an
// expired lease tears down whatever the last lease installed.
func (e *Engine) onDHCP4Lease(l Lease) {
	if l.Expired {
		e.log.Debug("ipacq: dhcp4 lease expired")
		e.releaseDHCP4Lease()
		return
	}
	e.log.WithField("address", l.Address).Debug("ipacq: dhcp4 lease acquired")
	e.installDHCP4Lease(l)
}

func (e *Engine) installDHCP4Lease(l Lease) {
	e.releaseDHCP4Lease()

	data := e.link.Data()
	prefixLen := l.PrefixLen
	if prefixLen <= 0 || prefixLen > 32 {
		prefixLen = 32
	}
	broadcast := l.Broadcast
	if broadcast == nil && prefixLen < 32 {
		broadcast = broadcastFromPrefix(l.Address, prefixLen)
	}

	ad := rtnl.AddrData{
		Ifindex:   data.Ifindex,
		Family:    unix.AF_INET,
		PrefixLen: prefixLen,
		Local:     l.Address,
		Broadcast: broadcast,
		Scope:     int(netlink.SCOPE_UNIVERSE),
	}

	e.mu.Lock()
	e.dhcp4Addr = l.Address
	e.dhcp4AddrPrefixLen = prefixLen
	e.mu.Unlock()

	addrSlot := e.cache.CreateAddress(ad, nil)

	routes := dhcp4RoutesFromLease(l, data.Ifindex)
	routeSlots := make([]*slot.Slot[*rtnl.Route], len(routes))
	for i, rd := range routes {
		routeSlots[i] = e.cache.CreateRoute(rd, nil)
	}

	e.mu.Lock()
	e.dhcp4AddrSlot = addrSlot
	e.dhcp4Routes = routes
	e.dhcp4RouteSlots = routeSlots
	e.mu.Unlock()
}

func (e *Engine) releaseDHCP4Lease() {
	e.mu.Lock()
	addr := e.dhcp4Addr
	prefixLen := e.dhcp4AddrPrefixLen
	addrSlot := e.dhcp4AddrSlot
	routes := e.dhcp4Routes
	routeSlots := e.dhcp4RouteSlots
	e.dhcp4Addr = nil
	e.dhcp4AddrSlot = nil
	e.dhcp4Routes = nil
	e.dhcp4RouteSlots = nil
	e.mu.Unlock()

	for _, s := range routeSlots {
		if s != nil {
			s.Close()
		}
	}
	for _, rd := range routes {
		e.cache.DestroyRoute(rd)
	}

	if addr == nil {
		return
	}
	if addrSlot != nil {
		addrSlot.Close()
	}
	data := e.link.Data()
	e.cache.DestroyAddress(rtnl.AddrData{
		Ifindex:   data.Ifindex,
		Family:    unix.AF_INET,
		PrefixLen: prefixLen,
		Local:     addr,
	})
}

// dhcp4RoutesFromLease builds the RouteData set a lease resolves to: a
// default route via the lease's gateway (if any) plus every classful or
// classless static route the lease carried, all pinned to ifindex.
func dhcp4RoutesFromLease(l Lease, ifindex int) []rtnl.RouteData {
	var routes []rtnl.RouteData
	if l.Gateway != nil {
		routes = append(routes, rtnl.RouteData{
			Family:     unix.AF_INET,
			Gateway:    l.Gateway,
			OutIfindex: ifindex,
		})
	}
	for _, r := range l.Routes {
		routes = append(routes, rtnl.RouteData{
			Family:     unix.AF_INET,
			Dst:        &net.IPNet{IP: r.Dest, Mask: net.CIDRMask(r.DestPrefixLen, 32)},
			Gateway:    r.Gateway,
			OutIfindex: ifindex,
		})
	}
	return routes
}

// onDHCP6Lease is the IPv6 analogue of onDHCP4Lease.
func (e *Engine) onDHCP6Lease(l Lease) {
	if l.Expired {
		e.log.Debug("ipacq: dhcp6 lease expired")
		e.releaseDHCP6Lease()
		return
	}
	e.log.WithField("address", l.Address).Debug("ipacq: dhcp6 lease acquired")
	e.installDHCP6Lease(l)
}

func (e *Engine) installDHCP6Lease(l Lease) {
	e.releaseDHCP6Lease()

	data := e.link.Data()
	prefixLen := l.PrefixLen
	if prefixLen <= 0 || prefixLen > 128 {
		prefixLen = 128
	}

	ad := rtnl.AddrData{
		Ifindex:   data.Ifindex,
		Family:    unix.AF_INET6,
		PrefixLen: prefixLen,
		Local:     l.Address,
		Scope:     int(netlink.SCOPE_UNIVERSE),
	}

	e.mu.Lock()
	e.dhcp6Addr = l.Address
	e.dhcp6AddrPrefixLen = prefixLen
	e.mu.Unlock()

	addrSlot := e.cache.CreateAddress(ad, nil)

	var routes []rtnl.RouteData
	if l.Gateway != nil {
		routes = append(routes, rtnl.RouteData{
			Family:     unix.AF_INET6,
			Gateway:    l.Gateway,
			OutIfindex: data.Ifindex,
		})
	}
	for _, r := range l.Routes {
		routes = append(routes, rtnl.RouteData{
			Family:     unix.AF_INET6,
			Dst:        &net.IPNet{IP: r.Dest, Mask: net.CIDRMask(r.DestPrefixLen, 128)},
			Gateway:    r.Gateway,
			OutIfindex: data.Ifindex,
		})
	}
	routeSlots := make([]*slot.Slot[*rtnl.Route], len(routes))
	for i, rd := range routes {
		routeSlots[i] = e.cache.CreateRoute(rd, nil)
	}

	e.mu.Lock()
	e.dhcp6AddrSlot = addrSlot
	e.dhcp6Routes = routes
	e.dhcp6RouteSlots = routeSlots
	e.mu.Unlock()
}

func (e *Engine) releaseDHCP6Lease() {
	e.mu.Lock()
	addr := e.dhcp6Addr
	prefixLen := e.dhcp6AddrPrefixLen
	addrSlot := e.dhcp6AddrSlot
	routes := e.dhcp6Routes
	routeSlots := e.dhcp6RouteSlots
	e.dhcp6Addr = nil
	e.dhcp6AddrSlot = nil
	e.dhcp6Routes = nil
	e.dhcp6RouteSlots = nil
	e.mu.Unlock()

	for _, s := range routeSlots {
		if s != nil {
			s.Close()
		}
	}
	for _, rd := range routes {
		e.cache.DestroyRoute(rd)
	}

	if addr == nil {
		return
	}
	if addrSlot != nil {
		addrSlot.Close()
	}
	data := e.link.Data()
	e.cache.DestroyAddress(rtnl.AddrData{
		Ifindex:   data.Ifindex,
		Family:    unix.AF_INET6,
		PrefixLen: prefixLen,
		Local:     addr,
	})
}

func (e *Engine) onRouterAdvertisement(ra RouterAdvertisement) {
	if ra.ManagedConfig {
		e.log.WithField("router", ra.Router).Debug("ipacq: RA requests managed config, deferring to dhcp6")
	}
}
