// Package rtnl implements the authoritative in-process mirror of the
// kernel's link, address, and route tables described in spec.md §4.3: one
// Cache per process, enumerated on Start and maintained afterwards from
// route-netlink multicast, with per-object and global subscription and
// asynchronous mutation.
package rtnl

import (
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nanoncore/networkd/internal/slot"
)

// LinkState is the derived state bitfield carried by a Link (spec.md §3).
type LinkState uint8

const (
	// StateCarrier is true iff operstate is UP, or operstate is UNKNOWN with
	// LOWER_UP and not DORMANT.
	StateCarrier LinkState = 1 << iota
	// StateIPV6LL latches true upon observing any non-tentative,
	// non-deprecated link-local IPv6 address; once set it is never cleared
	// by later address events on the same link.
	StateIPV6LL
)

// LinkData is the value-typed, immutable decoded payload of one netlink
// link message.
type LinkData struct {
	Ifindex   int
	Name      string
	Kind      string
	MAC       net.HardwareAddr
	MTU       int
	Flags     uint32
	OperState netlink.LinkOperState
}

func carrierFromOperState(flags uint32, op netlink.LinkOperState) bool {
	switch op {
	case netlink.OperUp:
		return true
	case netlink.OperUnknown:
		return flags&uint32(unix.IFF_LOWER_UP) != 0 &&
			flags&uint32(unix.IFF_DORMANT) == 0
	default:
		return false
	}
}

func linkDataFromNetlink(l netlink.Link) LinkData {
	attrs := l.Attrs()
	return LinkData{
		Ifindex:   attrs.Index,
		Name:      attrs.Name,
		Kind:      l.Type(),
		MAC:       attrs.HardwareAddr,
		MTU:       attrs.MTU,
		Flags:     uint32(attrs.Flags),
		OperState: attrs.OperState,
	}
}

// Link is the identity object for one interface index: it carries the
// subscription list, a back-pointer to the owning cache, and the
// currently-effective LinkData. Identity is the ifindex; the data payload is
// swapped in place on update so existing subscribers/handles keep observing
// the same object across RTM_NEWLINK updates.
type Link struct {
	cache *Cache
	subs  slot.List[*Link] // per-link subscribers; nil delivery means detached

	mu    sync.RWMutex
	data  LinkData
	state LinkState
}

// Data returns a copy of the link's current decoded payload.
func (l *Link) Data() LinkData {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data
}

// State returns the derived CARRIER/IPV6LL bitfield.
func (l *Link) State() LinkState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Subscribe registers callback against this specific link. callback receives
// nil when the link is detached (RTM_DELLINK).
func (l *Link) Subscribe(callback func(*Link)) *slot.Slot[*Link] {
	return l.subs.Subscribe(callback)
}

func (l *Link) setData(d LinkData) {
	l.mu.Lock()
	l.data = d
	if carrierFromOperState(d.Flags, d.OperState) {
		l.state |= StateCarrier
	} else {
		l.state &^= StateCarrier
	}
	l.mu.Unlock()
}

// latchIPV6LL sets StateIPV6LL; per spec.md §3 it is never cleared once set
// except by detaching the whole link object.
func (l *Link) latchIPV6LL() {
	l.mu.Lock()
	l.state |= StateIPV6LL
	l.mu.Unlock()
}
