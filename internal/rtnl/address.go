package rtnl

import (
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/nanoncore/networkd/internal/slot"
)

// AddrData is the value-typed decoded payload of one netlink address
// message.
type AddrData struct {
	Ifindex      int
	Family       int // unix.AF_INET or unix.AF_INET6
	PrefixLen    int
	Local        net.IP
	Peer         net.IP // non-nil only for point-to-point prefixes
	Broadcast    net.IP
	Label        string
	Flags        uint32 // IFA_F_* bits, e.g. TENTATIVE, DEPRECATED
	Scope        int
	PreferredLft int
	ValidLft     int
}

func addrDataFromNetlink(ifindex int, a netlink.Addr) AddrData {
	d := AddrData{
		Ifindex:      ifindex,
		Label:        a.Label,
		Flags:        uint32(a.Flags),
		Scope:        a.Scope,
		PreferredLft: a.PreferedLft,
		ValidLft:     a.ValidLft,
	}
	if a.IPNet != nil {
		d.Local = a.IPNet.IP
		ones, _ := a.IPNet.Mask.Size()
		d.PrefixLen = ones
		if d.Local.To4() != nil {
			d.Family = unix.AF_INET
		} else {
			d.Family = unix.AF_INET6
		}
	}
	if a.Peer != nil {
		d.Peer = a.Peer.IP
		if ones, _ := a.Peer.Mask.Size(); ones > 0 {
			d.PrefixLen = ones
		}
	}
	if a.Broadcast != nil {
		d.Broadcast = a.Broadcast
	}
	return d
}

// addrDataFromUpdate converts a multicast AddrUpdate notification, which
// carries a plain net.IPNet rather than a full netlink.Addr (no peer,
// broadcast, or label), into AddrData.
func addrDataFromUpdate(u netlink.AddrUpdate) AddrData {
	d := AddrData{
		Ifindex:      u.LinkIndex,
		Flags:        uint32(u.Flags),
		Scope:        u.Scope,
		PreferredLft: u.PreferedLft,
		ValidLft:     u.ValidLft,
	}
	d.Local = u.LinkAddress.IP
	ones, _ := u.LinkAddress.Mask.Size()
	d.PrefixLen = ones
	if d.Local.To4() != nil {
		d.Family = unix.AF_INET
	} else {
		d.Family = unix.AF_INET6
	}
	return d
}

// IsLinkLocalIPv6 reports whether d is an IPv6 link-local address.
func (d AddrData) IsLinkLocalIPv6() bool {
	return d.Family == unix.AF_INET6 && d.Local != nil && d.Local.IsLinkLocalUnicast()
}

// IsTentativeOrDeprecated reports whether d carries IFA_F_TENTATIVE or
// IFA_F_DEPRECATED.
func (d AddrData) IsTentativeOrDeprecated() bool {
	return d.Flags&uint32(unix.IFA_F_TENTATIVE) != 0 || d.Flags&uint32(unix.IFA_F_DEPRECATED) != 0
}

// AddrKey is the kernel-equivalence key for addresses: (ifindex, family,
// prefix-length-of-peer, family-sized prefix bytes of peer-or-local), per
// spec.md §4.3.
type AddrKey struct {
	Ifindex   int
	Family    int
	PrefixLen int
	Prefix    [16]byte // first PrefixLen bits significant; rest zero
}

func addrKeyOf(d AddrData) AddrKey {
	k := AddrKey{Ifindex: d.Ifindex, Family: d.Family, PrefixLen: d.PrefixLen}
	addr := d.Local
	if d.Peer != nil {
		addr = d.Peer
	}
	maskPrefixInto(&k.Prefix, addr, d.PrefixLen)
	return k
}

func maskPrefixInto(out *[16]byte, ip net.IP, prefixLen int) {
	if ip == nil {
		return
	}
	var raw []byte
	if v4 := ip.To4(); v4 != nil {
		raw = v4
	} else {
		raw = ip.To16()
	}
	if raw == nil {
		return
	}
	nbytes := prefixLen / 8
	rembits := prefixLen % 8
	for i := 0; i < len(raw) && i < 16; i++ {
		switch {
		case i < nbytes:
			out[i] = raw[i]
		case i == nbytes && rembits > 0:
			mask := byte(0xFF << (8 - rembits))
			out[i] = raw[i] & mask
		default:
			out[i] = 0
		}
	}
}

// Address is the identity object for one (ifindex, family, prefix) key.
type Address struct {
	subs slot.List[*Address]

	mu   sync.RWMutex
	data AddrData
}

// Data returns a copy of the address's current decoded payload.
func (a *Address) Data() AddrData {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.data
}

// Subscribe registers callback against this specific address object.
// callback receives nil when the address is removed (RTM_DELADDR).
func (a *Address) Subscribe(callback func(*Address)) *slot.Slot[*Address] {
	return a.subs.Subscribe(callback)
}

func (a *Address) setData(d AddrData) {
	a.mu.Lock()
	a.data = d
	a.mu.Unlock()
}
