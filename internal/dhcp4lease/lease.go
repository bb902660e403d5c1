// Package dhcp4lease decodes a raw DHCPv4 reply into a reference-counted
// Lease, following the option-walking and post-processing rules of
// spec.md §4.5.
package dhcp4lease

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	headerLen   = 236 // up to and including the boot file name field
	magicCookieOffset = headerLen
	optionsOffset     = headerLen + 4
	minRawSize        = optionsOffset
)

var dhcpMagicCookie = [4]byte{0x63, 0x82, 0x53, 0x63}

// Lease is the decoded, reference-counted result of one DHCPv4 reply.
// Construction retains a verbatim copy of the input bytes alongside the
// decoded fields, mirroring the single-allocation contract of the system
// this was modelled on; in Go the "single buffer" is just the raw slice
// plus the struct, since the GC makes the original allocation trick moot.
type Lease struct {
	refcount int32

	timestamp uint64
	raw       []byte

	messageType MessageType

	address      net.IP
	serverID     net.IP
	nextServer   net.IP
	lifetime     uint32
	t1           uint32
	t2           uint32

	haveSubnetMask bool
	subnetMask     net.IP
	haveBroadcast  bool
	broadcast      net.IP
	haveRouter     bool
	router         net.IP

	dns []net.IP
	ntp []net.IP

	routes []Route

	mtu uint16

	domainName string
	hostName   string
	rootPath   string
	timezone   string

	vendorSpecific []byte

	privateTags    []uint8
	privateOptions map[uint8][]byte
}

// NewFromRaw decodes raw (a complete BOOTP/DHCP reply, header through
// options) observed at timestamp, returning a Lease with one reference
// held by the caller. It returns an error if the lease is invalid per
// spec.md §4.5's "no message" rule: zero offered address, zero server
// identifier, or zero lifetime.
func NewFromRaw(timestamp uint64, raw []byte, log *logrus.Entry) (*Lease, error) {
	if timestamp == 0 {
		return nil, fmt.Errorf("dhcp4lease: timestamp must be non-zero")
	}
	if len(raw) < minRawSize {
		return nil, fmt.Errorf("dhcp4lease: raw message too short (%d bytes)", len(raw))
	}
	if log == nil {
		log = logrus.WithField("component", "dhcp4lease")
	}

	l := &Lease{
		refcount:       1,
		timestamp:      timestamp,
		raw:            append([]byte(nil), raw...),
		privateOptions: make(map[uint8][]byte),
	}

	if raw[magicCookieOffset] != dhcpMagicCookie[0] || raw[magicCookieOffset+1] != dhcpMagicCookie[1] ||
		raw[magicCookieOffset+2] != dhcpMagicCookie[2] || raw[magicCookieOffset+3] != dhcpMagicCookie[3] {
		return nil, fmt.Errorf("dhcp4lease: missing DHCP magic cookie")
	}

	l.nextServer = net.IP(append([]byte(nil), raw[20:24]...))
	l.address = net.IP(append([]byte(nil), raw[16:20]...))

	if err := l.parseOptions(raw[optionsOffset:], log); err != nil {
		return nil, err
	}

	if l.address.Equal(net.IPv4zero) || l.serverID.Equal(net.IPv4zero) || l.lifetime == 0 {
		return nil, fmt.Errorf("dhcp4lease: %w", ErrNoMessage)
	}

	if !l.haveSubnetMask {
		prefixLen, ok := classfulPrefixLen(l.address)
		if !ok {
			return nil, fmt.Errorf("dhcp4lease: %w: cannot derive default subnet mask", ErrNoMessage)
		}
		l.subnetMask = net.IP(net.CIDRMask(prefixLen, 32))
		l.haveSubnetMask = true
	}

	return l, nil
}

func (l *Lease) parseOptions(data []byte, log *logrus.Entry) error {
	for len(data) > 0 {
		tag := data[0]
		data = data[1:]
		if tag == 0 { // pad
			continue
		}
		if tag == 255 { // end
			break
		}
		if len(data) == 0 {
			return fmt.Errorf("dhcp4lease: option %d missing length byte", tag)
		}
		n := int(data[0])
		data = data[1:]
		if len(data) < n {
			return fmt.Errorf("dhcp4lease: option %d truncated (want %d bytes, have %d)", tag, n, len(data))
		}
		value := data[:n]
		data = data[n:]

		if err := l.applyOption(tag, value, log); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lease) applyOption(tag uint8, value []byte, log *logrus.Entry) error {
	switch tag {
	case optionMessageType:
		if len(value) >= 1 {
			l.messageType = MessageType(value[0])
		}
	case optionLeaseTime:
		// No floor for the lifetime: an offered lifetime of zero stays zero so
		// NewFromRaw rejects the lease with ErrNoMessage.
		if v, ok := parseU32Floor(value, 0); ok {
			l.lifetime = v
		} else {
			log.Debug("dhcp4lease: failed to parse lease time, ignoring")
		}
	case optionRenewalT1:
		if v, ok := parseU32Floor(value, 1); ok {
			l.t1 = v
		} else {
			log.Debug("dhcp4lease: failed to parse T1, ignoring")
		}
	case optionRebindingT2:
		if v, ok := parseU32Floor(value, 1); ok {
			l.t2 = v
		} else {
			log.Debug("dhcp4lease: failed to parse T2, ignoring")
		}
	case optionServerID:
		if addr, ok := parseBE32Addr(value); ok {
			l.serverID = addr
		} else {
			log.Debug("dhcp4lease: failed to parse server identifier, ignoring")
		}
	case optionSubnetMask:
		if addr, ok := parseBE32Addr(value); ok {
			l.subnetMask = addr
			l.haveSubnetMask = true
		} else {
			log.Debug("dhcp4lease: failed to parse subnet mask, ignoring")
		}
	case optionBroadcastAddr:
		if addr, ok := parseBE32Addr(value); ok {
			l.broadcast = addr
			l.haveBroadcast = true
		} else {
			log.Debug("dhcp4lease: failed to parse broadcast address, ignoring")
		}
	case optionRouter:
		if len(value) >= 4 {
			if addr, ok := parseBE32Addr(value[:4]); ok {
				l.router = addr
				l.haveRouter = true
			}
		}
	case optionDomainNameServer:
		addrs, err := parseAddrList(value)
		if err != nil {
			log.WithError(err).Debug("dhcp4lease: failed to parse DNS servers, ignoring")
		} else {
			l.dns = addrs
		}
	case optionNTPServer:
		addrs, err := parseAddrList(value)
		if err != nil {
			log.WithError(err).Debug("dhcp4lease: failed to parse NTP servers, ignoring")
		} else {
			l.ntp = addrs
		}
	case optionStaticRoute:
		routes, err := parseClassfulRoutes(value)
		if err != nil {
			log.WithError(err).Debug("dhcp4lease: failed to parse classful static routes, ignoring")
		} else {
			l.routes = append(l.routes, routes...)
		}
	case optionClasslessRoutes:
		routes, err := parseClasslessRoutes(value)
		if err != nil {
			log.WithError(err).Debug("dhcp4lease: failed to parse classless static routes, ignoring")
		} else {
			l.routes = append(l.routes, routes...)
		}
	case optionInterfaceMTU:
		if v, ok := parseU16Floor(value, 68); ok {
			l.mtu = v
		} else {
			log.Debug("dhcp4lease: failed to parse MTU, ignoring")
		}
	case optionDomainName:
		name := string(value)
		if isValidDomainName(name) {
			l.domainName = name
		} else {
			log.WithField("name", name).Debug("dhcp4lease: rejecting invalid domain name")
		}
	case optionHostName:
		name := string(value)
		if isValidDomainName(name) {
			l.hostName = name
		} else {
			log.WithField("name", name).Debug("dhcp4lease: rejecting invalid host name")
		}
	case optionRootPath:
		l.rootPath = string(value)
	case optionTZDBTimezone:
		tz := string(value)
		if _, err := time.LoadLocation(tz); err != nil {
			log.WithField("zone", tz).Debug("dhcp4lease: rejecting invalid timezone")
		} else {
			l.timezone = tz
		}
	case optionVendorSpecific:
		if len(value) == 0 {
			l.vendorSpecific = nil
		} else {
			l.vendorSpecific = append([]byte(nil), value...)
		}
	default:
		if tag >= optionPrivateBase && tag <= optionPrivateLast {
			l.insertPrivateOption(tag, value)
		}
	}
	return nil
}

// insertPrivateOption appends tag to the ordered private-option list,
// deduplicated by tag with the earlier occurrence winning (spec.md §4.5).
func (l *Lease) insertPrivateOption(tag uint8, value []byte) {
	if _, exists := l.privateOptions[tag]; exists {
		return
	}
	l.privateOptions[tag] = append([]byte(nil), value...)
	l.privateTags = append(l.privateTags, tag)
}

// ErrNoMessage is returned by NewFromRaw when the decoded lease fails the
// "no message" validity check: zero offered address, zero server
// identifier, or zero lifetime.
var ErrNoMessage = errNoMessage{}

type errNoMessage struct{}

func (errNoMessage) Error() string { return "lease carries no usable message" }

// Ref increments the reference count and returns l, matching the
// reference-counted contract of spec.md §4.5.
func (l *Lease) Ref() *Lease {
	atomic.AddInt32(&l.refcount, 1)
	return l
}

// Unref decrements the reference count. It is safe to call on a lease
// whose last reference is being dropped; Go's GC reclaims the backing
// memory once nothing still holds a *Lease, so Unref exists to preserve
// the counting contract rather than to free anything itself.
func (l *Lease) Unref() {
	atomic.AddInt32(&l.refcount, -1)
}

// RefCount returns the current reference count, chiefly for tests.
func (l *Lease) RefCount() int32 {
	return atomic.LoadInt32(&l.refcount)
}

// Raw returns the verbatim bytes the lease was decoded from.
func (l *Lease) Raw() []byte { return l.raw }

// Timestamp returns the timestamp passed to NewFromRaw.
func (l *Lease) Timestamp() uint64 { return l.timestamp }

// Type returns the DHCP message type (option 53).
func (l *Lease) Type() MessageType { return l.messageType }

// Address returns the offered address (BOOTP yiaddr).
func (l *Lease) Address() net.IP { return l.address }

// NextServer returns the next-server address (BOOTP siaddr).
func (l *Lease) NextServer() net.IP { return l.nextServer }

// ServerID returns the server identifier, or (nil, false) if absent.
func (l *Lease) ServerID() (net.IP, bool) {
	if l.serverID == nil {
		return nil, false
	}
	return l.serverID, true
}

// Lifetime returns the lease lifetime in seconds, or (0, false) if unset.
func (l *Lease) Lifetime() (uint32, bool) {
	if l.lifetime == 0 {
		return 0, false
	}
	return l.lifetime, true
}

// T1 returns the renewal time, or (0, false) if unset.
func (l *Lease) T1() (uint32, bool) {
	if l.t1 == 0 {
		return 0, false
	}
	return l.t1, true
}

// T2 returns the rebinding time, or (0, false) if unset.
func (l *Lease) T2() (uint32, bool) {
	if l.t2 == 0 {
		return 0, false
	}
	return l.t2, true
}

// SubnetMask returns the subnet mask (offered, or derived from the
// address's classful default if not offered), or (nil, false) if neither
// is available.
func (l *Lease) SubnetMask() (net.IP, bool) {
	if !l.haveSubnetMask {
		return nil, false
	}
	return l.subnetMask, true
}

// Broadcast returns the broadcast address, or (nil, false) if unset.
func (l *Lease) Broadcast() (net.IP, bool) {
	if !l.haveBroadcast {
		return nil, false
	}
	return l.broadcast, true
}

// Router returns the first router address, or (nil, false) if unset.
func (l *Lease) Router() (net.IP, bool) {
	if !l.haveRouter {
		return nil, false
	}
	return l.router, true
}

// DNS returns the DNS server list, or nil if none was offered.
func (l *Lease) DNS() []net.IP { return l.dns }

// NTP returns the NTP server list, or nil if none was offered.
func (l *Lease) NTP() []net.IP { return l.ntp }

// Routes returns the decoded static routes (classful and/or classless),
// in the order they were parsed.
func (l *Lease) Routes() []Route { return l.routes }

// MTU returns the interface MTU, or (0, false) if unset.
func (l *Lease) MTU() (uint16, bool) {
	if l.mtu == 0 {
		return 0, false
	}
	return l.mtu, true
}

// DomainName returns the domain name, or ("", false) if unset or rejected.
func (l *Lease) DomainName() (string, bool) {
	if l.domainName == "" {
		return "", false
	}
	return l.domainName, true
}

// HostName returns the host name, or ("", false) if unset or rejected.
func (l *Lease) HostName() (string, bool) {
	if l.hostName == "" {
		return "", false
	}
	return l.hostName, true
}

// RootPath returns the root path, or ("", false) if unset.
func (l *Lease) RootPath() (string, bool) {
	if l.rootPath == "" {
		return "", false
	}
	return l.rootPath, true
}

// Timezone returns the tzdata zone name, or ("", false) if unset or
// rejected as invalid.
func (l *Lease) Timezone() (string, bool) {
	if l.timezone == "" {
		return "", false
	}
	return l.timezone, true
}

// VendorSpecific returns the opaque vendor-specific blob, or nil if unset.
func (l *Lease) VendorSpecific() []byte { return l.vendorSpecific }

// PrivateOption returns the value of a private-use tag (224-254), or
// (nil, false) if it was not present.
func (l *Lease) PrivateOption(tag uint8) ([]byte, bool) {
	v, ok := l.privateOptions[tag]
	return v, ok
}

// PrivateOptionTags returns the tags of every private option carried by
// the lease, in first-seen order.
func (l *Lease) PrivateOptionTags() []uint8 {
	return append([]uint8(nil), l.privateTags...)
}
