package dhcp4lease

import (
	"net"
	"testing"
)

// buildRaw assembles a minimal BOOTP/DHCP reply: fixed header, magic
// cookie, the given options, and a trailing end tag.
func buildRaw(yiaddr, siaddr net.IP, options []byte) []byte {
	buf := make([]byte, headerLen)
	copy(buf[16:20], yiaddr.To4())
	if siaddr != nil {
		copy(buf[20:24], siaddr.To4())
	}
	buf = append(buf, dhcpMagicCookie[:]...)
	buf = append(buf, options...)
	buf = append(buf, 255) // end
	return buf
}

func opt(tag byte, value []byte) []byte {
	return append([]byte{tag, byte(len(value))}, value...)
}

func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func ip4(s string) net.IP { return net.ParseIP(s).To4() }

func wellFormedOptions() []byte {
	var b []byte
	b = append(b, opt(optionMessageType, []byte{byte(MessageTypeACK)})...)
	b = append(b, opt(optionServerID, ip4("192.0.2.1"))...)
	b = append(b, opt(optionLeaseTime, be32(3600))...)
	b = append(b, opt(optionRouter, ip4("192.0.2.254"))...)
	// classless static route: 0.0.0.0/0 -> 192.0.2.254 (prefixlen 0, zero dest octets)
	route := append([]byte{0}, ip4("192.0.2.254")...)
	b = append(b, opt(optionClasslessRoutes, route)...)
	return b
}

func TestDecodeWellFormedLeaseRoundTrip(t *testing.T) {
	raw := buildRaw(ip4("192.0.2.10"), ip4("192.0.2.1"), wellFormedOptions())

	lease, err := NewFromRaw(1, raw, nil)
	if err != nil {
		t.Fatalf("NewFromRaw: %v", err)
	}

	if !lease.Address().Equal(ip4("192.0.2.10")) {
		t.Fatalf("Address = %v, want 192.0.2.10", lease.Address())
	}
	mask, ok := lease.SubnetMask()
	if !ok {
		t.Fatal("expected a derived subnet mask")
	}
	if !net.IP(mask).Equal(net.IP(net.CIDRMask(24, 32))) {
		t.Fatalf("SubnetMask = %v, want 255.255.255.0 (classful /24 derived from class C)", mask)
	}
	router, ok := lease.Router()
	if !ok || !router.Equal(ip4("192.0.2.254")) {
		t.Fatalf("Router = %v, %v, want 192.0.2.254, true", router, ok)
	}
	lifetime, ok := lease.Lifetime()
	if !ok || lifetime != 3600 {
		t.Fatalf("Lifetime = %v, %v, want 3600, true", lifetime, ok)
	}
	routes := lease.Routes()
	if len(routes) != 1 {
		t.Fatalf("Routes = %d entries, want 1", len(routes))
	}
	if routes[0].DestPrefixLen != 0 || !routes[0].Gateway.Equal(ip4("192.0.2.254")) {
		t.Fatalf("route = %+v, want prefixlen=0 gateway=192.0.2.254", routes[0])
	}
}

func TestZeroLifetimeIsNoMessage(t *testing.T) {
	var b []byte
	b = append(b, opt(optionServerID, ip4("192.0.2.1"))...)
	b = append(b, opt(optionLeaseTime, be32(0))...)
	raw := buildRaw(ip4("192.0.2.10"), nil, b)

	_, err := NewFromRaw(1, raw, nil)
	if err == nil {
		t.Fatal("expected error for zero lifetime")
	}
}

func TestLocalhostDomainNameIsDroppedNotRejecting(t *testing.T) {
	b := wellFormedOptions()
	b = append(b, opt(optionDomainName, []byte("localhost"))...)
	raw := buildRaw(ip4("192.0.2.10"), ip4("192.0.2.1"), b)

	lease, err := NewFromRaw(1, raw, nil)
	if err != nil {
		t.Fatalf("NewFromRaw: %v", err)
	}
	if _, ok := lease.DomainName(); ok {
		t.Fatal("expected 'localhost' domain name to be dropped")
	}
}

func TestClasslessRouteOctetCounts(t *testing.T) {
	cases := []struct {
		name      string
		prefixLen byte
		destBytes []byte
	}{
		{"prefix24", 24, []byte{192, 0, 2}},
		{"prefix0", 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := append([]byte{tc.prefixLen}, tc.destBytes...)
			data = append(data, ip4("10.0.0.1")...)
			routes, err := parseClasslessRoutes(data)
			if err != nil {
				t.Fatalf("parseClasslessRoutes: %v", err)
			}
			if len(routes) != 1 {
				t.Fatalf("got %d routes, want 1", len(routes))
			}
			if routes[0].DestPrefixLen != int(tc.prefixLen) {
				t.Fatalf("prefixlen = %d, want %d", routes[0].DestPrefixLen, tc.prefixLen)
			}
		})
	}
}

func TestClasslessRouteTruncationFails(t *testing.T) {
	// prefixlen 24 needs 3 destination octets + 4 gateway octets; give only 2.
	data := []byte{24, 192, 0}
	if _, err := parseClasslessRoutes(data); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestClassfulRouteSkipsUndeterminableClass(t *testing.T) {
	// 240.0.0.0 is class E: classfulPrefixLen must fail and the entry
	// must be skipped rather than erroring the whole option.
	data := append(append([]byte{}, ip4("240.0.0.0")...), ip4("10.0.0.1")...)
	routes, err := parseClassfulRoutes(data)
	if err != nil {
		t.Fatalf("parseClassfulRoutes: %v", err)
	}
	if len(routes) != 0 {
		t.Fatalf("got %d routes, want 0 (class E destination skipped)", len(routes))
	}
}

func TestPrivateOptionsDedupedEarlierWins(t *testing.T) {
	var b []byte
	b = append(b, opt(224, []byte("first"))...)
	b = append(b, opt(224, []byte("second"))...)
	raw := buildRaw(ip4("192.0.2.10"), nil, append(wellFormedOptions(), b...))

	lease, err := NewFromRaw(1, raw, nil)
	if err != nil {
		t.Fatalf("NewFromRaw: %v", err)
	}
	v, ok := lease.PrivateOption(224)
	if !ok || string(v) != "first" {
		t.Fatalf("PrivateOption(224) = %q, %v, want \"first\", true", v, ok)
	}
}

func TestRefCounting(t *testing.T) {
	raw := buildRaw(ip4("192.0.2.10"), ip4("192.0.2.1"), wellFormedOptions())
	lease, err := NewFromRaw(1, raw, nil)
	if err != nil {
		t.Fatalf("NewFromRaw: %v", err)
	}
	if lease.RefCount() != 1 {
		t.Fatalf("initial RefCount = %d, want 1", lease.RefCount())
	}
	lease.Ref()
	if lease.RefCount() != 2 {
		t.Fatalf("RefCount after Ref = %d, want 2", lease.RefCount())
	}
	lease.Unref()
	lease.Unref()
	if lease.RefCount() != 0 {
		t.Fatalf("RefCount after two Unref = %d, want 0", lease.RefCount())
	}
}

func TestMTUFlooredAt68(t *testing.T) {
	b := append(wellFormedOptions(), opt(optionInterfaceMTU, []byte{0, 10})...)
	raw := buildRaw(ip4("192.0.2.10"), ip4("192.0.2.1"), b)
	lease, err := NewFromRaw(1, raw, nil)
	if err != nil {
		t.Fatalf("NewFromRaw: %v", err)
	}
	mtu, ok := lease.MTU()
	if !ok || mtu != 68 {
		t.Fatalf("MTU = %d, %v, want 68, true", mtu, ok)
	}
}
