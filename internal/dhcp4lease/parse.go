package dhcp4lease

import (
	"encoding/binary"
	"fmt"
	"net"
)

// parseU32Floor decodes a big-endian uint32 option value, clamped to at
// least floor (spec.md §4.5 "clamped to >= 1" for T1/T2; the lease time is
// read with floor 0 so a zero lifetime is rejected).
func parseU32Floor(value []byte, floor uint32) (uint32, bool) {
	if len(value) != 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(value)
	if v < floor {
		v = floor
	}
	return v, true
}

// parseU16Floor decodes a big-endian uint16 option value, clamped to at
// least floor (spec.md §4.5 "MTU, floored at 68").
func parseU16Floor(value []byte, floor uint16) (uint16, bool) {
	if len(value) != 2 {
		return 0, false
	}
	v := binary.BigEndian.Uint16(value)
	if v < floor {
		v = floor
	}
	return v, true
}

// parseBE32Addr decodes a 4-byte network-order IPv4 address option.
func parseBE32Addr(value []byte) (net.IP, bool) {
	if len(value) != 4 {
		return nil, false
	}
	return net.IP(append([]byte(nil), value...)), true
}

// parseAddrList decodes a list of 4-byte IPv4 addresses (DNS/NTP server
// options): value length must be a multiple of 4; an empty value yields no
// addresses and no error.
func parseAddrList(value []byte) ([]net.IP, error) {
	if len(value) == 0 {
		return nil, nil
	}
	if len(value)%4 != 0 {
		return nil, fmt.Errorf("dhcp4lease: address list length %d not a multiple of 4", len(value))
	}
	out := make([]net.IP, 0, len(value)/4)
	for i := 0; i < len(value); i += 4 {
		out = append(out, net.IP(append([]byte(nil), value[i:i+4]...)))
	}
	return out, nil
}
