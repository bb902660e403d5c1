package dhcp4lease

import "strings"

// isValidDNSLabel reports whether label is a syntactically valid DNS label
// (RFC 1035 §2.3.1, relaxed to also allow a leading digit as widely
// deployed hostnames do).
func isValidDNSLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-':
			if i == 0 || i == len(label)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// isValidDomainName validates a lease-supplied domain or host name and
// rejects it per spec.md §4.5: must be a syntactically valid DNS name,
// must not be "localhost", and must not be the DNS root.
func isValidDomainName(name string) bool {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return false // the DNS root
	}
	if strings.EqualFold(name, "localhost") {
		return false
	}
	if len(name) > 253 {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if !isValidDNSLabel(label) {
			return false
		}
	}
	return true
}
