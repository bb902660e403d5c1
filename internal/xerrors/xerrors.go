// Package xerrors defines the sentinel error values shared across the
// control plane so callers can classify a failure with errors.Is instead of
// inspecting strings.
package xerrors

import "errors"

var (
	// ErrMalformed marks input that failed to parse (a short datagram, a
	// truncated DHCP option, an unparsable uevent key/value line).
	ErrMalformed = errors.New("malformed input")

	// ErrPolicyViolation marks input that parsed fine but was rejected by a
	// trust policy (non-root uevent sender, wrong multicast group, a DNS
	// name that resolves to localhost or the root).
	ErrPolicyViolation = errors.New("policy violation")

	// ErrKernelRefusal marks a negative netlink reply to a mutation request.
	ErrKernelRefusal = errors.New("kernel refused request")

	// ErrEnumerationFailed marks a failure during the cache's startup dump
	// of links, addresses, or routes.
	ErrEnumerationFailed = errors.New("enumeration failed")

	// ErrClosed marks use of a component after it was torn down.
	ErrClosed = errors.New("component closed")

	// ErrNotFound marks a lookup miss (no such link, no such cache object).
	ErrNotFound = errors.New("not found")
)
