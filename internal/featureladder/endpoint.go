package featureladder

import (
	"net"

	"github.com/sirupsen/logrus"
)

// DNSFeatureLevel is the feature ladder used by a DNSServer endpoint,
// worst to best: plain TCP, plain UDP, UDP with EDNS0. Supplements
// spec.md's core (feature level is generic); this instantiation is carried
// over from the upstream resolver this spec was distilled from, which used
// the exact same three-level ladder for its per-server negotiation.
const (
	FeatureLevelTCP DNSFeatureLevel = iota
	FeatureLevelUDP
	FeatureLevelEDNS0
)

// DNSFeatureLevel names one point on the three-level DNS transport ladder.
type DNSFeatureLevel Level

func (l DNSFeatureLevel) String() string {
	switch l {
	case FeatureLevelTCP:
		return "TCP"
	case FeatureLevelUDP:
		return "UDP"
	case FeatureLevelEDNS0:
		return "UDP+EDNS0"
	default:
		return "unknown"
	}
}

// DNSServer is a resolved endpoint tracked with the feature ladder: each
// successful exchange at a given transport promotes verified; each
// timeout/refusal records a failure that may demote possible.
type DNSServer struct {
	Address net.IP
	ladder  *Ladder
}

// NewDNSServer constructs a DNSServer starting at possible=EDNS0,
// verified=TCP (the worst level every server is assumed capable of).
func NewDNSServer(addr net.IP, log *logrus.Entry) *DNSServer {
	return &DNSServer{
		Address: addr,
		ladder:  New(Level(FeatureLevelTCP), Level(FeatureLevelEDNS0), log),
	}
}

// PossibleFeatureLevel returns the transport to attempt next.
func (s *DNSServer) PossibleFeatureLevel() DNSFeatureLevel {
	return DNSFeatureLevel(s.ladder.Possible())
}

// RecordSuccess promotes verified to level.
func (s *DNSServer) RecordSuccess(level DNSFeatureLevel) {
	s.ladder.RecordSuccess(Level(level))
}

// RecordFailure records a failed exchange at the current possible level.
func (s *DNSServer) RecordFailure() {
	s.ladder.RecordFailure()
}
