package main

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nanoncore/networkd/internal/config"
	"github.com/nanoncore/networkd/internal/ipacq"
	"github.com/nanoncore/networkd/internal/rtnl"
)

// linkSupervisor starts and stops one ipacq.Engine per non-loopback link
// the RTNL cache observes, gated by the config's managed-link glob list.
// Engines are never reused across a link's lifetime: a link that drops out
// of the cache and later reappears (new ifindex) gets a fresh Engine.
type linkSupervisor struct {
	cache *rtnl.Cache
	cfg   config.Config
	log   *logrus.Entry

	mu      sync.Mutex
	engines map[int]*ipacq.Engine
}

func newLinkSupervisor(cache *rtnl.Cache, cfg config.Config, log *logrus.Entry) *linkSupervisor {
	return &linkSupervisor{
		cache:   cache,
		cfg:     cfg,
		log:     log,
		engines: make(map[int]*ipacq.Engine),
	}
}

// attach subscribes to every link the cache will observe from now on, then
// replays the links already present: SubscribeLinks only fires for links
// discovered after the call, so the snapshot from AllLinks fills the gap
// (spec.md §4.3: subscribers get no automatic replay).
func (s *linkSupervisor) attach() {
	s.cache.SubscribeLinks(func(l *rtnl.Link) {
		s.considerLink(l)
	})
	for _, l := range s.cache.AllLinks() {
		s.considerLink(l)
	}
}

func (s *linkSupervisor) considerLink(l *rtnl.Link) {
	data := l.Data()
	if data.Flags&uint32(unix.IFF_LOOPBACK) != 0 {
		return
	}
	if !s.cfg.Managed(data.Name) {
		s.log.WithField("link", data.Name).Debug("ipacq: link not managed, skipping")
		return
	}

	s.mu.Lock()
	if _, exists := s.engines[data.Ifindex]; exists {
		s.mu.Unlock()
		return
	}
	engine := ipacq.New(s.cache, l, seedFromIfindex(data.Ifindex), ipacq.Clients{}, s.log.WithField("link", data.Name))
	s.engines[data.Ifindex] = engine
	s.mu.Unlock()

	s.log.WithField("link", data.Name).Info("ipacq: starting engine")
	engine.Start()
}

func seedFromIfindex(ifindex int) uint64 {
	return uint64(ifindex)
}
