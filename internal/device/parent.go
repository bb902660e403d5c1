package device

import (
	"strings"

	"github.com/nanoncore/networkd/internal/xerrors"
)

// Lookup resolves a syspath to a device record, typically backed by the
// enumerator's /sys walk or by re-reading a single device directory. It is
// the seam Record.Parent uses instead of caching a parent pointer supplied
// at construction time.
type Lookup interface {
	ByPath(syspath string) (*Record, error)
}

// Parent returns the nearest ancestor syspath directory that is itself a
// device (has a "subsystem" symlink), as resolved by lookup.
//
// This corrects a bug in the C original: sd_device_get_parent there set
// parent_set := true only inside a branch already guarded by parent_set,
// which meant the cache never actually engaged and every call re-walked the
// tree. Here the lookup result is cached on r exactly once, on the first
// successful resolution; it is never recomputed afterwards, and a failed
// lookup leaves the cache empty for the next call to retry. The cache lives
// only as long as r itself, so it never outlives the child it was computed
// for.
func (r *Record) Parent(lookup Lookup) (*Record, error) {
	r.mu.Lock()
	if r.parentKnown {
		p := r.parent
		r.mu.Unlock()
		if p == nil {
			return nil, xerrors.ErrNotFound
		}
		return p, nil
	}
	syspath := r.syspath
	sysRoot := r.sysRoot
	r.mu.Unlock()

	dir := syspath
	for {
		idx := strings.LastIndexByte(dir, '/')
		if idx <= len(sysRoot) {
			return nil, xerrors.ErrNotFound
		}
		dir = dir[:idx]
		if dir == sysRoot || dir == "" {
			return nil, xerrors.ErrNotFound
		}
		parent, err := lookup.ByPath(dir)
		if err == nil {
			r.mu.Lock()
			r.parent = parent
			r.parentKnown = true
			r.mu.Unlock()
			return parent, nil
		}
	}
}
