package device

import (
	"container/heap"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Enumerator produces a deterministically ordered, one-shot sequence of
// device records by walking /sys. See spec.md §4.6.
type Enumerator struct {
	sysRoot string
	consumed bool
	paths    []string // populated on first Devices() call
}

// NewEnumerator constructs an Enumerator rooted at sysRoot (DefaultSysRoot if
// empty).
func NewEnumerator(sysRoot string) *Enumerator {
	if sysRoot == "" {
		sysRoot = DefaultSysRoot
	}
	return &Enumerator{sysRoot: sysRoot}
}

// Devices scans the filesystem (on first call, or after Reset) and returns
// records in the comparator order defined below. Subsequent calls return the
// same already-consumed, empty result until Reset is called.
func (e *Enumerator) Devices() ([]*Record, error) {
	if e.consumed {
		return nil, nil
	}
	e.consumed = true

	syspaths, err := e.scan()
	if err != nil {
		return nil, err
	}
	e.paths = syspaths

	pq := &devpathQueue{}
	heap.Init(pq)
	for _, sp := range syspaths {
		heap.Push(pq, sp)
	}

	out := make([]*Record, 0, len(syspaths))
	for pq.Len() > 0 {
		sp := heap.Pop(pq).(string)
		rec, err := NewFromSyspath(e.sysRoot, sp)
		if err != nil {
			continue // a transient directory race; skip rather than fail the whole walk
		}
		rec.setSubsystem(subsystemForPath(e.sysRoot, sp))
		out = append(out, rec)
	}
	return out, nil
}

// Reset allows a fresh scan; spec.md §4.6 "re-enumeration clears and
// rescans".
func (e *Enumerator) Reset() {
	e.consumed = false
	e.paths = nil
}

func (e *Enumerator) scan() ([]string, error) {
	var roots []string
	if info, err := os.Stat(filepath.Join(e.sysRoot, "subsystem")); err == nil && info.IsDir() {
		roots = append(roots, filepath.Join(e.sysRoot, "subsystem", "*", "devices", "*"))
	} else {
		roots = append(roots,
			filepath.Join(e.sysRoot, "bus", "*", "devices", "*"),
			filepath.Join(e.sysRoot, "class", "*", "*"),
		)
	}

	var out []string
	seen := map[string]bool{}
	for _, pattern := range roots {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			real, err := filepath.EvalSymlinks(m)
			if err != nil {
				real = m
			}
			if seen[real] {
				continue
			}
			seen[real] = true
			out = append(out, real)
		}
	}
	return out, nil
}

func subsystemForPath(sysRoot, syspath string) string {
	if link, err := os.Readlink(filepath.Join(syspath, "subsystem")); err == nil {
		return filepath.Base(link)
	}
	devpath := strings.TrimPrefix(syspath, sysRoot)
	return subsystemFromDevpath(devpath)
}

// --- ordering comparator (spec.md §4.6, testable property 3) ---

var soundControlRE = regexp.MustCompile(`/sound/card\d+/`)

// isDelayed reports whether devpath is a composite block device that must be
// enumerated after its backing devices.
func isDelayed(devpath string) bool {
	return strings.Contains(devpath, "/block/md") || strings.Contains(devpath, "/block/dm-")
}

// soundCardControlNode returns the "/sound/card<N>/" prefix of devpath,
// whether the tail under it starts with "controlC", and whether devpath lies
// under a sound card at all, implementing rule 1:
// the card's control node sorts after any non-control sibling under the same
// card.
func soundCardControlNode(devpath string) (prefix string, isControl, isSound bool) {
	loc := soundControlRE.FindStringIndex(devpath)
	if loc == nil {
		return "", false, false
	}
	prefix = devpath[:loc[1]]
	tail := devpath[loc[1]:]
	return prefix, strings.HasPrefix(tail, "controlC"), true
}

// compareDevpaths implements the enumerator's three-rule total order.
func compareDevpaths(a, b string) bool {
	aPrefix, aControl, aSound := soundCardControlNode(a)
	bPrefix, bControl, bSound := soundCardControlNode(b)
	if aSound && bSound && aPrefix == bPrefix && aControl != bControl {
		return !aControl // non-control sorts before control
	}

	aDelay, bDelay := isDelayed(a), isDelayed(b)
	if aDelay != bDelay {
		return !aDelay // non-delayed sorts before delayed
	}

	return a < b
}

// devpathQueue is a container/heap priority queue ordered by
// compareDevpaths; Pop yields elements smallest-first, i.e. in enumeration
// order.
type devpathQueue []string

func (q devpathQueue) Len() int            { return len(q) }
func (q devpathQueue) Less(i, j int) bool  { return compareDevpaths(q[i], q[j]) }
func (q devpathQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *devpathQueue) Push(x interface{}) { *q = append(*q, x.(string)) }
func (q *devpathQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

var _ sort.Interface = devpathQueue(nil)
