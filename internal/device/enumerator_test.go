package device

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestCompareDevpathsDelaysCompositeBlockDevices(t *testing.T) {
	paths := []string{
		"/devices/virtual/block/dm-0",
		"/devices/pci0000:00/block/sda",
		"/devices/virtual/block/md0",
		"/devices/pci0000:00/block/sdb",
	}
	sort.Slice(paths, func(i, j int) bool { return compareDevpaths(paths[i], paths[j]) })

	delayedSeen := false
	for _, p := range paths {
		if isDelayed(p) {
			delayedSeen = true
			continue
		}
		if delayedSeen {
			t.Fatalf("non-delayed entry %q sorted after a delayed entry: %v", p, paths)
		}
	}
}

func TestCompareDevpathsDelaysSoundControlNode(t *testing.T) {
	paths := []string{
		"/devices/pci0000:00/sound/card0/controlC0",
		"/devices/pci0000:00/sound/card0/pcmC0D0p",
		"/devices/pci0000:00/sound/card0/pcmC0D0c",
	}
	sort.Slice(paths, func(i, j int) bool { return compareDevpaths(paths[i], paths[j]) })

	if paths[len(paths)-1] != "/devices/pci0000:00/sound/card0/controlC0" {
		t.Fatalf("controlC0 did not sort last: %v", paths)
	}
}

func TestCompareDevpathsFallsBackToLexicographic(t *testing.T) {
	paths := []string{"/devices/b", "/devices/a", "/devices/c"}
	sort.Slice(paths, func(i, j int) bool { return compareDevpaths(paths[i], paths[j]) })
	want := []string{"/devices/a", "/devices/b", "/devices/c"}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("got %v, want %v", paths, want)
		}
	}
}

func TestEnumeratorIsOneShot(t *testing.T) {
	root := t.TempDir()
	devDir := filepath.Join(root, "bus", "pci", "devices", "0000:00:1f.2")
	if err := os.MkdirAll(devDir, 0o755); err != nil {
		t.Fatal(err)
	}

	e := NewEnumerator(root)
	first, err := e.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("len(first) = %d, want 1", len(first))
	}

	second, err := e.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Fatalf("second enumeration (no Reset) returned %d devices, want 0", len(second))
	}

	e.Reset()
	third, err := e.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 1 {
		t.Fatalf("len(third) after Reset = %d, want 1", len(third))
	}
}
