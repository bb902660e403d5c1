package device

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDeviceIDDerivation(t *testing.T) {
	t.Run("block device with devnum", func(t *testing.T) {
		r := &Record{sysRoot: "/sys", syspath: "/sys/devices/virtual/block/loop0", properties: map[string]string{}}
		r.subsystem = "block"
		r.major, r.minor, r.haveDevnum = 259, 131072, true
		id, err := r.DeviceID()
		if err != nil || id != "b259:131072" {
			t.Fatalf("id = %q, err = %v, want b259:131072", id, err)
		}
	})

	t.Run("net device by ifindex", func(t *testing.T) {
		r := &Record{sysRoot: "/sys", syspath: "/sys/devices/virtual/net/eth0", properties: map[string]string{}}
		r.subsystem = "net"
		r.ifindex, r.haveIfindex = 3, true
		id, err := r.DeviceID()
		if err != nil || id != "n3" {
			t.Fatalf("id = %q, err = %v, want n3", id, err)
		}
	})

	t.Run("subsystem+sysname fallback", func(t *testing.T) {
		r := &Record{sysRoot: "/sys", syspath: "/sys/devices/pci0000:00/0000:00:1f.2", properties: map[string]string{}}
		r.subsystem = "pci"
		id, err := r.DeviceID()
		if err != nil || id != "+pci:0000:00:1f.2" {
			t.Fatalf("id = %q, err = %v, want +pci:0000:00:1f.2", id, err)
		}
	})
}

func TestLoadDatabaseAppliesRecognisedLines(t *testing.T) {
	dbRoot := t.TempDir()
	content := "S:input/event3\nL:0\nE:ID_INPUT=1\nG:seat\nW:42\nI:123456\nZ:unknown-letter\n"
	if err := os.WriteFile(filepath.Join(dbRoot, "+pci:0000:00:1f.2"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &Record{
		sysRoot:    "/sys",
		syspath:    "/sys/devices/pci0000:00/0000:00:1f.2",
		subsystem:  "pci",
		properties: map[string]string{},
		tags:       map[string]struct{}{},
		devlinks:   map[string]struct{}{},
	}

	if err := LoadDatabase(dbRoot, r, nil); err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}

	if v, ok := r.Property("ID_INPUT"); !ok || v != "1" {
		t.Errorf("ID_INPUT = (%q, %v)", v, ok)
	}
	links := r.Devlinks()
	if len(links) != 1 || links[0] != "/dev/input/event3" {
		t.Errorf("devlinks = %v", links)
	}
	tags := r.Tags()
	if len(tags) != 1 || tags[0] != "seat" {
		t.Errorf("tags = %v", tags)
	}
	if r.watchHandle != 42 {
		t.Errorf("watchHandle = %d, want 42", r.watchHandle)
	}
	if r.firstSeenUsec != 123456 {
		t.Errorf("firstSeenUsec = %d, want 123456", r.firstSeenUsec)
	}
	if !r.dbConsumed {
		t.Error("expected dbConsumed = true")
	}
}

func TestLoadDatabaseMissingFileIsNotError(t *testing.T) {
	dbRoot := t.TempDir()
	r := &Record{sysRoot: "/sys", syspath: "/sys/devices/x", subsystem: "misc", properties: map[string]string{}}
	if err := LoadDatabase(dbRoot, r, nil); err != nil {
		t.Fatalf("expected nil error for missing db file, got %v", err)
	}
}

func TestLoadDatabaseRejectsSealedRecord(t *testing.T) {
	r := &Record{sealed: true, properties: map[string]string{}}
	if err := LoadDatabase(t.TempDir(), r, nil); err == nil {
		t.Fatal("expected error loading database onto a sealed record")
	}
}
