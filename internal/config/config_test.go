package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SysRoot != "/sys" {
		t.Fatalf("SysRoot = %q, want /sys", cfg.SysRoot)
	}
}

func TestLoadParsesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networkd.toml")
	doc := `
sys-root = "/mnt/sys"

[device]
receive-buffer-bytes = 4194304

[links]
allow = ["eth*", "wlan*"]
deny = ["eth1"]

[dhcp]
client-identifier = "rig-17"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SysRoot != "/mnt/sys" {
		t.Fatalf("SysRoot = %q, want /mnt/sys", cfg.SysRoot)
	}
	if cfg.Device.ReceiveBufferBytes != 4194304 {
		t.Fatalf("ReceiveBufferBytes = %d, want 4194304", cfg.Device.ReceiveBufferBytes)
	}
	if cfg.DHCP.ClientIdentifier != "rig-17" {
		t.Fatalf("ClientIdentifier = %q, want rig-17", cfg.DHCP.ClientIdentifier)
	}
}

func TestManagedAppliesDenyBeforeAllow(t *testing.T) {
	cfg := Config{Links: LinksConfig{Allow: []string{"eth*"}, Deny: []string{"eth1"}}}
	if !cfg.Managed("eth0") {
		t.Fatal("eth0 should be managed")
	}
	if cfg.Managed("eth1") {
		t.Fatal("eth1 should be denied despite matching allow")
	}
	if cfg.Managed("wlan0") {
		t.Fatal("wlan0 should not be managed: matches no allow pattern")
	}
}
