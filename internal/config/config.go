// Package config loads the daemon's TOML configuration file: sys-root
// override, uevent receive buffer size, the managed-link allow/deny glob
// list, and DHCP client identifier policy (SPEC_FULL.md §1).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/nanoncore/networkd/internal/device"
)

// Config is the daemon's top-level configuration, decoded from a single
// TOML document.
type Config struct {
	SysRoot string `toml:"sys-root"`

	Device DeviceConfig `toml:"device"`
	Links  LinksConfig  `toml:"links"`
	DHCP   DHCPConfig   `toml:"dhcp"`
}

// DeviceConfig tunes the kernel uevent monitor.
type DeviceConfig struct {
	ReceiveBufferBytes int `toml:"receive-buffer-bytes"`
}

// LinksConfig controls which links the integration harness starts an IP
// acquisition engine for.
type LinksConfig struct {
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
}

// DHCPConfig configures the DHCPv4 client identifier sent on every lease
// request.
type DHCPConfig struct {
	// ClientIdentifier, when empty, defaults to the link's hardware address
	// (DHCP option 61 type 1). An explicit value is sent as an opaque
	// client identifier (type 0).
	ClientIdentifier string `toml:"client-identifier"`
}

// Default returns a Config with every field at the value the rest of the
// module already treats as its zero-config default.
func Default() Config {
	return Config{
		SysRoot: device.DefaultSysRoot,
		Device: DeviceConfig{
			ReceiveBufferBytes: 1 << 20,
		},
		Links: LinksConfig{
			Allow: []string{"*"},
		},
	}
}

// Load decodes the TOML document at path onto a Default() Config. A missing
// file is not an error: the daemon runs on defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := toml.DecodeReader(f, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Managed reports whether linkName passes the allow/deny glob lists: denied if it matches any Deny pattern, else
// allowed if it matches any Allow pattern.
func (c Config) Managed(linkName string) bool {
	for _, pattern := range c.Links.Deny {
		if ok, _ := filepath.Match(pattern, linkName); ok {
			return false
		}
	}
	for _, pattern := range c.Links.Allow {
		if ok, _ := filepath.Match(pattern, linkName); ok {
			return true
		}
	}
	return false
}
