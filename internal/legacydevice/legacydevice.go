// Package legacydevice re-exports device.Record under the sd_device-style
// names callers migrating off the older API still expect, using type
// aliases plus thin wrapper functions.
package legacydevice

import (
	"fmt"

	"github.com/nanoncore/networkd/internal/device"
)

// Type aliases for backwards compatibility.
type (
	Device = device.Record
	Action = device.Action
)

// Re-exported action constants, named after their sd_device enumerators.
const (
	ActionAdd     = device.ActionAdd
	ActionRemove  = device.ActionRemove
	ActionChange  = device.ActionChange
	ActionMove    = device.ActionMove
	ActionOnline  = device.ActionOnline
	ActionOffline = device.ActionOffline
)

// GetSyspath is the legacy equivalent of sd_device_get_syspath.
func GetSyspath(d *Device) (string, error) {
	if s := d.Syspath(); s != "" {
		return s, nil
	}
	return "", errNotAvailable("syspath")
}

// GetSysname is the legacy equivalent of sd_device_get_sysname.
func GetSysname(d *Device) (string, error) {
	if s := d.SysName(); s != "" {
		return s, nil
	}
	return "", errNotAvailable("sysname")
}

// GetSubsystem is the legacy equivalent of sd_device_get_subsystem.
func GetSubsystem(d *Device) (string, error) {
	if s := d.Subsystem(); s != "" {
		return s, nil
	}
	return "", errNotAvailable("subsystem")
}

// GetDevtype is the legacy equivalent of sd_device_get_devtype.
func GetDevtype(d *Device) (string, error) {
	if s := d.Devtype(); s != "" {
		return s, nil
	}
	return "", errNotAvailable("devtype")
}

// GetDevnum is the legacy equivalent of sd_device_get_devnum.
func GetDevnum(d *Device) (major, minor int, err error) {
	major, minor, ok := d.Devnum()
	if !ok {
		return 0, 0, errNotAvailable("devnum")
	}
	return major, minor, nil
}

// GetDriver is the legacy equivalent of sd_device_get_driver.
func GetDriver(d *Device) (string, error) {
	if s := d.Driver(); s != "" {
		return s, nil
	}
	return "", errNotAvailable("driver")
}

// GetDevpath is the legacy equivalent of sd_device_get_devpath.
func GetDevpath(d *Device) (string, error) {
	return d.Devpath(), nil
}

// GetDevnode is the legacy equivalent of sd_device_get_devnode.
func GetDevnode(d *Device) (string, error) {
	if s := d.Devnode(); s != "" {
		return s, nil
	}
	return "", errNotAvailable("devnode")
}

// GetIfindex is the legacy equivalent of sd_device_get_ifindex.
func GetIfindex(d *Device) (int, error) {
	idx, ok := d.Ifindex()
	if !ok {
		return 0, errNotAvailable("ifindex")
	}
	return idx, nil
}

// GetPropertyValue is the legacy equivalent of sd_device_get_property_value.
func GetPropertyValue(d *Device, key string) (string, error) {
	v, ok := d.Property(key)
	if !ok {
		return "", errNotAvailable(key)
	}
	return v, nil
}

// GetAction is the legacy equivalent of sd_device_get_action.
func GetAction(d *Device) (Action, error) {
	a, ok := d.Action()
	if !ok {
		return "", errNotAvailable("action")
	}
	return a, nil
}

// GetSeqnum is the legacy equivalent of sd_device_get_seqnum.
func GetSeqnum(d *Device) uint64 {
	return d.Seqnum()
}

func errNotAvailable(what string) error {
	return fmt.Errorf("legacydevice: %s not available", what)
}
