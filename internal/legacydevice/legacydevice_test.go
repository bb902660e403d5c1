package legacydevice

import (
	"testing"

	"github.com/nanoncore/networkd/internal/device"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d, err := device.NewFromSyspath("", "/sys/devices/virtual/net/eth0")
	if err != nil {
		t.Fatalf("NewFromSyspath: %v", err)
	}
	return d
}

func TestGetSyspathMatchesUnderlyingRecord(t *testing.T) {
	d := newTestDevice(t)
	got, err := GetSyspath(d)
	if err != nil {
		t.Fatalf("GetSyspath: %v", err)
	}
	if got != d.Syspath() {
		t.Fatalf("GetSyspath = %q, want %q", got, d.Syspath())
	}
}

func TestGetSysnameMatchesUnderlyingRecord(t *testing.T) {
	d := newTestDevice(t)
	got, err := GetSysname(d)
	if err != nil {
		t.Fatalf("GetSysname: %v", err)
	}
	if got != "eth0" {
		t.Fatalf("GetSysname = %q, want eth0", got)
	}
}

func TestGetDevnumReturnsErrorWhenUnset(t *testing.T) {
	d := newTestDevice(t)
	if _, _, err := GetDevnum(d); err == nil {
		t.Fatal("expected error for unset devnum")
	}
}

func TestGetPropertyValueReturnsErrorWhenMissing(t *testing.T) {
	d := newTestDevice(t)
	if _, err := GetPropertyValue(d, "DOES_NOT_EXIST"); err == nil {
		t.Fatal("expected error for missing property")
	}
}

func TestGetSeqnumDefaultsToZero(t *testing.T) {
	d := newTestDevice(t)
	if got := GetSeqnum(d); got != 0 {
		t.Fatalf("GetSeqnum = %d, want 0 for a record never sealed from an event", got)
	}
}
