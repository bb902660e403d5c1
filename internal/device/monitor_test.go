package device

import (
	"bytes"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func buildUevent(header string, kv ...[2]string) []byte {
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteByte(0)
	for _, pair := range kv {
		buf.WriteString(pair[0])
		buf.WriteByte('=')
		buf.WriteString(pair[1])
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func TestDecodeUeventWellFormed(t *testing.T) {
	payload := buildUevent("add@/devices/virtual/net/eth0",
		[2]string{"ACTION", "add"},
		[2]string{"DEVPATH", "/devices/virtual/net/eth0"},
		[2]string{"SUBSYSTEM", "net"},
		[2]string{"IFINDEX", "3"},
		[2]string{"SEQNUM", "42"},
		[2]string{"COLOR", "blue"},
	)

	ev, err := decodeUevent("/sys", payload, time.Now())
	if err != nil {
		t.Fatalf("decodeUevent: %v", err)
	}
	if ev.Action != ActionAdd {
		t.Errorf("action = %q, want add", ev.Action)
	}
	if ev.Seqnum != 42 {
		t.Errorf("seqnum = %d, want 42", ev.Seqnum)
	}
	if ev.Record.Subsystem() != "net" {
		t.Errorf("subsystem = %q, want net", ev.Record.Subsystem())
	}
	if idx, ok := ev.Record.Ifindex(); !ok || idx != 3 {
		t.Errorf("ifindex = (%d, %v), want (3, true)", idx, ok)
	}
	if v, ok := ev.Record.Property("COLOR"); !ok || v != "blue" {
		t.Errorf("property COLOR = (%q, %v), want (blue, true)", v, ok)
	}
	if !ev.Record.Sealed() {
		t.Error("expected record to be sealed")
	}
}

func TestDecodeUeventRejectsMissingAtSlash(t *testing.T) {
	payload := buildUevent("add-devices-virtual-net-eth0",
		[2]string{"ACTION", "add"},
		[2]string{"DEVPATH", "/devices/virtual/net/eth0"},
		[2]string{"SUBSYSTEM", "net"},
	)
	if _, err := decodeUevent("/sys", payload, time.Now()); err == nil {
		t.Fatal("expected error for header without '@/'")
	}
}

func TestDecodeUeventRejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		kv   [][2]string
	}{
		{"missing devpath", [][2]string{{"ACTION", "add"}, {"SUBSYSTEM", "net"}}},
		{"missing subsystem", [][2]string{{"ACTION", "add"}, {"DEVPATH", "/devices/x"}}},
		{"missing action", [][2]string{{"DEVPATH", "/devices/x"}, {"SUBSYSTEM", "net"}}},
		{"unrecognised action", [][2]string{{"ACTION", "explode"}, {"DEVPATH", "/devices/x"}, {"SUBSYSTEM", "net"}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload := buildUevent("add@/devices/x", c.kv...)
			if _, err := decodeUevent("/sys", payload, time.Now()); err == nil {
				t.Fatalf("expected error for %s", c.name)
			}
		})
	}
}

func TestDecodeUeventMoveCarriesOldDevpath(t *testing.T) {
	payload := buildUevent("move@/devices/virtual/net/eth1",
		[2]string{"ACTION", "move"},
		[2]string{"DEVPATH", "/devices/virtual/net/eth1"},
		[2]string{"SUBSYSTEM", "net"},
		[2]string{"DEVPATH_OLD", "/devices/virtual/net/eth0"},
	)
	ev, err := decodeUevent("/sys", payload, time.Now())
	if err != nil {
		t.Fatalf("decodeUevent: %v", err)
	}
	if ev.OldDevpath != "/sys/devices/virtual/net/eth0" {
		t.Errorf("old devpath = %q", ev.OldDevpath)
	}
}

func TestDecodeUeventDevnumRequiresSubsystem(t *testing.T) {
	// MAJOR/MINOR present but no SUBSYSTEM key at all: decodeUevent rejects
	// this through its required-field check (missing subsystem) before the
	// seal-invariant check runs, so a devnum never survives without a
	// subsystem.
	payload := buildUevent("add@/devices/x",
		[2]string{"ACTION", "add"},
		[2]string{"DEVPATH", "/devices/x"},
		[2]string{"MAJOR", "8"},
		[2]string{"MINOR", "1"},
	)
	if _, err := decodeUevent("/sys", payload, time.Now()); err == nil {
		t.Fatal("expected error: devnum present without subsystem")
	}
}

func TestAcceptSenderRejectsNonKernelPid(t *testing.T) {
	cases := []struct {
		name string
		nl   *unix.SockaddrNetlink
		want bool
	}{
		{"kernel broadcast", &unix.SockaddrNetlink{Groups: groupKernel, Pid: 0}, true},
		{"userspace group", &unix.SockaddrNetlink{Groups: groupUserspace, Pid: 0}, false},
		{"spoofed kernel group, nonzero pid", &unix.SockaddrNetlink{Groups: groupKernel, Pid: 1234}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := acceptSender(c.nl); got != c.want {
				t.Errorf("acceptSender(%+v) = %v, want %v", c.nl, got, c.want)
			}
		})
	}
}

// Seqnum monotonicity (spec.md §8 property 2) is a property of the stream,
// not of decoding a single datagram in isolation; here we assert the decoder
// faithfully preserves whatever seqnum the kernel sent, which is the
// building block the property relies on.
func TestDecodeUeventPreservesSeqnumOrdering(t *testing.T) {
	var seqnums []uint64
	for i, s := range []string{"10", "11", "11", "25"} {
		payload := buildUevent("change@/devices/x",
			[2]string{"ACTION", "change"},
			[2]string{"DEVPATH", "/devices/x"},
			[2]string{"SUBSYSTEM", "net"},
			[2]string{"SEQNUM", s},
		)
		ev, err := decodeUevent("/sys", payload, time.Now())
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		seqnums = append(seqnums, ev.Seqnum)
	}
	for i := 1; i < len(seqnums); i++ {
		if seqnums[i] < seqnums[i-1] {
			t.Fatalf("seqnum decreased: %v", seqnums)
		}
	}
}
