package deviceipc

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/nanoncore/networkd/internal/device"
)

type emittedSignal struct {
	path dbus.ObjectPath
	name string
	body []interface{}
}

type fakeConn struct {
	exported []string
	emitted  []emittedSignal
	nameReply dbus.RequestNameReply
	nameErr   error
	closed    bool
}

func (f *fakeConn) Emit(path dbus.ObjectPath, name string, body ...interface{}) error {
	f.emitted = append(f.emitted, emittedSignal{path: path, name: name, body: body})
	return nil
}

func (f *fakeConn) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	f.exported = append(f.exported, string(path)+"/"+iface)
	return nil
}

func (f *fakeConn) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	if f.nameErr != nil {
		return 0, f.nameErr
	}
	return f.nameReply, nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func newTestRecord(t *testing.T, syspath string) *device.Record {
	t.Helper()
	// Records are normally built from a real /sys walk; for bridge tests we
	// only need Properties() to return something, so build via a minimal
	// sealed record through NewFromSyspath against a throwaway fixture dir
	// is unnecessary here -- the bridge only reads Properties(), which is
	// empty but valid on a freshly constructed zero-property record.
	rec, err := device.NewFromSyspath(t.TempDir(), syspath)
	if err != nil {
		t.Fatalf("NewFromSyspath: %v", err)
	}
	return rec
}

func TestNewRequestsNameAndExportsManager(t *testing.T) {
	conn := &fakeConn{nameReply: dbus.RequestNameReplyPrimaryOwner}
	b, err := newWithConn(conn, nil)
	if err != nil {
		t.Fatalf("newWithConn: %v", err)
	}
	if len(conn.exported) != 1 || conn.exported[0] != string(ObjectPath)+"/"+InterfaceName {
		t.Fatalf("exported = %v, want one entry for %s/%s", conn.exported, ObjectPath, InterfaceName)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !conn.closed {
		t.Fatal("expected underlying conn to be closed")
	}
}

func TestNewFailsWhenNameAlreadyOwned(t *testing.T) {
	conn := &fakeConn{nameReply: dbus.RequestNameReplyExists}
	if _, err := newWithConn(conn, nil); err == nil {
		t.Fatal("expected error when name already owned")
	}
}

func TestPublishEmitsMatchingSignalPerAction(t *testing.T) {
	cases := []struct {
		action device.Action
		want   string
	}{
		{device.ActionAdd, sigAddDevice},
		{device.ActionChange, sigChangeDevice},
		{device.ActionRemove, sigRemoveDevice},
		{device.ActionOnline, sigOnlineDevice},
		{device.ActionOffline, sigOfflineDevice},
	}
	for _, tc := range cases {
		t.Run(string(tc.action), func(t *testing.T) {
			conn := &fakeConn{nameReply: dbus.RequestNameReplyPrimaryOwner}
			b, err := newWithConn(conn, nil)
			if err != nil {
				t.Fatalf("newWithConn: %v", err)
			}
			rec := newTestRecord(t, "/devices/virtual/net/eth0")
			b.Publish(device.Event{Record: rec, Action: tc.action, Seqnum: 7})
			if len(conn.emitted) != 1 {
				t.Fatalf("emitted = %d signals, want 1", len(conn.emitted))
			}
			if conn.emitted[0].name != InterfaceName+"."+tc.want {
				t.Fatalf("signal = %q, want %q", conn.emitted[0].name, InterfaceName+"."+tc.want)
			}
			if conn.emitted[0].body[0].(uint64) != 7 {
				t.Fatalf("seqnum = %v, want 7", conn.emitted[0].body[0])
			}
		})
	}
}

func TestPublishMoveCarriesOldDevpath(t *testing.T) {
	conn := &fakeConn{nameReply: dbus.RequestNameReplyPrimaryOwner}
	b, err := newWithConn(conn, nil)
	if err != nil {
		t.Fatalf("newWithConn: %v", err)
	}
	rec := newTestRecord(t, "/devices/virtual/net/eth0")
	b.Publish(device.Event{Record: rec, Action: device.ActionMove, Seqnum: 3, OldDevpath: "/devices/virtual/net/old0"})

	if len(conn.emitted) != 1 {
		t.Fatalf("emitted = %d signals, want 1", len(conn.emitted))
	}
	sig := conn.emitted[0]
	if sig.name != InterfaceName+"."+sigMoveDevice {
		t.Fatalf("signal = %q, want MoveDevice", sig.name)
	}
	if sig.body[1].(string) != "/devices/virtual/net/old0" {
		t.Fatalf("old devpath = %v, want /devices/virtual/net/old0", sig.body[1])
	}
}

func TestPublishDropsUnknownAction(t *testing.T) {
	conn := &fakeConn{nameReply: dbus.RequestNameReplyPrimaryOwner}
	b, err := newWithConn(conn, nil)
	if err != nil {
		t.Fatalf("newWithConn: %v", err)
	}
	rec := newTestRecord(t, "/devices/virtual/net/eth0")
	b.Publish(device.Event{Record: rec, Action: device.Action("bogus"), Seqnum: 1})
	if len(conn.emitted) != 0 {
		t.Fatalf("emitted = %d signals, want 0 for unknown action", len(conn.emitted))
	}
}
