// Package deviceipc bridges local device events onto the D-Bus
// org.freedesktop.device1 interface described in spec.md §6 and expanded in
// SPEC_FULL.md §4.8: a Manager object at /org/freedesktop/device1, under the
// well-known bus name org.freedesktop.device1, emitting one signal per
// device-monitor event.
package deviceipc

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/nanoncore/networkd/internal/device"
)

const (
	// BusName is the well-known name the bridge requests on the system bus.
	BusName = "org.freedesktop.device1"
	// ObjectPath is the Manager object's path.
	ObjectPath = dbus.ObjectPath("/org/freedesktop/device1")
	// InterfaceName is the interface signals are emitted under.
	InterfaceName = "org.freedesktop.device1.Manager"
)

// signal names, one per device.Action plus MoveDevice's distinct shape.
const (
	sigAddDevice     = "AddDevice"
	sigChangeDevice  = "ChangeDevice"
	sigRemoveDevice  = "RemoveDevice"
	sigMoveDevice    = "MoveDevice"
	sigOnlineDevice  = "OnlineDevice"
	sigOfflineDevice = "OfflineDevice"
)

// Conn is the subset of *dbus.Conn the Bridge depends on, so tests can
// supply a recording double instead of a real bus connection.
type Conn interface {
	Emit(path dbus.ObjectPath, name string, body ...interface{}) error
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	Close() error
}

// Bridge republishes device.Event values as D-Bus signals on the
// org.freedesktop.device1.Manager interface. It holds no device state of its
// own; it is a pure translator between device.Event and the wire shape spec.md
// §6 assigns each signal: `t a{ss}` for most actions, `t s a{ss}` for
// MoveDevice (seqnum, old devpath, properties).
type Bridge struct {
	conn Conn
	log  *logrus.Entry
}

// Manager is exported at ObjectPath so peers can introspect the bridge even
// though it currently exposes no methods of its own, only signals.
type Manager struct{}

// New connects to the system bus, exports the Manager object, and requests
// BusName. The caller owns the returned Bridge's lifetime and must call
// Close when done.
func New(log *logrus.Entry) (*Bridge, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("deviceipc: connect system bus: %w", err)
	}
	b, err := newWithConn(conn, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func newWithConn(conn Conn, log *logrus.Entry) (*Bridge, error) {
	if log == nil {
		log = logrus.WithField("component", "deviceipc")
	}
	b := &Bridge{conn: conn, log: log}

	if err := conn.Export(&Manager{}, ObjectPath, InterfaceName); err != nil {
		return nil, fmt.Errorf("deviceipc: export manager: %w", err)
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("deviceipc: request name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("deviceipc: name %s already owned", BusName)
	}
	return b, nil
}

// Close releases the bus connection.
func (b *Bridge) Close() error {
	return b.conn.Close()
}

// Publish emits the D-Bus signal corresponding to ev.Action. Unknown actions
// are logged and dropped rather than emitted, since the interface has no
// catch-all signal.
func (b *Bridge) Publish(ev device.Event) {
	props := propertyMap(ev.Record)

	var name string
	var body []interface{}
	switch ev.Action {
	case device.ActionAdd:
		name, body = sigAddDevice, []interface{}{ev.Seqnum, props}
	case device.ActionChange:
		name, body = sigChangeDevice, []interface{}{ev.Seqnum, props}
	case device.ActionRemove:
		name, body = sigRemoveDevice, []interface{}{ev.Seqnum, props}
	case device.ActionOnline:
		name, body = sigOnlineDevice, []interface{}{ev.Seqnum, props}
	case device.ActionOffline:
		name, body = sigOfflineDevice, []interface{}{ev.Seqnum, props}
	case device.ActionMove:
		name, body = sigMoveDevice, []interface{}{ev.Seqnum, ev.OldDevpath, props}
	default:
		b.log.WithField("action", ev.Action).Warn("deviceipc: dropping unknown action")
		return
	}

	if err := b.conn.Emit(ObjectPath, InterfaceName+"."+name, body...); err != nil {
		b.log.WithError(err).WithField("signal", name).Warn("deviceipc: emit failed")
	}
}

func propertyMap(r *device.Record) map[string]string {
	props := make(map[string]string)
	for _, kv := range r.Properties() {
		props[kv.Key] = kv.Value
	}
	return props
}
