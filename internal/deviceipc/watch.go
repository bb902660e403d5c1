package deviceipc

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/nanoncore/networkd/internal/device"
)

// WatchedEvent is a decoded org.freedesktop.device1.Manager signal, as
// consumed by device-cli's monitor verb alongside direct kernel events.
type WatchedEvent struct {
	Action     device.Action
	Seqnum     uint64
	OldDevpath string
	Properties map[string]string
}

var signalActions = map[string]device.Action{
	sigAddDevice:     device.ActionAdd,
	sigChangeDevice:  device.ActionChange,
	sigRemoveDevice:  device.ActionRemove,
	sigOnlineDevice:  device.ActionOnline,
	sigOfflineDevice: device.ActionOffline,
	sigMoveDevice:    device.ActionMove,
}

// Watcher subscribes to the Manager interface's signals from the system
// bus, the consumer side of Bridge.Publish.
type Watcher struct {
	conn *dbus.Conn
	raw  chan *dbus.Signal
	out  chan WatchedEvent
}

// NewWatcher connects to the system bus and subscribes to every signal on
// InterfaceName.
func NewWatcher() (*Watcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("deviceipc: connect system bus: %w", err)
	}
	if err := conn.AddMatchSignal(dbus.WithMatchObjectPath(ObjectPath), dbus.WithMatchInterface(InterfaceName)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("deviceipc: add match: %w", err)
	}

	w := &Watcher{
		conn: conn,
		raw:  make(chan *dbus.Signal, 32),
		out:  make(chan WatchedEvent, 32),
	}
	conn.Signal(w.raw)
	go w.pump()
	return w, nil
}

func (w *Watcher) pump() {
	defer close(w.out)
	for sig := range w.raw {
		ev, ok := decodeSignal(sig)
		if !ok {
			continue
		}
		w.out <- ev
	}
}

func decodeSignal(sig *dbus.Signal) (WatchedEvent, bool) {
	idx := -1
	for i := len(sig.Name) - 1; i >= 0; i-- {
		if sig.Name[i] == '.' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return WatchedEvent{}, false
	}
	name := sig.Name[idx+1:]
	action, ok := signalActions[name]
	if !ok {
		return WatchedEvent{}, false
	}

	ev := WatchedEvent{Action: action}
	switch action {
	case device.ActionMove:
		if len(sig.Body) != 3 {
			return WatchedEvent{}, false
		}
		seqnum, ok := sig.Body[0].(uint64)
		old, ok2 := sig.Body[1].(string)
		props, ok3 := sig.Body[2].(map[string]string)
		if !ok || !ok2 || !ok3 {
			return WatchedEvent{}, false
		}
		ev.Seqnum, ev.OldDevpath, ev.Properties = seqnum, old, props
	default:
		if len(sig.Body) != 2 {
			return WatchedEvent{}, false
		}
		seqnum, ok := sig.Body[0].(uint64)
		props, ok2 := sig.Body[1].(map[string]string)
		if !ok || !ok2 {
			return WatchedEvent{}, false
		}
		ev.Seqnum, ev.Properties = seqnum, props
	}
	return ev, true
}

// Events returns the channel of decoded signals. It is closed when the
// underlying bus connection's signal channel closes.
func (w *Watcher) Events() <-chan WatchedEvent { return w.out }

// Close releases the bus connection.
func (w *Watcher) Close() error {
	return w.conn.Close()
}
