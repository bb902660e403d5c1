package device

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nanoncore/networkd/internal/xerrors"
)

// Netlink multicast group identifiers for NETLINK_KOBJECT_UEVENT. Group 1 is
// the kernel's own broadcast group; group 2 is reserved for userspace
// broadcasters (e.g. udevd's legacy "udev" monitor) and is always ignored
// here per spec.md §6.
const (
	groupKernel    = 0x1
	groupUserspace = 0x2
)

// Event is delivered to a Monitor's sink for every accepted uevent.
type Event struct {
	Record     *Record
	Action     Action
	Seqnum     uint64
	Received   time.Time
	OldDevpath string // only set when Action == ActionMove
}

// Sink receives decoded events. It runs on the goroutine driving the
// monitor's Run loop; spec.md §4.1 "callbacks fire on the thread running the
// event loop" applies here via single-goroutine delivery.
type Sink func(*Monitor, Event)

// Monitor reads kernel uevent datagrams from a NETLINK_KOBJECT_UEVENT,
// group KERNEL socket and decodes them into Events. See spec.md §4.2.
type Monitor struct {
	fd      int
	ownsFD  bool
	sysRoot string
	sink    Sink
	log     *logrus.Entry
	rcvbuf  int

	closed bool
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithSysRoot overrides DefaultSysRoot, mainly for tests.
func WithSysRoot(root string) Option {
	return func(m *Monitor) { m.sysRoot = root }
}

// WithReceiveBuffer requests SO_RCVBUF be raised to at least n bytes.
// Failure to raise it (insufficient capability) is logged and otherwise
// ignored, per spec.md §4.2.
func WithReceiveBuffer(n int) Option {
	return func(m *Monitor) { m.rcvbuf = n }
}

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Entry) Option {
	return func(m *Monitor) { m.log = l }
}

// WithInheritedFD adopts an already-open, already-bound NETLINK_KOBJECT_UEVENT
// socket instead of creating one. The Monitor does not close fd on Close in
// this case; ownership remains with the caller's supervisor.
func WithInheritedFD(fd int) Option {
	return func(m *Monitor) { m.fd = fd; m.ownsFD = false }
}

// NewMonitor opens (or adopts, via WithInheritedFD) a kernel uevent socket
// and registers sink as the callback for every accepted event. The socket is
// not bound here; callers call Bind before Run.
func NewMonitor(sink Sink, opts ...Option) (*Monitor, error) {
	if sink == nil {
		return nil, fmt.Errorf("device: monitor sink must not be nil")
	}
	m := &Monitor{
		fd:      -1,
		sysRoot: DefaultSysRoot,
		sink:    sink,
		log:     logrus.WithField("component", "device.monitor"),
	}
	for _, o := range opts {
		o(m)
	}
	if m.fd < 0 {
		fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
		if err != nil {
			return nil, fmt.Errorf("device: open uevent socket: %w", err)
		}
		m.fd = fd
		m.ownsFD = true
	}
	return m, nil
}

// Bind binds the socket to the kernel multicast group. Per the source's
// known bug (spec.md §9), the destination netlink address is always
// explicitly initialized here before bind rather than left zeroed.
func (m *Monitor) Bind() error {
	if m.rcvbuf > 0 {
		if err := unix.SetsockoptInt(m.fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, m.rcvbuf); err != nil {
			if err := unix.SetsockoptInt(m.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, m.rcvbuf); err != nil {
				m.log.WithError(err).Warn("failed to raise uevent socket receive buffer; continuing with default")
			}
		}
	}
	if err := unix.SetsockoptInt(m.fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		return fmt.Errorf("device: enable SO_PASSCRED: %w", err)
	}
	if err := unix.SetsockoptInt(m.fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
		m.log.WithError(err).Debug("failed to enable SO_TIMESTAMP")
	}

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: groupKernel}
	if err := unix.Bind(m.fd, sa); err != nil {
		return fmt.Errorf("device: bind uevent socket: %w", err)
	}
	return nil
}

// Close releases the socket if the Monitor owns it.
func (m *Monitor) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if m.ownsFD {
		return unix.Close(m.fd)
	}
	return nil
}

// FD returns the underlying socket descriptor, for integration with an
// external poller/event loop.
func (m *Monitor) FD() int { return m.fd }

// ReadOne reads and decodes a single datagram, invoking sink on acceptance.
// It returns nil both when an event was delivered and when the datagram was
// legitimately filtered out (spec.md §8 property 1): filtering is not an
// error, only a malformed/oversized read is.
func (m *Monitor) ReadOne() error {
	buf := make([]byte, 1<<20)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred))

	n, oobn, _, from, err := unix.Recvmsg(m.fd, buf, oob, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("device: recvmsg: %w", err)
	}

	nl, ok := from.(*unix.SockaddrNetlink)
	if !ok || !acceptSender(nl) {
		return nil // not from the kernel multicast group, or not from the kernel itself
	}

	if n < len("x@/") || n >= len(buf) {
		return nil // too short, or saturated the buffer: drop per spec.md §4.2 step 1
	}

	cred, err := parseCredentials(oob[:oobn])
	if err != nil || cred == nil {
		return nil // no SCM_CREDENTIALS: drop
	}
	if cred.Uid != 0 {
		return nil // non-root sender: drop
	}

	ev, err := decodeUevent(m.sysRoot, buf[:n], time.Now())
	if err != nil {
		m.log.WithError(err).Debug("dropping malformed uevent")
		return nil
	}

	m.sink(m, *ev)
	return nil
}

// Run drives ReadOne in a loop until stop is closed or a non-recoverable
// error occurs.
func (m *Monitor) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		if err := m.waitReadable(stop); err != nil {
			return err
		}
		if err := m.ReadOne(); err != nil {
			return err
		}
	}
}

// acceptSender reports whether a datagram's source address is the kernel's
// own multicast broadcast, rejecting both the userspace group and any
// multicast relayed by a non-kernel sender (nl.Pid != 0 means it was sent by
// a process, not netlink core) per spec.md §4.2 step 1.
func acceptSender(nl *unix.SockaddrNetlink) bool {
	return nl.Groups == groupKernel && nl.Pid == 0
}

type credentials struct {
	Pid, Uid, Gid uint32
}

func parseCredentials(oob []byte) (*credentials, error) {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	for _, c := range cmsgs {
		if c.Header.Level == unix.SOL_SOCKET && c.Header.Type == unix.SCM_CREDENTIALS {
			ucred, err := unix.ParseUnixCredentials(&c)
			if err != nil {
				return nil, err
			}
			return &credentials{Pid: uint32(ucred.Pid), Uid: ucred.Uid, Gid: ucred.Gid}, nil
		}
	}
	return nil, nil
}

// decodeUevent implements spec.md §4.2 steps 3-6.
func decodeUevent(sysRoot string, payload []byte, received time.Time) (*Event, error) {
	nul := bytes.IndexByte(payload, 0)
	if nul < 0 {
		return nil, fmt.Errorf("device: %w: no header terminator", xerrors.ErrMalformed)
	}
	header := string(payload[:nul])
	if !strings.Contains(header, "@/") {
		return nil, fmt.Errorf("device: %w: header missing '@/': %q", xerrors.ErrMalformed, header)
	}

	rec := &Record{
		sysRoot:    sysRoot,
		properties: make(map[string]string),
		tags:       make(map[string]struct{}),
		devlinks:   make(map[string]struct{}),
		firstSeenUsec: received.UnixMicro(),
		refcount:   1,
		sealed:     true,
	}

	rest := payload[nul+1:]
	var haveMajor, haveMinor bool
	var major, minor int
	var oldDevpath string

	for len(rest) > 0 {
		end := bytes.IndexByte(rest, 0)
		var entry []byte
		if end < 0 {
			entry = rest
			rest = nil
		} else {
			entry = rest[:end]
			rest = rest[end+1:]
		}
		if len(entry) == 0 {
			continue
		}
		eq := bytes.IndexByte(entry, '=')
		if eq < 0 {
			continue
		}
		key := string(entry[:eq])
		value := string(entry[eq+1:])

		switch key {
		case "DEVPATH":
			rec.syspath = sysRoot + value
		case "SUBSYSTEM":
			rec.subsystem = value
		case "DEVTYPE":
			rec.devtype = value
		case "DEVNAME":
			rec.devnode = value
		case "DRIVER":
			rec.driver = value
		case "IFINDEX":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("device: %w: bad IFINDEX %q", xerrors.ErrMalformed, value)
			}
			rec.ifindex = n
			rec.haveIfindex = true
		case "DEVMODE", "DEVUID", "DEVGID", "USEC_INITIALIZED":
			rec.setProperty(key, value)
		case "MAJOR":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("device: %w: bad MAJOR %q", xerrors.ErrMalformed, value)
			}
			major, haveMajor = n, true
		case "MINOR":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("device: %w: bad MINOR %q", xerrors.ErrMalformed, value)
			}
			minor, haveMinor = n, true
		case "ACTION":
			a, ok := parseAction(value)
			if !ok {
				return nil, fmt.Errorf("device: %w: unrecognised action %q", xerrors.ErrMalformed, value)
			}
			rec.action = a
		case "SEQNUM":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("device: %w: bad SEQNUM %q", xerrors.ErrMalformed, value)
			}
			rec.seqnum = n
		case "DEVPATH_OLD":
			oldDevpath = sysRoot + value
		default:
			rec.setProperty(key, value)
		}
	}

	if haveMajor && haveMinor {
		rec.major, rec.minor, rec.haveDevnum = major, minor, true
	}
	rec.oldDevpath = oldDevpath

	if rec.syspath == "" || rec.subsystem == "" || rec.action == "" {
		return nil, fmt.Errorf("device: %w: missing devpath/subsystem/action", xerrors.ErrMalformed)
	}
	if err := rec.checkSealInvariants(); err != nil {
		return nil, err
	}

	return &Event{
		Record:     rec,
		Action:     rec.action,
		Seqnum:     rec.seqnum,
		Received:   received,
		OldDevpath: oldDevpath,
	}, nil
}

func (m *Monitor) waitReadable(stop <-chan struct{}) error {
	var fds [1]unix.PollFd
	fds[0] = unix.PollFd{Fd: int32(m.fd), Events: unix.POLLIN}
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		n, err := unix.Poll(fds[:], 200)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("device: poll uevent socket: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
}
