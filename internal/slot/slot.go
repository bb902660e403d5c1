// Package slot implements the subscription handle discipline used by the
// RTNL cache and the IP acquisition engine: a Slot binds a callback and a piece of
// user data to exactly one anchor list, and detaches itself in O(1) when
// closed. Anchors never hold a reference forward into the subscriber; the
// subscriber's Slot is the only link, so closing it is always enough to stop
// delivery.
package slot

import "sync"

// Slot is an opaque subscription handle. The zero value is not usable;
// obtain one from List.Subscribe.
type Slot[T any] struct {
	mu      sync.Mutex
	list    *List[T]
	elem    *node[T]
	closed  bool
	cleanup func() // optional: cancels a pending request, frees a payload
}

type node[T any] struct {
	prev, next *node[T]
	slot       *Slot[T]
	callback   func(T)
}

// List is a subscription anchor: the global link/address/route list of a
// cache, or the per-object list of one link/address/route, or (via the
// cleanup hook) a pending mutation request keyed by the object's cache key. Exactly
// one List ever owns a given Slot.
type List[T any] struct {
	mu   sync.Mutex
	head *node[T]
	tail *node[T]
	len  int
}

// Subscribe attaches callback to the list and returns the Slot that detaches
// it. callback runs on whatever goroutine the owner of List chooses to drive
// delivery from (the event loop, by convention in this module); Subscribe
// itself does not invoke it.
func (l *List[T]) Subscribe(callback func(T)) *Slot[T] {
	n := &node[T]{callback: callback}
	s := &Slot[T]{list: l}
	n.slot = s
	s.elem = n

	l.mu.Lock()
	n.prev = l.tail
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.len++
	l.mu.Unlock()

	return s
}

// WithCleanup attaches an extra cancellation hook to the slot, invoked once
// (after detaching) when Close runs. Used for slots that additionally carry
// a pending mutation request: the hook cancels the request and releases its
// owned payload.
func (s *Slot[T]) WithCleanup(cleanup func()) *Slot[T] {
	s.mu.Lock()
	s.cleanup = cleanup
	s.mu.Unlock()
	return s
}

// Close detaches the slot from its anchor in O(1) and runs any cleanup hook.
// Close is idempotent.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cleanup := s.cleanup
	s.mu.Unlock()

	l := s.list
	l.mu.Lock()
	n := s.elem
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	l.len--
	l.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
}

// Closed reports whether Close has already run.
func (s *Slot[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Len returns the number of live subscriptions, mainly for tests.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.len
}

// Notify invokes every live subscriber's callback with value, in
// subscription order. It snapshots the chain first so a callback closing its
// own (or another) slot mid-iteration cannot corrupt the walk.
func (l *List[T]) Notify(value T) {
	l.mu.Lock()
	callbacks := make([]func(T), 0, l.len)
	for n := l.head; n != nil; n = n.next {
		callbacks = append(callbacks, n.callback)
	}
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(value)
	}
}
