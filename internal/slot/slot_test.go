package slot

import "testing"

func TestSubscribeAndNotify(t *testing.T) {
	var l List[int]
	var got []int

	s1 := l.Subscribe(func(v int) { got = append(got, v) })
	defer s1.Close()
	s2 := l.Subscribe(func(v int) { got = append(got, v*10) })
	defer s2.Close()

	l.Notify(1)

	want := []int{1, 10}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCloseDetachesInConstantTime(t *testing.T) {
	var l List[int]
	var fired []int

	slots := make([]*Slot[int], 0, 5)
	for i := 0; i < 5; i++ {
		i := i
		slots = append(slots, l.Subscribe(func(int) { fired = append(fired, i) }))
	}
	if l.Len() != 5 {
		t.Fatalf("len = %d, want 5", l.Len())
	}

	slots[2].Close()
	if l.Len() != 4 {
		t.Fatalf("len after close = %d, want 4", l.Len())
	}

	l.Notify(0)
	for _, want := range []int{0, 1, 3, 4} {
		found := false
		for _, v := range fired {
			if v == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("fired %v missing %d", fired, want)
		}
	}
	for _, v := range fired {
		if v == 2 {
			t.Fatalf("closed slot 2 fired anyway: %v", fired)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	var l List[int]
	s := l.Subscribe(func(int) {})
	s.Close()
	s.Close() // must not panic or double-decrement
	if l.Len() != 0 {
		t.Fatalf("len = %d, want 0", l.Len())
	}
	if !s.Closed() {
		t.Fatal("expected Closed() true")
	}
}

func TestCloseRunsCleanupExactlyOnce(t *testing.T) {
	var l List[int]
	n := 0
	s := l.Subscribe(func(int) {}).WithCleanup(func() { n++ })
	s.Close()
	s.Close()
	if n != 1 {
		t.Fatalf("cleanup ran %d times, want 1", n)
	}
}

func TestNotifyToleratesSelfClose(t *testing.T) {
	var l List[int]
	var s2 *Slot[int]
	s1 := l.Subscribe(func(int) { s2.Close() })
	s2 = l.Subscribe(func(int) {})
	_ = s1

	l.Notify(1) // must not deadlock or skip s2's delivery in this pass
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
}
