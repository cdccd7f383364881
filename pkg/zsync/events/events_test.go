package events

import "testing"

func TestDispatcherFansOutToAllObservers(t *testing.T) {
	d := NewDispatcher(nil)

	var gotA, gotB []Kind
	d.Register(ObserverFunc(func(e Event) { gotA = append(gotA, e.Kind) }))
	d.Register(ObserverFunc(func(e Event) { gotB = append(gotB, e.Kind) }))

	d.Started()
	d.BlockMatched(3)
	d.Completed()

	want := []Kind{KindStarted, KindBlockMatched, KindCompleted}
	for _, got := range [][]Kind{gotA, gotB} {
		if len(got) != len(want) {
			t.Fatalf("observer received %d events, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("event %d = %v, want %v", i, got[i], want[i])
			}
		}
	}
}

func TestDispatcherSwallowsObserverPanic(t *testing.T) {
	d := NewDispatcher(nil)

	var secondRan bool
	d.Register(ObserverFunc(func(Event) { panic("boom") }))
	d.Register(ObserverFunc(func(Event) { secondRan = true }))

	// Must not panic out of the dispatcher, and every registered observer
	// must still run regardless of an earlier one panicking.
	d.BlockMatched(0)

	if !secondRan {
		t.Fatal("second observer did not run after first observer panicked")
	}
}

func TestNilDispatcherIsANoOp(t *testing.T) {
	var d *Dispatcher
	d.Started()
	d.BlockMatched(1)
	d.Completed()
}

func TestRegisterIgnoresNilObserver(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(nil)
	d.Started() // must not panic
}

func TestBlockMatchedCarriesBlockIndex(t *testing.T) {
	d := NewDispatcher(nil)

	var got Event
	d.Register(ObserverFunc(func(e Event) { got = e }))
	d.BlockMatched(7)

	if got.Kind != KindBlockMatched || got.Block != 7 {
		t.Fatalf("got %+v, want Kind=KindBlockMatched Block=7", got)
	}
}

func TestRangeReceivedCarriesOffsetAndLength(t *testing.T) {
	d := NewDispatcher(nil)

	var got Event
	d.Register(ObserverFunc(func(e Event) { got = e }))
	d.RangeReceived(1024, 256)

	if got.Kind != KindRangeReceived || got.Offset != 1024 || got.Length != 256 {
		t.Fatalf("got %+v, want Kind=KindRangeReceived Offset=1024 Length=256", got)
	}
}
