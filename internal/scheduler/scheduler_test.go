package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countTicker struct{ n atomic.Int64 }

func (c *countTicker) Tick() { c.n.Add(1) }

func start[E any](t *testing.T, s *Scheduler[E]) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not stop")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewDefaults(t *testing.T) {
	s := New[int](0, 0, &countTicker{}, func(int) {})
	if s.Period() != DefaultTick {
		t.Errorf("Period = %v, want %v", s.Period(), DefaultTick)
	}
	if cap(s.inbox) != DefaultQueueSize {
		t.Errorf("queue size = %d, want %d", cap(s.inbox), DefaultQueueSize)
	}
}

func TestSubmitFullQueueDrops(t *testing.T) {
	s := New[int](time.Millisecond, 2, &countTicker{}, func(int) {})

	if !s.Submit(1) || !s.Submit(2) {
		t.Fatal("Submit below capacity must succeed")
	}
	if s.Submit(3) {
		t.Fatal("Submit on a full queue must fail")
	}
	if got := s.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestRunTicksAndHandlesEvents(t *testing.T) {
	tick := &countTicker{}
	var mu sync.Mutex
	var got []int
	s := New(2*time.Millisecond, 8, tick, func(e int) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	stop := start(t, s)

	waitFor(t, "running", s.Running)
	for i := 1; i <= 3; i++ {
		if !s.Submit(i) {
			t.Fatalf("Submit(%d) failed", i)
		}
	}
	waitFor(t, "events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	waitFor(t, "ticks", func() bool { return tick.n.Load() >= 3 })
	stop()

	mu.Lock()
	defer mu.Unlock()
	for i, e := range got {
		if e != i+1 {
			t.Errorf("events out of order: %v", got)
			break
		}
	}
	if s.Running() {
		t.Error("Running after stop")
	}
	st := s.Stats()
	if st.Events != 3 {
		t.Errorf("Events = %d, want 3", st.Events)
	}
	if st.Ticks != uint64(tick.n.Load()) {
		t.Errorf("Ticks = %d, ticker ran %d", st.Ticks, tick.n.Load())
	}
}

func TestTasksNeverOverlap(t *testing.T) {
	var active atomic.Int32
	var overlaps atomic.Int32
	enter := func() {
		if active.Add(1) != 1 {
			overlaps.Add(1)
		}
		time.Sleep(100 * time.Microsecond)
		active.Add(-1)
	}
	s := New(time.Millisecond, 32, TickerFunc(enter), func(int) { enter() })
	stop := start(t, s)

	for i := 0; i < 200; i++ {
		s.Submit(i)
		if i%20 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	waitFor(t, "ticks", func() bool { return s.Stats().Ticks >= 5 })
	stop()

	if n := overlaps.Load(); n != 0 {
		t.Errorf("%d overlapping task executions", n)
	}
}

func TestTicksContinueUnderEventFlood(t *testing.T) {
	tick := &countTicker{}
	s := New(time.Millisecond, 64, tick, func(int) {
		time.Sleep(200 * time.Microsecond)
	})
	stop := start(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for i := 0; ctx.Err() == nil; i++ {
			s.Submit(i)
		}
	}()
	waitFor(t, "ticks under load", func() bool { return tick.n.Load() >= 10 })
	cancel()
	stop()

	if s.Stats().Events == 0 {
		t.Error("no events handled under load")
	}
}

func TestEventHandledWithinTick(t *testing.T) {
	const period = 20 * time.Millisecond
	handled := make(chan time.Time, 1)
	s := New(period, 4, &countTicker{}, func(time.Time) {
		handled <- time.Now()
	})
	stop := start(t, s)
	defer stop()

	waitFor(t, "running", s.Running)
	submitted := time.Now()
	s.Submit(submitted)

	select {
	case at := <-handled:
		if lag := at.Sub(submitted); lag > period {
			t.Errorf("event handled after %v, want within %v", lag, period)
		}
	case <-time.After(time.Second):
		t.Fatal("event not handled")
	}
}

func TestOverrunCounted(t *testing.T) {
	s := New(time.Millisecond, 4, &countTicker{}, func(int) {
		time.Sleep(5 * time.Millisecond)
	})
	stop := start(t, s)

	s.Submit(1)
	waitFor(t, "overrun", func() bool { return s.Stats().Overruns >= 1 })
	stop()

	if s.Stats().Coalesced == 0 {
		t.Log("no coalesced ticks observed; timer may have been idle")
	}
}

func TestPanicRecovered(t *testing.T) {
	tick := &countTicker{}
	var after atomic.Bool
	s := New(time.Millisecond, 4, tick, func(e string) {
		if e == "boom" {
			panic("handler failed")
		}
		after.Store(true)
	})
	stop := start(t, s)

	s.Submit("boom")
	s.Submit("ok")
	waitFor(t, "event after panic", after.Load)
	before := tick.n.Load()
	waitFor(t, "ticks after panic", func() bool { return tick.n.Load() > before })
	stop()

	if got := s.Stats().Panics; got != 1 {
		t.Errorf("Panics = %d, want 1", got)
	}
}
