// Package scheduler is the cooperative executor for the daemon's two tasks:
// the render task, woken by a fixed-period timer, and the network task, woken
// whenever a transport delivers an event. Both run on one goroutine, to
// completion, never concurrently with each other.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Default configuration
const (
	DefaultTick      = 20 * time.Millisecond
	DefaultQueueSize = 64
)

// Ticker is the timer-driven task.
type Ticker interface {
	Tick()
}

// TickerFunc adapts a function to Ticker.
type TickerFunc func()

func (f TickerFunc) Tick() { f() }

// Stats are cumulative executor counters.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Coalesced uint64 `json:"coalesced_ticks"`
	Events    uint64 `json:"events"`
	Dropped   uint64 `json:"dropped_events"`
	Overruns  uint64 `json:"overruns"`
	Panics    uint64 `json:"panics"`
}

// Scheduler runs a Ticker every period and a handler for each submitted event
// of type E. Between events it polls the timer so a burst of events cannot
// starve the ticker. Ticks that could not run on time coalesce into one.
type Scheduler[E any] struct {
	period time.Duration
	render Ticker
	handle func(E)
	inbox  chan E
	log    zerolog.Logger

	running atomic.Bool

	ticks, coalesced, events, dropped, overruns, panics atomic.Uint64
}

// New creates a scheduler. period and queueSize fall back to the defaults
// when not positive.
func New[E any](period time.Duration, queueSize int, render Ticker, handle func(E)) *Scheduler[E] {
	if period <= 0 {
		period = DefaultTick
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Scheduler[E]{
		period: period,
		render: render,
		handle: handle,
		inbox:  make(chan E, queueSize),
		log: log.Logger.With().Str("component", "scheduler").Logger().
			Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute}),
	}
}

// Period returns the tick period.
func (s *Scheduler[E]) Period() time.Duration { return s.period }

// Submit queues an event for the network task. It never blocks: a full
// inbox drops the event and reports false.
func (s *Scheduler[E]) Submit(e E) bool {
	select {
	case s.inbox <- e:
		return true
	default:
		s.dropped.Add(1)
		s.log.Warn().Int("queue_size", cap(s.inbox)).Msg("Scheduler inbox full, dropping event")
		return false
	}
}

// Running reports whether Run is active.
func (s *Scheduler[E]) Running() bool { return s.running.Load() }

// Run executes tasks until ctx is cancelled.
func (s *Scheduler[E]) Run(ctx context.Context) error {
	log.Info().Dur("tick", s.period).Int("queue_size", cap(s.inbox)).Msg("Scheduler started")
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopping")
			return nil

		case now := <-ticker.C:
			last = s.tick(now, last)

		case e := <-s.inbox:
			s.event(e)

			// Timer first: a pending tick runs before the next event.
			select {
			case now := <-ticker.C:
				last = s.tick(now, last)
			default:
			}
		}
	}
}

func (s *Scheduler[E]) tick(now, last time.Time) time.Time {
	if gap := now.Sub(last); gap > s.period+s.period/2 {
		s.coalesced.Add(uint64(gap/s.period) - 1)
	}
	s.ticks.Add(1)
	s.run("tick", s.render.Tick)
	return now
}

func (s *Scheduler[E]) event(e E) {
	s.events.Add(1)
	s.run("event", func() { s.handle(e) })
}

// run executes one handler to completion, recording overruns and containing
// panics so no handler can stop the executor.
func (s *Scheduler[E]) run(kind string, fn func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			log.Error().Interface("panic", r).Str("task", kind).Msg("Scheduler task panicked")
		}
		if d := time.Since(start); d > s.period {
			s.overruns.Add(1)
			s.log.Warn().Str("task", kind).Dur("took", d).Dur("period", s.period).Msg("Scheduler task overran its tick")
		}
	}()
	fn()
}

// Stats returns a copy of the counters.
func (s *Scheduler[E]) Stats() Stats {
	return Stats{
		Ticks:     s.ticks.Load(),
		Coalesced: s.coalesced.Load(),
		Events:    s.events.Load(),
		Dropped:   s.dropped.Load(),
		Overruns:  s.overruns.Load(),
		Panics:    s.panics.Load(),
	}
}
