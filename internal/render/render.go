// Package render is the fixed-rate loop that advances transitions and drives
// the output channels.
package render

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/bulbd/internal/color"
	"github.com/dokzlo13/bulbd/internal/hal"
	"github.com/dokzlo13/bulbd/internal/light"
	"github.com/dokzlo13/bulbd/internal/store"
)

// Stats are cumulative render counters.
type Stats struct {
	Ticks          uint64 `json:"ticks"`
	SkippedTicks   uint64 `json:"skipped_ticks"`
	SkippedLights  uint64 `json:"skipped_lights"`
	StaleAdvances  uint64 `json:"stale_advances"`
	HardwareErrors uint64 `json:"hardware_errors"`
	Flushes        uint64 `json:"flushes"`
}

type binding struct {
	id     int
	layout light.Layout
	first  int
}

// Loop renders every light once per Tick. It is not safe for concurrent
// Tick calls; the scheduler owns it.
type Loop struct {
	store *store.Store
	out   hal.Output
	top   uint16
	log   zerolog.Logger

	n      int
	lights [light.MaxLights]binding
	frames [light.MaxLights]store.Frame

	duty  [light.MaxChannels]uint16
	known [light.MaxChannels]bool

	ticks, skippedTicks, skippedLights, stale, hwErrors, flushes atomic.Uint64
}

// New binds the store's lights to the output. Channel ranges must fit the
// output and must not overlap.
func New(st *store.Store, out hal.Output) (*Loop, error) {
	if out.Top() == 0 {
		return nil, errors.New("render: output top is zero")
	}
	if out.Channels() > light.MaxChannels {
		return nil, fmt.Errorf("render: output has %d channels, limit %d", out.Channels(), light.MaxChannels)
	}
	l := &Loop{
		store: st,
		out:   out,
		top:   out.Top(),
		log: log.Logger.With().Str("component", "render").Logger().
			Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute}),
	}

	var used [light.MaxChannels]int
	for _, info := range st.Infos() {
		end := info.FirstChannel + info.Layout.Channels()
		if info.FirstChannel < 0 || end > out.Channels() {
			return nil, fmt.Errorf("light %d: channels %d..%d outside output (%d channels)",
				info.ID, info.FirstChannel, end-1, out.Channels())
		}
		for ch := info.FirstChannel; ch < end; ch++ {
			if used[ch] != 0 {
				return nil, fmt.Errorf("light %d: channel %d already used by light %d", info.ID, ch, used[ch])
			}
			used[ch] = info.ID
		}
		l.lights[l.n] = binding{id: info.ID, layout: info.Layout, first: info.FirstChannel}
		l.n++
	}
	return l, nil
}

// Tick advances all lights by one tick from a single observation of the
// store, then writes changed duties and flushes once.
func (l *Loop) Tick() {
	l.ticks.Add(1)

	n, err := l.store.Frames(&l.frames)
	if err != nil {
		l.skippedTicks.Add(1)
		l.log.Debug().Err(err).Msg("Render tick skipped")
		return
	}

	wrote := false
	for i := 0; i < n && i < l.n; i++ {
		f := &l.frames[i]
		st, ok := l.advance(f)
		if !ok {
			continue
		}
		if l.write(l.lights[i], st) {
			wrote = true
		}
	}

	if !wrote {
		return
	}
	l.flushes.Add(1)
	if err := l.out.Flush(); err != nil {
		l.hwErrors.Add(1)
		l.log.Warn().Err(err).Msg("Output flush failed")
		// The hardware may not hold what we think; resend everything next tick.
		l.known = [light.MaxChannels]bool{}
	}
}

// advance computes the state to render for one frame and stores the
// transition's progress. It reports false when the light must sit this tick
// out.
func (l *Loop) advance(f *store.Frame) (light.State, bool) {
	if !f.Pending {
		return f.State, true
	}

	tr := f.Transition
	elapsed := tr.Elapsed + 1
	done := elapsed >= tr.Total

	var st light.State
	if done {
		st = tr.Target
	} else {
		st = color.Interpolate(tr.Start, tr.Target, color.Fraction(elapsed, tr.Total))
	}

	switch err := l.store.Advance(f.ID, f.Version, st, elapsed, done); {
	case err == nil:
	case errors.Is(err, store.ErrStale):
		// A newer write landed after the frame was read; it shows next tick.
		l.stale.Add(1)
	default:
		l.skippedLights.Add(1)
		l.log.Debug().Err(err).Int("light", f.ID).Msg("Render update skipped")
		return light.State{}, false
	}
	return st, true
}

// write sends the light's changed channel duties to the output.
func (l *Loop) write(b binding, st light.State) bool {
	d := color.Intensities(st, b.layout, l.top)
	wrote := false
	for c := 0; c < d.N; c++ {
		ch := b.first + c
		if l.known[ch] && l.duty[ch] == d.V[c] {
			continue
		}
		wrote = true
		if err := l.out.Set(ch, d.V[c]); err != nil {
			l.hwErrors.Add(1)
			l.known[ch] = false
			l.log.Warn().Err(err).Int("light", b.id).Int("channel", ch).Msg("Output write failed")
			continue
		}
		l.duty[ch] = d.V[c]
		l.known[ch] = true
	}
	return wrote
}

// Stats returns a copy of the counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:          l.ticks.Load(),
		SkippedTicks:   l.skippedTicks.Load(),
		SkippedLights:  l.skippedLights.Load(),
		StaleAdvances:  l.stale.Load(),
		HardwareErrors: l.hwErrors.Load(),
		Flushes:        l.flushes.Load(),
	}
}
