// Package store owns every light's current state and in-flight transition.
//
// All access goes through a bounded spin reader/writer lock: callers either
// get in within a fixed number of attempts or receive ErrLockContention.
// Nothing here allocates or blocks while the lock is held.
package store

import (
	"errors"
	"fmt"

	"github.com/dokzlo13/bulbd/internal/light"
)

var (
	ErrUnknownLight   = errors.New("unknown light")
	ErrLockContention = errors.New("state store busy")
	ErrCapacity       = errors.New("light capacity exceeded")
	ErrStale          = errors.New("light changed since frame was read")
	errDuplicateLight = errors.New("duplicate light id")
	errInvalidLightID = errors.New("light id must be positive")
)

// DefaultSpins bounds lock acquisition when the caller does not choose.
const DefaultSpins = 64

// Mutation derives a new target from base, which is the light's pending
// target if a transition is running and its current state otherwise. The
// result is clamped before it is stored.
type Mutation func(base light.State) light.State

// Frame is what the render loop needs to advance one light for one tick.
type Frame struct {
	ID         int
	State      light.State
	Transition light.Transition
	Pending    bool
	Version    uint64
}

// Entry pairs a light id with its at-rest state.
type Entry struct {
	ID    int         `json:"id"`
	State light.State `json:"state"`
}

type slot struct {
	info    light.Info
	state   light.State
	trans   light.Transition
	pending bool
	version uint64
}

// Store is the device state store. The light table is a fixed array sized by
// light.MaxLights; Info values are immutable after New and readable without
// the lock.
type Store struct {
	lock  spinRW
	spins int
	n     int
	slots [light.MaxLights]slot
}

// New builds a store for the given lights. Every light starts from
// light.Default in its layout's native colour mode.
func New(infos []light.Info, spins int) (*Store, error) {
	if len(infos) > light.MaxLights {
		return nil, fmt.Errorf("%w: %d lights, limit %d", ErrCapacity, len(infos), light.MaxLights)
	}
	if spins <= 0 {
		spins = DefaultSpins
	}

	s := &Store{spins: spins, n: len(infos)}
	for i, info := range infos {
		if info.ID <= 0 {
			return nil, fmt.Errorf("%w: %d", errInvalidLightID, info.ID)
		}
		for j := 0; j < i; j++ {
			if infos[j].ID == info.ID {
				return nil, fmt.Errorf("%w: %d", errDuplicateLight, info.ID)
			}
		}
		st := light.Default()
		st.ColorMode = info.Layout.NativeMode()
		s.slots[i] = slot{info: info, state: st}
	}
	return s, nil
}

func (s *Store) index(id int) int {
	for i := 0; i < s.n; i++ {
		if s.slots[i].info.ID == id {
			return i
		}
	}
	return -1
}

// Len returns the number of configured lights.
func (s *Store) Len() int { return s.n }

// IDs returns the light ids in configuration order.
func (s *Store) IDs() []int {
	ids := make([]int, s.n)
	for i := 0; i < s.n; i++ {
		ids[i] = s.slots[i].info.ID
	}
	return ids
}

// Info returns the immutable identity of a light.
func (s *Store) Info(id int) (light.Info, bool) {
	i := s.index(id)
	if i < 0 {
		return light.Info{}, false
	}
	return s.slots[i].info, true
}

// Infos returns every light's identity in configuration order.
func (s *Store) Infos() []light.Info {
	out := make([]light.Info, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.slots[i].info
	}
	return out
}

// view is the externally visible state: the target when a transition is
// running, carrying the ticks that remain.
func (sl *slot) view() light.State {
	if !sl.pending {
		return sl.state
	}
	v := sl.trans.Target
	v.TransitionTicks = sl.trans.Total - sl.trans.Elapsed
	return v
}

// Read returns the state of light id as clients see it.
func (s *Store) Read(id int) (light.State, error) {
	i := s.index(id)
	if i < 0 {
		return light.State{}, ErrUnknownLight
	}
	if !s.lock.tryRLock(s.spins) {
		return light.State{}, ErrLockContention
	}
	v := s.slots[i].view()
	s.lock.rUnlock()
	return v, nil
}

// Write applies m to light id. With ticks == 0 the result takes effect
// immediately; otherwise it replaces any running transition with a new one
// starting from the light's current rendered state. A mutation that leaves
// the target unchanged is a no-op and reports changed == false.
func (s *Store) Write(id int, ticks uint16, m Mutation) (st light.State, changed bool, err error) {
	i := s.index(id)
	if i < 0 {
		return light.State{}, false, ErrUnknownLight
	}
	if !s.lock.tryLock(s.spins) {
		return light.State{}, false, ErrLockContention
	}
	defer s.lock.unlock()

	sl := &s.slots[i]
	base := sl.state
	if sl.pending {
		base = sl.trans.Target
	}
	base.TransitionTicks = 0

	next := m(base).Clamp()
	next.TransitionTicks = 0
	if next == base {
		return sl.view(), false, nil
	}

	if ticks == 0 {
		sl.state = next
		sl.pending = false
		sl.trans = light.Transition{}
	} else {
		start := sl.state
		start.TransitionTicks = 0
		sl.trans = light.Transition{Start: start, Target: next, Total: ticks}
		sl.pending = true
		sl.state.TransitionTicks = ticks
	}
	sl.version++
	return sl.view(), true, nil
}

// Frames copies the frame of every light into dst under a single read lock,
// so all lights advance from the same observation. It returns the number of
// frames written.
func (s *Store) Frames(dst *[light.MaxLights]Frame) (int, error) {
	if !s.lock.tryRLock(s.spins) {
		return 0, ErrLockContention
	}
	for i := 0; i < s.n; i++ {
		sl := &s.slots[i]
		dst[i] = Frame{
			ID:         sl.info.ID,
			State:      sl.state,
			Transition: sl.trans,
			Pending:    sl.pending,
			Version:    sl.version,
		}
	}
	s.lock.rUnlock()
	return s.n, nil
}

// Advance stores one tick of progress for a light read at version. When done
// is set the transition ends and the light lands exactly on its target;
// next is ignored. A write that happened since the frame was read wins and
// Advance returns ErrStale.
func (s *Store) Advance(id int, version uint64, next light.State, elapsed uint16, done bool) error {
	i := s.index(id)
	if i < 0 {
		return ErrUnknownLight
	}
	if !s.lock.tryLock(s.spins) {
		return ErrLockContention
	}
	defer s.lock.unlock()

	sl := &s.slots[i]
	if sl.version != version || !sl.pending {
		return ErrStale
	}
	if done {
		sl.state = sl.trans.Target
		sl.state.TransitionTicks = 0
		sl.trans = light.Transition{}
		sl.pending = false
	} else {
		next.TransitionTicks = sl.trans.Total - elapsed
		sl.state = next
		sl.trans.Elapsed = elapsed
	}
	sl.version++
	return nil
}

// Snapshot returns every light's at-rest target state.
func (s *Store) Snapshot() ([]Entry, error) {
	if !s.lock.tryRLock(s.spins) {
		return nil, ErrLockContention
	}
	var buf [light.MaxLights]Entry
	for i := 0; i < s.n; i++ {
		v := s.slots[i].view()
		v.TransitionTicks = 0
		buf[i] = Entry{ID: s.slots[i].info.ID, State: v}
	}
	n := s.n
	s.lock.rUnlock()

	out := make([]Entry, n)
	copy(out, buf[:n])
	return out, nil
}

// Restore replaces the state of every listed light immediately, cancelling
// any transition. Unknown ids are skipped and values are clamped. It returns
// the number of lights restored.
func (s *Store) Restore(entries []Entry) (int, error) {
	if !s.lock.tryLock(s.spins) {
		return 0, ErrLockContention
	}
	defer s.lock.unlock()

	if len(entries) > light.MaxLights {
		entries = entries[:light.MaxLights]
	}
	restored := 0
	for _, e := range entries {
		i := s.index(e.ID)
		if i < 0 {
			continue
		}
		st := e.State.Clamp()
		st.TransitionTicks = 0
		sl := &s.slots[i]
		sl.state = st
		sl.trans = light.Transition{}
		sl.pending = false
		sl.version++
		restored++
	}
	return restored, nil
}
