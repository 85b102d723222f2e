package hal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dokzlo13/bulbd/internal/light"
)

// ErrInjected is returned by a Recorder channel marked as failing.
var ErrInjected = errors.New("injected output failure")

// Recorder is an in-memory output. It records the last duty per channel and
// counts calls, and can be told to fail individual channels.
type Recorder struct {
	mu       sync.Mutex
	n        int
	top      uint16
	duties   [light.MaxChannels]uint16
	failing  [light.MaxChannels]bool
	sets     int
	flushes  int
	failNext bool
}

// NewRecorder returns a recorder with n channels.
func NewRecorder(n int, top uint16) (*Recorder, error) {
	if n <= 0 || n > light.MaxChannels {
		return nil, fmt.Errorf("recorder: %d channels, limit %d", n, light.MaxChannels)
	}
	if top == 0 {
		return nil, errors.New("recorder: top must be positive")
	}
	return &Recorder{n: n, top: top}, nil
}

func (r *Recorder) Channels() int { return r.n }
func (r *Recorder) Top() uint16   { return r.top }

func (r *Recorder) Set(ch int, duty uint16) error {
	if err := checkChannel(ch, r.n); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets++
	if r.failing[ch] {
		return fmt.Errorf("channel %d: %w", ch, ErrInjected)
	}
	r.duties[ch] = clampDuty(duty, r.top)
	return nil
}

func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	if r.failNext {
		r.failNext = false
		return ErrInjected
	}
	return nil
}

// Fail makes every Set on ch return ErrInjected until cleared.
func (r *Recorder) Fail(ch int, failing bool) {
	if ch < 0 || ch >= r.n {
		return
	}
	r.mu.Lock()
	r.failing[ch] = failing
	r.mu.Unlock()
}

// FailNextFlush makes the next Flush return ErrInjected.
func (r *Recorder) FailNextFlush() {
	r.mu.Lock()
	r.failNext = true
	r.mu.Unlock()
}

// Duty returns the last duty written to ch.
func (r *Recorder) Duty(ch int) uint16 {
	if ch < 0 || ch >= r.n {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duties[ch]
}

// Counts returns the number of Set and Flush calls so far.
func (r *Recorder) Counts() (sets, flushes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets, r.flushes
}
