package persist

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/bulbd/internal/store"
)

// Snapshotter yields the at-rest light states; *store.Store implements it.
type Snapshotter interface {
	Snapshot() ([]store.Entry, error)
}

// SaverStats counts save outcomes.
type SaverStats struct {
	Saves    uint64 `json:"saves"`
	Skipped  uint64 `json:"skipped"`
	Failures uint64 `json:"failures"`
}

// Saver writes the state blob after accepted changes, no more often than the
// configured interval. Notifications arriving while a save is pending
// coalesce into it.
type Saver struct {
	src     Snapshotter
	backend Backend
	limiter *rate.Limiter
	trigger chan struct{}

	last []byte

	saves, skipped, failures atomic.Uint64
}

// NewSaver creates a saver. minInterval of zero saves on every notification.
func NewSaver(src Snapshotter, backend Backend, minInterval time.Duration) *Saver {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Saver{
		src:     src,
		backend: backend,
		limiter: rate.NewLimiter(limit, 1),
		trigger: make(chan struct{}, 1),
	}
}

// Prime records blob as already saved so an unchanged state is not
// rewritten after boot.
func (s *Saver) Prime(blob []byte) {
	s.last = bytes.Clone(blob)
}

// Notify requests a save. It never blocks.
func (s *Saver) Notify() {
	select {
	case s.trigger <- struct{}{}:
	default:
		// Already pending
	}
}

// Run saves on notification until ctx is cancelled, then flushes once more.
func (s *Saver) Run(ctx context.Context) error {
	log.Info().Float64("limit_per_sec", float64(s.limiter.Limit())).Msg("State saver started")

	for {
		select {
		case <-ctx.Done():
			s.flush()
			log.Info().Msg("State saver stopped")
			return nil

		case <-s.trigger:
			if err := s.limiter.Wait(ctx); err != nil {
				// Cancelled while throttled; the final flush covers it.
				continue
			}
			s.flush()
		}
	}
}

// Flush saves the current state if it differs from the last saved blob. It
// must not be called while Run is active.
func (s *Saver) Flush() error {
	entries, err := s.src.Snapshot()
	if errors.Is(err, store.ErrLockContention) {
		entries, err = s.src.Snapshot()
	}
	if err != nil {
		return err
	}
	blob, err := Encode(entries)
	if err != nil {
		return err
	}
	if s.last != nil && bytes.Equal(blob, s.last) {
		s.skipped.Add(1)
		return nil
	}
	if err := s.backend.Save(blob); err != nil {
		return err
	}
	s.last = blob
	s.saves.Add(1)
	return nil
}

func (s *Saver) flush() {
	if err := s.Flush(); err != nil {
		s.failures.Add(1)
		log.Error().Err(err).Msg("Failed to save device state")
	}
}

// Stats returns a copy of the counters.
func (s *Saver) Stats() SaverStats {
	return SaverStats{
		Saves:    s.saves.Load(),
		Skipped:  s.skipped.Load(),
		Failures: s.failures.Load(),
	}
}
