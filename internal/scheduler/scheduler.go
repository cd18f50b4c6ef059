// Package scheduler drives playback time forward independent of client
// presence. It holds no playlist data itself; it is a periodic driver over
// the store's mutation surface.
package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Store is what the scheduler needs from the playlist store.
type Store interface {
	// Tick accrues elapsed time, advances past finished entries, and emits
	// a Progressed event.
	Tick(now time.Time)
	// Idle reports whether nothing is playing.
	Idle() bool
	// Wake signals when an entry starts playing from an idle state.
	Wake() <-chan struct{}
}

const DefaultInterval = time.Second

// Scheduler ticks the store at a fixed interval while something is playing
// and suspends entirely while the store is idle, waking on the store's
// signal.
type Scheduler struct {
	store    Store
	clock    clockwork.Clock
	interval time.Duration
}

func New(store Store, clock clockwork.Clock, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		store:    store,
		clock:    clock,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled. A tick never returns an error to the
// loop; store-internal failures (persistence, marshaling) are logged there
// and must not stop time.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Msg("playback scheduler started")

	for {
		if s.store.Idle() {
			select {
			case <-ctx.Done():
				log.Info().Msg("playback scheduler shutting down")
				return nil
			case <-s.store.Wake():
			}
			continue
		}

		ticker := s.clock.NewTicker(s.interval)
		for !s.store.Idle() {
			select {
			case <-ctx.Done():
				ticker.Stop()
				log.Info().Msg("playback scheduler shutting down")
				return nil
			case <-ticker.Chan():
				s.store.Tick(s.clock.Now())
			}
		}
		ticker.Stop()
		log.Debug().Msg("queue exhausted, scheduler suspended")
	}
}
