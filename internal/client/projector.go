// Package client mirrors server playlist state and translates user intent
// into commands. It never computes state on its own: the inbound event
// stream is the only mutation path, which rules out reconciliation bugs
// between optimistic and authoritative state.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/watchparty/internal/playlist"
)

// Projector maintains a local mirror of the shared playlist by applying
// mutation events strictly in arrival order.
type Projector struct {
	mu    sync.RWMutex
	state playlist.State
	clock clockwork.Clock

	// Server timestamp of the last Progressed event, used to interpolate
	// smooth display progress between ticks.
	progressAt time.Time
}

func NewProjector(clock clockwork.Clock) *Projector {
	return &Projector{clock: clock}
}

// Apply folds one inbound event into the mirror. Events must be applied in
// the order they arrived.
func (p *Projector) Apply(event playlist.Event) error {
	payload, err := playlist.ParseEventPayload(event)
	if err != nil {
		return fmt.Errorf("parse %s event: %w", event.Type, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch payload := payload.(type) {
	case playlist.ReplacedPayload:
		p.state = payload.State
		p.progressAt = event.Timestamp

	case playlist.AddedPayload:
		p.insert(payload.Source, payload.InsertAfterID)
		// The first entry ever queued starts playing, same rule as the
		// server's.
		if len(p.state.Queue) == 1 {
			p.state.CurrentID = payload.Source.ID
			p.state.ProgressSeconds = 0
			p.progressAt = event.Timestamp
		}

	case playlist.RemovedPayload:
		idx := p.indexOf(payload.SourceID)
		if idx < 0 {
			return fmt.Errorf("removed unknown entry %s", payload.SourceID)
		}
		p.state.Queue = append(p.state.Queue[:idx], p.state.Queue[idx+1:]...)
		// When the current entry is removed the server follows up with an
		// Advanced event naming the successor.
		if p.state.CurrentID == payload.SourceID {
			p.state.CurrentID = ""
			p.state.ProgressSeconds = 0
		}

	case playlist.MovedPayload:
		idx := p.indexOf(payload.SourceID)
		if idx < 0 {
			return fmt.Errorf("moved unknown entry %s", payload.SourceID)
		}
		src := p.state.Queue[idx]
		p.state.Queue = append(p.state.Queue[:idx], p.state.Queue[idx+1:]...)
		p.insert(src, payload.InsertAfterID)

	case playlist.AdvancedPayload:
		p.state.CurrentID = payload.CurrentID
		p.state.ProgressSeconds = 0
		p.progressAt = payload.Timestamp

	case playlist.ProgressedPayload:
		p.state.ProgressSeconds = payload.Seconds
		p.progressAt = payload.Timestamp
	}

	p.state.UpdatedAt = event.Timestamp
	return nil
}

// Snapshot returns a copy of the mirrored state.
func (p *Projector) Snapshot() playlist.State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := p.state
	out.Queue = make([]playlist.MediaSource, len(p.state.Queue))
	copy(out.Queue, p.state.Queue)
	return out
}

// DisplayProgress returns smoothed progress seconds for the current entry:
// the last authoritative position plus local time elapsed since the server
// computed it, bounded so clock skew can never overshoot the entry's
// duration.
func (p *Projector) DisplayProgress() (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cur, ok := p.state.Current()
	if !ok {
		return 0, false
	}

	progress := p.state.ProgressSeconds + p.clock.Now().Sub(p.progressAt).Seconds()
	if progress < p.state.ProgressSeconds {
		progress = p.state.ProgressSeconds
	}
	if progress > cur.TotalTimeSeconds {
		progress = cur.TotalTimeSeconds
	}
	return progress, true
}

func (p *Projector) indexOf(sourceID string) int {
	for i, src := range p.state.Queue {
		if src.ID == sourceID {
			return i
		}
	}
	return -1
}

func (p *Projector) insert(src playlist.MediaSource, insertAfterID string) {
	pos := 0
	if insertAfterID != "" {
		if idx := p.indexOf(insertAfterID); idx >= 0 {
			pos = idx + 1
		}
	}
	p.state.Queue = append(p.state.Queue, playlist.MediaSource{})
	copy(p.state.Queue[pos+1:], p.state.Queue[pos:])
	p.state.Queue[pos] = src
}
