package playlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// MetadataResolver resolves a raw reference (URL or search term) into an
// immutable MediaSource. Resolution may be slow; it is the only call the
// store awaits on.
type MetadataResolver interface {
	Resolve(ctx context.Context, ref string) (MediaSource, error)
}

// Repository persists read-only snapshots of the playlist. Saves are
// best-effort; failures never roll back in-memory state.
type Repository interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, snapshot State) error
}

// EventSink receives mutation events. Deliver is invoked under the store's
// mutation lock, so calls are serialized and arrive in emission order;
// implementations must not block.
type EventSink interface {
	Deliver(event Event)
}

const saveTimeout = 5 * time.Second

// Store owns the authoritative playlist state. Every mutation runs to
// completion under a single lock, which gives all subscribers an identical
// view of the event order without any per-sink buffering or reordering.
type Store struct {
	mu    sync.Mutex
	state State
	sinks []EventSink

	resolver MetadataResolver
	repo     Repository
	clock    clockwork.Clock

	// Signals the scheduler when an entry starts playing after the store
	// was idle.
	wakeCh chan struct{}
}

// NewStore creates a store with an empty queue. Call Seed to restore
// persisted state before serving connections.
func NewStore(resolver MetadataResolver, repo Repository, clock clockwork.Clock) *Store {
	return &Store{
		resolver: resolver,
		repo:     repo,
		clock:    clock,
		wakeCh:   make(chan struct{}, 1),
	}
}

// Seed restores the playlist from the repository, repairing any invariant the
// persisted document violates: duplicate source IDs are dropped, a dangling
// current pointer falls back to the head of the queue, and progress is
// clamped into the current entry's duration.
func (s *Store) Seed(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	loaded, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load playlist snapshot: %w", err)
	}

	seen := make(map[string]bool, len(loaded.Queue))
	queue := make([]MediaSource, 0, len(loaded.Queue))
	for _, src := range loaded.Queue {
		if seen[src.ID] {
			log.Warn().Str("source_id", src.ID).Msg("dropping duplicate entry from persisted playlist")
			continue
		}
		seen[src.ID] = true
		queue = append(queue, src)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{
		Queue:           queue,
		CurrentID:       loaded.CurrentID,
		ProgressSeconds: loaded.ProgressSeconds,
		UpdatedAt:       s.clock.Now(),
	}
	cur, ok := s.state.Current()
	if !ok {
		s.state.CurrentID = ""
		s.state.ProgressSeconds = 0
		if len(queue) > 0 && loaded.CurrentID != "" {
			s.state.CurrentID = queue[0].ID
		}
	} else if s.state.ProgressSeconds < 0 || s.state.ProgressSeconds > cur.TotalTimeSeconds {
		s.state.ProgressSeconds = 0
	}
	if s.state.CurrentID != "" {
		s.signalWake()
	}
	log.Info().
		Int("entries", len(queue)).
		Str("current_id", s.state.CurrentID).
		Msg("playlist seeded from repository")
	return nil
}

// Subscribe registers a sink for all subsequent events. Sinks are notified in
// registration order on every emission.
func (s *Store) Subscribe(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Sync invokes fn with a Replaced event carrying the current snapshot while
// the mutation lock is held. Anything fn wires up (such as adding a
// connection to the broadcast set) observes exactly the events emitted after
// the snapshot, with no gap and no duplicates.
func (s *Store) Sync(fn func(replaced Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, err := newEvent(EventTypeReplaced, s.clock.Now(), ReplacedPayload{State: s.state.clone()})
	if err != nil {
		log.Error().Err(err).Msg("failed to build snapshot event")
		return
	}
	fn(event)
}

// Snapshot returns a copy of the current playlist state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Idle reports whether nothing is playing. The scheduler suspends ticking
// while the store is idle.
func (s *Store) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentID == ""
}

// Wake signals whenever an entry starts playing from an idle state.
func (s *Store) Wake() <-chan struct{} {
	return s.wakeCh
}

// Enqueue resolves ref into a media source and inserts it after the entry
// insertAfterID names, or at the head of the queue when insertAfterID is
// empty. The first entry ever queued becomes the current entry with progress
// zero. Resolution happens outside the mutation lock, so a slow provider
// never stalls other commands; concurrent enqueues commit in completion
// order.
func (s *Store) Enqueue(ctx context.Context, ref string, insertAfterID string) (MediaSource, error) {
	src, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return MediaSource{}, fmt.Errorf("%w: %s", ErrProvider, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.indexOf(src.ID) >= 0 {
		return MediaSource{}, fmt.Errorf("%w: %s", ErrDuplicateSource, src.ID)
	}

	// A stale insert-after reference degrades to a head insert rather than
	// failing: the entry it named may have been removed by another client
	// while resolution was in flight.
	after := insertAfterID
	if after != "" && s.state.indexOf(after) < 0 {
		after = ""
	}
	s.insertLocked(src, after)

	now := s.clock.Now()
	wasIdle := s.state.CurrentID == ""
	if len(s.state.Queue) == 1 {
		s.state.CurrentID = src.ID
		s.state.ProgressSeconds = 0
	}
	s.state.UpdatedAt = now

	s.emit(EventTypeAdded, now, AddedPayload{Source: src, InsertAfterID: after})
	if wasIdle && s.state.CurrentID != "" {
		s.signalWake()
	}
	s.persistLocked()
	return src, nil
}

// Remove deletes the entry sourceID names. Removing the current entry
// advances playback to the entry that followed it, or ends playback when it
// was the last one, emitting Removed then Advanced.
func (s *Store) Remove(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.state.indexOf(sourceID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sourceID)
	}

	wasCurrent := s.state.CurrentID == sourceID
	s.state.Queue = append(s.state.Queue[:idx], s.state.Queue[idx+1:]...)

	now := s.clock.Now()
	s.state.UpdatedAt = now
	s.emit(EventTypeRemoved, now, RemovedPayload{SourceID: sourceID})

	if wasCurrent {
		s.state.CurrentID = ""
		if idx < len(s.state.Queue) {
			s.state.CurrentID = s.state.Queue[idx].ID
		}
		s.state.ProgressSeconds = 0
		s.emit(EventTypeAdvanced, now, AdvancedPayload{CurrentID: s.state.CurrentID, Timestamp: now})
	}
	s.persistLocked()
	return nil
}

// Move repositions the entry sourceID names after insertAfterID, or to the
// head of the queue when insertAfterID is empty. A move to the current
// position still emits Moved, so client animation logic stays idempotent.
// The current entry and progress are never altered.
func (s *Store) Move(sourceID string, insertAfterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.state.indexOf(sourceID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sourceID)
	}
	if insertAfterID != "" && s.state.indexOf(insertAfterID) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, insertAfterID)
	}
	if insertAfterID == sourceID {
		return fmt.Errorf("%w: cannot move %s after itself", ErrNotFound, sourceID)
	}

	src := s.state.Queue[idx]
	s.state.Queue = append(s.state.Queue[:idx], s.state.Queue[idx+1:]...)
	s.insertLocked(src, insertAfterID)

	now := s.clock.Now()
	s.state.UpdatedAt = now
	s.emit(EventTypeMoved, now, MovedPayload{SourceID: sourceID, InsertAfterID: insertAfterID})
	s.persistLocked()
	return nil
}

// Tick is the scheduler's entry point. It accrues elapsed server time into
// the current entry's progress, advancing through as many entries as the
// elapsed time covers, then emits a Progressed event carrying the
// authoritative position.
func (s *Store) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CurrentID == "" {
		return
	}
	s.advanceIfElapsedLocked(now)
	if s.state.CurrentID != "" {
		s.emit(EventTypeProgressed, now, ProgressedPayload{Seconds: s.state.ProgressSeconds, Timestamp: now})
	}
	s.persistLocked()
}

// advanceIfElapsedLocked adds elapsed wall time to progress and advances the
// current pointer while progress covers the whole entry, carrying the
// remainder into the next entry. Walks past the last entry to none; never
// loops back to the start. The loop handles very short entries and long
// scheduler gaps in one call.
func (s *Store) advanceIfElapsedLocked(now time.Time) {
	elapsed := now.Sub(s.state.UpdatedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	s.state.ProgressSeconds += elapsed
	s.state.UpdatedAt = now

	for {
		cur, ok := s.state.Current()
		if !ok || s.state.ProgressSeconds < cur.TotalTimeSeconds {
			return
		}

		remainder := s.state.ProgressSeconds - cur.TotalTimeSeconds
		if remainder < 0 {
			remainder = 0
		}

		next := ""
		if idx := s.state.indexOf(cur.ID); idx >= 0 && idx+1 < len(s.state.Queue) {
			next = s.state.Queue[idx+1].ID
		}
		s.state.CurrentID = next
		if next == "" {
			remainder = 0
		}
		s.state.ProgressSeconds = remainder
		s.emit(EventTypeAdvanced, now, AdvancedPayload{CurrentID: next, Timestamp: now})
	}
}

// insertLocked places src after insertAfterID, or at the head when empty.
func (s *Store) insertLocked(src MediaSource, insertAfterID string) {
	pos := 0
	if insertAfterID != "" {
		pos = s.state.indexOf(insertAfterID) + 1
	}
	s.state.Queue = append(s.state.Queue, MediaSource{})
	copy(s.state.Queue[pos+1:], s.state.Queue[pos:])
	s.state.Queue[pos] = src
}

func (s *Store) emit(eventType EventType, at time.Time, payload any) {
	event, err := newEvent(eventType, at, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	for _, sink := range s.sinks {
		sink.Deliver(event)
	}
}

func (s *Store) signalWake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// persistLocked snapshots the state under the lock and saves it in the
// background. Persistence is best-effort: failures are logged and never roll
// back in-memory state.
func (s *Store) persistLocked() {
	if s.repo == nil {
		return
	}
	snapshot := s.state.clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := s.repo.Save(ctx, snapshot); err != nil {
			log.Warn().Err(err).Msg("failed to persist playlist snapshot")
		}
	}()
}
