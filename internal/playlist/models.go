package playlist

import (
	"errors"
	"time"
)

// MediaSource is an immutable description of a queueable video, produced by
// the metadata provider when a raw reference is resolved.
type MediaSource struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	ThumbnailURL     string  `json:"thumbnail_url"`
	TotalTimeSeconds float64 `json:"total_time_seconds"`
	ProviderRef      string  `json:"provider_ref"`
}

// State is a point-in-time copy of the shared playlist. Queue position is
// implicit in slice order; entries are referenced by source ID, never by
// index, so references stay stable under concurrent moves.
type State struct {
	Queue           []MediaSource `json:"queue"`
	CurrentID       string        `json:"current_id,omitempty"`
	ProgressSeconds float64       `json:"progress_seconds"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Current returns the entry CurrentID points at, if any.
func (s *State) Current() (MediaSource, bool) {
	if s.CurrentID == "" {
		return MediaSource{}, false
	}
	for _, src := range s.Queue {
		if src.ID == s.CurrentID {
			return src, true
		}
	}
	return MediaSource{}, false
}

func (s *State) indexOf(sourceID string) int {
	for i, src := range s.Queue {
		if src.ID == sourceID {
			return i
		}
	}
	return -1
}

func (s *State) clone() State {
	out := *s
	out.Queue = make([]MediaSource, len(s.Queue))
	copy(out.Queue, s.Queue)
	return out
}

var (
	// ErrDuplicateSource rejects an enqueue whose resolved source is already
	// queued.
	ErrDuplicateSource = errors.New("source already in queue")

	// ErrNotFound means a command referenced an entry that is no longer in
	// the queue. Benign under concurrent removal by another client.
	ErrNotFound = errors.New("entry not found")

	// ErrProvider wraps a failed or timed-out metadata resolution.
	ErrProvider = errors.New("metadata resolution failed")
)
