// Package dedup decides whether a candidate play duplicates one the system
// has already seen.
package dedup

import (
	"context"
	"time"

	"github.com/jfmyers9/tidewatch/internal/store"
)

// Default dedup windows. Live polling re-observes plays often but with clean
// timestamps; bulk export timestamps are noisier, so imports use the wider
// window. Both are overridable from configuration.
const (
	DefaultLiveWindow   = 30 * time.Second
	DefaultImportWindow = 60 * time.Second
)

// Guard answers duplicate checks against the store.
type Guard struct {
	store *store.Store
}

// NewGuard creates a Guard backed by s.
func NewGuard(s *store.Store) *Guard {
	return &Guard{store: s}
}

// IsDuplicate reports whether the owner already has a stored play of trackID
// within window of ts.
func (g *Guard) IsDuplicate(ctx context.Context, owner, trackID string, ts time.Time, window time.Duration) (bool, error) {
	return g.store.HasPlayWithin(ctx, owner, trackID, ts, window)
}

// BatchWindow tracks candidates accepted into an in-flight batch, so two
// entries of the same track within the window collapse to one before the
// store ever observes the first.
type BatchWindow struct {
	window time.Duration
	seen   map[string][]time.Time
}

// NewBatchWindow creates a BatchWindow with the given dedup window.
func NewBatchWindow(window time.Duration) *BatchWindow {
	return &BatchWindow{
		window: window,
		seen:   make(map[string][]time.Time),
	}
}

// Observe records an accepted candidate and reports whether it duplicated
// one already in the batch. A duplicate is not recorded again.
func (b *BatchWindow) Observe(trackID string, ts time.Time) bool {
	for _, prev := range b.seen[trackID] {
		delta := ts.Sub(prev)
		if delta < 0 {
			delta = -delta
		}
		if delta <= b.window {
			return true
		}
	}
	b.seen[trackID] = append(b.seen[trackID], ts)
	return false
}

// Reset clears the batch state after a flush.
func (b *BatchWindow) Reset() {
	b.seen = make(map[string][]time.Time)
}
