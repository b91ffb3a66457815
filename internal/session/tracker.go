// Package session tracks what each user is playing right now. Sessions
// live only in memory; a play is stored only when an explicit stop arrives
// after enough listening time.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/tidewatch/internal/config"
)

// PersistFunc stores a finished session as a play. The engine supplies one
// that resolves metadata and deduplicates before writing.
type PersistFunc func(ctx context.Context, owner, trackID string, startedAt time.Time) error

type session struct {
	trackID   string
	startedAt time.Time
	updatedAt time.Time
}

// Tracker holds the currently-playing state per user.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*session

	persist PersistFunc
	cfg     config.SessionConfig
	logger  zerolog.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewTracker creates a Tracker and starts its background sweep.
func NewTracker(persist PersistFunc, cfg config.SessionConfig, logger zerolog.Logger) *Tracker {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = time.Hour
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 30 * time.Second
	}

	t := &Tracker{
		sessions: make(map[string]*session),
		persist:  persist,
		cfg:      cfg,
		logger:   logger.With().Str("component", "session").Logger(),
		done:     make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// Start records that owner began playing trackID, replacing any session
// already tracked for them.
func (t *Tracker) Start(owner, trackID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[owner] = &session{
		trackID:   trackID,
		startedAt: at,
		updatedAt: at,
	}
}

// Touch refreshes the session's last-update time. Unknown owners are a
// no-op; the heartbeat may outlive its session.
func (t *Tracker) Touch(owner string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[owner]; ok {
		s.updatedAt = at
	}
}

// End closes the owner's session. When at least the minimum listening time
// elapsed, the session becomes a stored play timestamped at its start. The
// session is discarded either way.
func (t *Tracker) End(ctx context.Context, owner string, at time.Time) error {
	t.mu.Lock()
	s, ok := t.sessions[owner]
	if ok {
		delete(t.sessions, owner)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if at.Sub(s.startedAt) < t.cfg.MinDuration {
		return nil
	}

	if err := t.persist(ctx, owner, s.trackID, s.startedAt); err != nil {
		return err
	}

	t.logger.Debug().
		Str("user_id", owner).
		Str("track_id", s.trackID).
		Msg("Session stored as play")
	return nil
}

// Active returns the number of tracked sessions.
func (t *Tracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Stop halts the background sweep. Tracked sessions are dropped without
// synthesizing plays, matching abandoned-session semantics.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *Tracker) sweepLoop() {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case now := <-ticker.C:
			t.sweep(now)
		}
	}
}

// sweep evicts sessions idle past the cutoff. No play is stored for them:
// only an explicit End produces one.
func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for owner, s := range t.sessions {
		if now.Sub(s.updatedAt) > t.cfg.MaxIdle {
			delete(t.sessions, owner)
			t.logger.Debug().Str("user_id", owner).Msg("Evicted abandoned session")
		}
	}
}
