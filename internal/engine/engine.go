// Package engine wires the sync, import and session components together
// behind the handful of operations the surrounding system calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/tidewatch/internal/config"
	"github.com/jfmyers9/tidewatch/internal/dedup"
	"github.com/jfmyers9/tidewatch/internal/importer"
	"github.com/jfmyers9/tidewatch/internal/metadata"
	"github.com/jfmyers9/tidewatch/internal/session"
	"github.com/jfmyers9/tidewatch/internal/store"
	"github.com/jfmyers9/tidewatch/internal/syncer"
	"github.com/jfmyers9/tidewatch/internal/throttle"
	"github.com/jfmyers9/tidewatch/pkg/tidal"
)

func throttleFromConfig(cfg config.ThrottleConfig) *throttle.Throttle {
	return throttle.New(throttle.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxInFlight:       cfg.MaxInFlight,
		RetryAttempts:     cfg.RetryAttempts,
		RetryDelay:        cfg.RetryDelay,
	})
}

// APIClient is the slice of the Tidal client the engine consumes, split
// per concern so tests can substitute any part.
type APIClient struct {
	Catalog metadata.CatalogAPI
	Search  importer.SearchAPI
	History syncer.HistoryAPI
	Auth    syncer.AuthAPI
}

// NewAPIClient adapts a tidal.Client.
func NewAPIClient(c *tidal.Client) APIClient {
	return APIClient{
		Catalog: c.Catalog(),
		Search:  c.Search(),
		History: c.Users(),
		Auth:    c.Auth(),
	}
}

// Engine exposes listening-history synchronization to the rest of the
// process.
type Engine struct {
	store    *store.Store
	resolver *metadata.Resolver
	guard    *dedup.Guard
	syncer   *syncer.Syncer
	importer *importer.Pipeline
	sessions *session.Tracker
	cfg      config.Config
	logger   zerolog.Logger

	syncOnce sync.Once
	syncErr  chan error
}

// New assembles an Engine from its store, API client and configuration.
func New(s *store.Store, api APIClient, cfg config.Config, logger zerolog.Logger) *Engine {
	th := throttleFromConfig(cfg.Throttle)
	resolver := metadata.NewResolver(s, api.Catalog, th, logger)
	guard := dedup.NewGuard(s)

	e := &Engine{
		store:    s,
		resolver: resolver,
		guard:    guard,
		syncer:   syncer.New(s, api.History, api.Auth, resolver, guard, th, cfg.Sync, logger),
		importer: importer.NewPipeline(s, resolver, guard, api.Search, th, cfg.Import, logger),
		cfg:      cfg,
		logger:   logger.With().Str("component", "engine").Logger(),
		syncErr:  make(chan error, 1),
	}
	e.sessions = session.NewTracker(e.persistSession, cfg.Session, logger)
	return e
}

// StartSync launches the perpetual sync loop. Repeated calls are no-ops;
// only the first one starts anything.
func (e *Engine) StartSync(ctx context.Context) {
	e.syncOnce.Do(func() {
		go func() {
			e.syncErr <- e.syncer.Run(ctx)
		}()
		go e.retentionLoop(ctx)
	})
}

// SyncDone reports the sync loop's exit. A non-nil error means the loop
// died on a storage failure and the process should terminate.
func (e *Engine) SyncDone() <-chan error {
	return e.syncErr
}

// retentionLoop prunes finished import runs past their retention period.
func (e *Engine) retentionLoop(ctx context.Context) {
	if e.cfg.Import.Retention <= 0 {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.store.CleanupImports(ctx, e.cfg.Import.Retention)
			if err != nil {
				e.logger.Error().Err(err).Msg("Failed to clean up old imports")
				continue
			}
			if n > 0 {
				e.logger.Info().Int64("removed", n).Msg("Cleaned up old import runs")
			}
		}
	}
}

// CreateImport validates the export files and registers a new import run.
// The run is not started; pass the handle's id to ResumeImport.
func (e *Engine) CreateImport(ctx context.Context, kind, owner string, filePaths []string) (*store.ImporterState, error) {
	if _, err := e.store.GetUser(ctx, owner); err != nil {
		return nil, fmt.Errorf("unknown import owner: %w", err)
	}
	return e.importer.Init(ctx, kind, owner, filePaths)
}

// ResumeImport runs an import from its last checkpoint, whether it has
// never started or was interrupted.
func (e *Engine) ResumeImport(ctx context.Context, importID string) error {
	return e.importer.Run(ctx, importID)
}

// ImportProgress returns the current state of an import run.
func (e *Engine) ImportProgress(ctx context.Context, importID string) (*store.ImporterState, error) {
	return e.store.GetImporterState(ctx, importID)
}

// RecordSessionStart notes that owner began playing trackID now.
func (e *Engine) RecordSessionStart(owner, trackID string) {
	e.sessions.Start(owner, trackID, time.Now())
}

// RecordSessionTouch refreshes the owner's playing heartbeat.
func (e *Engine) RecordSessionTouch(owner string) {
	e.sessions.Touch(owner, time.Now())
}

// RecordSessionEnd closes the owner's session, storing a play when it
// lasted long enough.
func (e *Engine) RecordSessionEnd(ctx context.Context, owner string) error {
	return e.sessions.End(ctx, owner, time.Now())
}

// RecentlyPlayed lists the owner's stored plays, newest first.
func (e *Engine) RecentlyPlayed(ctx context.Context, owner string, limit, offset int) ([]store.PlaybackEvent, error) {
	return e.store.RecentlyPlayed(ctx, owner, limit, offset)
}

// Close stops the session sweep. The sync loop stops with its context.
func (e *Engine) Close() {
	e.sessions.Stop()
}

// persistSession turns a finished session into a stored play: metadata is
// resolved first, then the live dedup window decides whether an equivalent
// play already exists.
func (e *Engine) persistSession(ctx context.Context, owner, trackID string, startedAt time.Time) error {
	if _, err := e.resolver.ResolveAndUpsert(ctx, []string{trackID}, nil); err != nil {
		return err
	}

	rec, err := e.store.GetTrack(ctx, trackID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn().Str("track_id", trackID).Msg("Dropping session play for unresolvable track")
		return nil
	}
	if err != nil {
		return err
	}

	window := e.cfg.Sync.DedupWindow
	if window <= 0 {
		window = dedup.DefaultLiveWindow
	}
	dup, err := e.guard.IsDuplicate(ctx, owner, trackID, startedAt, window)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}

	lock := e.store.UserLock(owner)
	lock.Lock()
	defer lock.Unlock()

	return e.store.InsertPlays(ctx, []store.PlaybackEvent{{
		UserID:     owner,
		TrackID:    rec.ID,
		PlayedAt:   startedAt,
		DurationMS: rec.DurationMS,
		AlbumID:    rec.AlbumID,
		ArtistID:   rec.ArtistID,
		ArtistIDs:  rec.ArtistIDs,
	}})
}
