// Package importer bulk-imports historical listening exports. Two
// strategies share one pipeline: Tidal exports carry native track URIs,
// Spotify exports carry free-text names that need fuzzy search.
//
// Progress is checkpointed per batch: the event insert and the cursor
// advance commit together, so a killed run resumes from the last checkpoint
// and at worst replays the batch that was in flight, which deduplication
// then suppresses.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jfmyers9/tidewatch/internal/config"
	"github.com/jfmyers9/tidewatch/internal/dedup"
	"github.com/jfmyers9/tidewatch/internal/metadata"
	"github.com/jfmyers9/tidewatch/internal/store"
	"github.com/jfmyers9/tidewatch/internal/throttle"
)

// ErrImportFinished is returned when running an import already in a
// terminal status.
var ErrImportFinished = errors.New("importer: import already finished")

// entry is one source element after schema validation, in source order.
type entry struct {
	trackID    string // exact strategy, parsed from the export's track URI
	trackName  string // fuzzy strategy
	artistName string // fuzzy strategy
	durationMS int64
	playedAt   time.Time
}

// strategy resolves source entries to tracks. Implementations differ only
// here; batching, dedup and checkpointing are shared pipeline concerns.
type strategy interface {
	kind() string

	// parse validates and loads every entry from the export files.
	// Validation is all-or-nothing: any malformed element rejects the
	// whole import before a single write happens.
	parse(filePaths []string) ([]entry, error)

	// queueLookup notes that e needs a remote lookup, unless the run cache
	// already answers it. Reports whether something was queued.
	queueLookup(e entry, cache *metadata.Cache) bool

	// pendingLookups returns the number of distinct queued lookups.
	pendingLookups() int

	// flushLookups performs every queued lookup, recording results and
	// definitive misses in the run cache.
	flushLookups(ctx context.Context, cache *metadata.Cache) error

	// resolved returns the track for e once lookups have flushed. The run
	// cache is bounded and may have evicted the answer; an eviction costs a
	// repeat lookup, never the entry. Only a cached definitive miss reports
	// ok=false.
	resolved(ctx context.Context, e entry, cache *metadata.Cache) (*store.TrackRecord, bool, error)

	// ensureMetadata persists metadata for a batch's resolved tracks before
	// their events commit.
	ensureMetadata(ctx context.Context, tracks []store.TrackRecord, cache *metadata.Cache) error
}

// Pipeline runs import strategies against the store.
type Pipeline struct {
	store    *store.Store
	resolver *metadata.Resolver
	guard    *dedup.Guard
	search   SearchAPI
	throttle *throttle.Throttle
	cfg      config.ImportConfig
	logger   zerolog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(s *store.Store, resolver *metadata.Resolver, guard *dedup.Guard, search SearchAPI, th *throttle.Throttle, cfg config.ImportConfig, logger zerolog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.LookupBatchSize <= 0 {
		cfg.LookupBatchSize = 45
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = dedup.DefaultImportWindow
	}
	if cfg.MinPlayMS <= 0 {
		cfg.MinPlayMS = 30000
	}

	return &Pipeline{
		store:    s,
		resolver: resolver,
		guard:    guard,
		search:   search,
		throttle: th,
		cfg:      cfg,
		logger:   logger.With().Str("component", "importer").Logger(),
	}
}

func (p *Pipeline) strategyFor(kind string) (strategy, error) {
	switch kind {
	case store.ImportKindTidal:
		return newTidalStrategy(p.store, p.resolver), nil
	case store.ImportKindSpotify:
		return newSpotifyStrategy(p.resolver, p.search, p.throttle), nil
	default:
		return nil, fmt.Errorf("importer: unknown kind %q", kind)
	}
}

// Init validates the export files and persists a new pending import run.
// The returned state carries the total element count and the run id used
// with Run.
func (p *Pipeline) Init(ctx context.Context, kind, userID string, filePaths []string) (*store.ImporterState, error) {
	s, err := p.strategyFor(kind)
	if err != nil {
		return nil, err
	}

	entries, err := s.parse(filePaths)
	if err != nil {
		return nil, fmt.Errorf("import rejected: %w", err)
	}

	state := store.ImporterState{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Status:    store.ImportStatusPending,
		Total:     len(entries),
		FilePaths: filePaths,
	}
	if err := p.store.CreateImporterState(ctx, state); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("import_id", state.ID).
		Str("kind", kind).
		Str("user_id", userID).
		Int("total", state.Total).
		Msg("Import created")

	return &state, nil
}

// Run processes an import from its last checkpoint to the end of input.
// It is equally the entry point for fresh runs and for resuming after a
// crash or restart.
func (p *Pipeline) Run(ctx context.Context, importID string) error {
	state, err := p.store.GetImporterState(ctx, importID)
	if err != nil {
		return err
	}
	if state.Status == store.ImportStatusDone || state.Status == store.ImportStatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrImportFinished, importID, state.Status)
	}

	s, err := p.strategyFor(state.Kind)
	if err != nil {
		return err
	}

	entries, err := s.parse(state.FilePaths)
	if err != nil {
		// Input no longer parses; nothing can be salvaged.
		if statusErr := p.store.SetImportStatus(ctx, importID, store.ImportStatusFailed); statusErr != nil {
			return statusErr
		}
		return fmt.Errorf("import rejected: %w", err)
	}

	if err := p.store.SetImportStatus(ctx, importID, store.ImportStatusRunning); err != nil {
		return err
	}

	p.logger.Info().
		Str("import_id", importID).
		Str("kind", state.Kind).
		Int("cursor", state.Cursor).
		Int("total", len(entries)).
		Msg("Import running")

	if err := p.process(ctx, state, s, entries); err != nil {
		return err
	}

	if err := p.store.SetImportStatus(ctx, importID, store.ImportStatusDone); err != nil {
		return err
	}

	final, err := p.store.GetImporterState(ctx, importID)
	if err != nil {
		return err
	}
	p.logger.Info().
		Str("import_id", importID).
		Int("imported", final.Imported).
		Int("skipped", final.Skipped).
		Int("errors", final.Errors).
		Msg("Import completed")

	return p.Cleanup(state.FilePaths)
}

// accepted is a qualifying entry waiting in the in-flight batch.
type accepted struct {
	e     entry
	track *store.TrackRecord
}

func (p *Pipeline) process(ctx context.Context, state *store.ImporterState, s strategy, entries []entry) error {
	cache := metadata.NewCache(p.cfg.CacheSize)
	window := dedup.NewBatchWindow(p.cfg.DedupWindow)

	var batch []accepted
	var counts store.BatchCounts
	var earliest time.Time

	committed := state.Cursor
	cursor := state.Cursor
	for cursor < len(entries) {
		// Collect one segment: stop once enough distinct lookups queue up.
		segEnd := cursor
		for segEnd < len(entries) {
			e := entries[segEnd]
			segEnd++
			if e.durationMS < p.cfg.MinPlayMS {
				continue
			}
			if s.queueLookup(e, cache) && s.pendingLookups() >= p.cfg.LookupBatchSize {
				break
			}
		}

		if err := s.flushLookups(ctx, cache); err != nil {
			return err
		}

		// Dispose the segment in order. Every element before the current
		// one is settled, so a batch flush here may checkpoint the cursor
		// just past it.
		for idx := cursor; idx < segEnd; idx++ {
			e := entries[idx]

			if e.durationMS < p.cfg.MinPlayMS {
				counts.Skipped++
				continue
			}

			track, ok, err := s.resolved(ctx, e, cache)
			if err != nil {
				return err
			}
			if !ok {
				counts.Skipped++
				continue
			}

			dup, err := p.guard.IsDuplicate(ctx, state.UserID, track.ID, e.playedAt, p.cfg.DedupWindow)
			if err != nil {
				return err
			}
			if dup || window.Observe(track.ID, e.playedAt) {
				counts.Skipped++
				continue
			}

			batch = append(batch, accepted{e: e, track: track})
			if len(batch) >= p.cfg.BatchSize {
				if err := p.flushBatch(ctx, state, s, cache, batch, &counts, idx+1, &earliest); err != nil {
					return err
				}
				committed = idx + 1
				batch = batch[:0]
				window.Reset()
			}
		}

		cursor = segEnd
	}

	// Forced final flush, also commits trailing skip counts.
	if len(batch) > 0 || counts != (store.BatchCounts{}) || committed < len(entries) {
		if err := p.flushBatch(ctx, state, s, cache, batch, &counts, len(entries), &earliest); err != nil {
			return err
		}
	}

	if !earliest.IsZero() {
		if err := p.store.LowerFirstListenedAt(ctx, state.UserID, earliest); err != nil {
			return err
		}
	}
	return nil
}

// flushBatch persists one batch: metadata resolve, event insert and cursor
// advance commit together under the user's write lock.
func (p *Pipeline) flushBatch(ctx context.Context, state *store.ImporterState, s strategy, cache *metadata.Cache, batch []accepted, counts *store.BatchCounts, cursorTo int, earliest *time.Time) error {
	tracks := make([]store.TrackRecord, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	for _, a := range batch {
		if !seen[a.track.ID] {
			seen[a.track.ID] = true
			tracks = append(tracks, *a.track)
		}
	}

	if err := s.ensureMetadata(ctx, tracks, cache); err != nil {
		return err
	}

	var events []store.PlaybackEvent
	for _, a := range batch {
		rec, err := p.store.GetTrack(ctx, a.track.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Metadata confirmation failed past its retry bound; the id is
			// negative-cached so later passes skip it outright.
			counts.Errors++
			continue
		}
		if err != nil {
			return err
		}

		events = append(events, store.PlaybackEvent{
			UserID:     state.UserID,
			TrackID:    rec.ID,
			PlayedAt:   a.e.playedAt,
			DurationMS: a.e.durationMS,
			AlbumID:    rec.AlbumID,
			ArtistID:   rec.ArtistID,
			ArtistIDs:  rec.ArtistIDs,
		})
		counts.Imported++

		if earliest.IsZero() || a.e.playedAt.Before(*earliest) {
			*earliest = a.e.playedAt
		}
	}

	lock := p.store.UserLock(state.UserID)
	lock.Lock()
	defer lock.Unlock()

	if err := p.store.CommitImportBatch(ctx, state.ID, events, cursorTo, *counts); err != nil {
		return err
	}

	p.logger.Debug().
		Str("import_id", state.ID).
		Int("cursor", cursorTo).
		Int("events", len(events)).
		Msg("Import batch committed")

	*counts = store.BatchCounts{}
	return nil
}

// Cleanup removes the temporary export files of a finished run.
func (p *Pipeline) Cleanup(filePaths []string) error {
	for _, path := range filePaths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove import file: %w", err)
		}
	}
	return nil
}
