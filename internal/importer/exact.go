package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/jfmyers9/tidewatch/internal/metadata"
	"github.com/jfmyers9/tidewatch/internal/store"
	"github.com/jfmyers9/tidewatch/pkg/tidal"
)

// tidalExportEntry is one element of a Tidal listening-history export.
type tidalExportEntry struct {
	TrackURI   string `json:"tidal_track_uri"`
	TrackName  string `json:"master_metadata_track_name"`
	ArtistName string `json:"master_metadata_album_artist_name"`
	MSPlayed   int64  `json:"ms_played"`
	Timestamp  string `json:"ts"`
}

// tidalStrategy resolves entries by their native track id, so a single
// catalogue fetch per unknown id settles them exactly.
type tidalStrategy struct {
	store    *store.Store
	resolver *metadata.Resolver
	pending  []string
	queued   map[string]bool
}

func newTidalStrategy(s *store.Store, resolver *metadata.Resolver) *tidalStrategy {
	return &tidalStrategy{
		store:    s,
		resolver: resolver,
		queued:   make(map[string]bool),
	}
}

func (t *tidalStrategy) kind() string { return store.ImportKindTidal }

func (t *tidalStrategy) parse(filePaths []string) ([]entry, error) {
	var entries []entry
	for _, path := range filePaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read export file: %w", err)
		}

		var elems []tidalExportEntry
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, fmt.Errorf("invalid export file %s: %w", path, err)
		}

		for i, el := range elems {
			if el.TrackURI == "" {
				return nil, fmt.Errorf("invalid export file %s: element %d missing tidal_track_uri", path, i)
			}
			id, err := tidal.ParseTrackURI(el.TrackURI)
			if err != nil {
				return nil, fmt.Errorf("invalid export file %s: element %d: %w", path, i, err)
			}
			playedAt, err := time.Parse(time.RFC3339, el.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("invalid export file %s: element %d: bad ts: %w", path, i, err)
			}
			entries = append(entries, entry{
				trackID:    id,
				trackName:  el.TrackName,
				artistName: el.ArtistName,
				durationMS: el.MSPlayed,
				playedAt:   playedAt,
			})
		}
	}
	return entries, nil
}

func (t *tidalStrategy) queueLookup(e entry, cache *metadata.Cache) bool {
	if _, ok := cache.Get(metadata.KeyForID(e.trackID)); ok {
		return false
	}
	if t.queued[e.trackID] {
		return false
	}
	t.queued[e.trackID] = true
	t.pending = append(t.pending, e.trackID)
	return true
}

func (t *tidalStrategy) pendingLookups() int { return len(t.pending) }

// flushLookups resolves every queued id. The resolver answers stored ids
// from the database, fetches the rest, and records unresolvable ids as
// negative cache entries, so afterwards the cache settles every entry.
func (t *tidalStrategy) flushLookups(ctx context.Context, cache *metadata.Cache) error {
	if len(t.pending) == 0 {
		return nil
	}
	if _, err := t.resolver.ResolveAndUpsert(ctx, t.pending, cache); err != nil {
		return err
	}
	t.pending = t.pending[:0]
	t.queued = make(map[string]bool)
	return nil
}

// resolved answers from the run cache. Every id that flushed successfully
// is already persisted, so when the bounded cache evicted the entry the
// store settles it without another catalogue fetch.
func (t *tidalStrategy) resolved(ctx context.Context, e entry, cache *metadata.Cache) (*store.TrackRecord, bool, error) {
	key := metadata.KeyForID(e.trackID)
	if ent, ok := cache.Get(key); ok {
		if ent.Missing {
			return nil, false, nil
		}
		return ent.Track, true, nil
	}

	rec, err := t.store.GetTrack(ctx, e.trackID)
	if errors.Is(err, store.ErrNotFound) {
		// The id resolved to nothing earlier in the run and its negative
		// entry was evicted. The miss is still definitive.
		cache.PutMissing(key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	cache.PutTrack(key, rec)
	return rec, true, nil
}

// ensureMetadata is a no-op: flushLookups already upserted everything the
// batch can reference.
func (t *tidalStrategy) ensureMetadata(ctx context.Context, tracks []store.TrackRecord, cache *metadata.Cache) error {
	return nil
}
