package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/jfmyers9/tidewatch/internal/metadata"
	"github.com/jfmyers9/tidewatch/internal/store"
	"github.com/jfmyers9/tidewatch/internal/throttle"
	"github.com/jfmyers9/tidewatch/pkg/tidal"
)

// spotifyTimeLayout is the timestamp format of Spotify history exports.
const spotifyTimeLayout = "2006-01-02 15:04"

// SearchAPI is the catalogue search surface the fuzzy strategy needs.
type SearchAPI interface {
	BestTrackMatch(ctx context.Context, query string) (*tidal.Track, error)
}

// spotifyExportEntry is one element of a Spotify listening-history export.
type spotifyExportEntry struct {
	TrackName  string `json:"trackName"`
	ArtistName string `json:"artistName"`
	MSPlayed   int64  `json:"msPlayed"`
	EndTime    string `json:"endTime"`
}

// namePair is one distinct queued fuzzy lookup.
type namePair struct {
	key        string
	trackName  string
	artistName string
}

// spotifyStrategy resolves entries by free-text search. Exports from other
// platforms have no native ids, only names, so each distinct name pair walks
// a search ladder: the literal names first, then diacritics stripped, then
// trailing parenthetical qualifiers removed as well.
type spotifyStrategy struct {
	resolver *metadata.Resolver
	search   SearchAPI
	throttle *throttle.Throttle
	pending  []namePair
	queued   map[string]bool
}

func newSpotifyStrategy(resolver *metadata.Resolver, search SearchAPI, th *throttle.Throttle) *spotifyStrategy {
	return &spotifyStrategy{
		resolver: resolver,
		search:   search,
		throttle: th,
		queued:   make(map[string]bool),
	}
}

func (s *spotifyStrategy) kind() string { return store.ImportKindSpotify }

func (s *spotifyStrategy) parse(filePaths []string) ([]entry, error) {
	var entries []entry
	for _, path := range filePaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read export file: %w", err)
		}

		var elems []spotifyExportEntry
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, fmt.Errorf("invalid export file %s: %w", path, err)
		}

		for i, el := range elems {
			if el.TrackName == "" || el.ArtistName == "" {
				return nil, fmt.Errorf("invalid export file %s: element %d missing track or artist name", path, i)
			}
			playedAt, err := time.Parse(spotifyTimeLayout, el.EndTime)
			if err != nil {
				return nil, fmt.Errorf("invalid export file %s: element %d: bad endTime: %w", path, i, err)
			}
			entries = append(entries, entry{
				trackName:  el.TrackName,
				artistName: el.ArtistName,
				durationMS: el.MSPlayed,
				playedAt:   playedAt,
			})
		}
	}
	return entries, nil
}

func (s *spotifyStrategy) queueLookup(e entry, cache *metadata.Cache) bool {
	key := metadata.KeyForNames(e.trackName, e.artistName)
	if _, ok := cache.Get(key); ok {
		return false
	}
	if s.queued[key] {
		return false
	}
	s.queued[key] = true
	s.pending = append(s.pending, namePair{key: key, trackName: e.trackName, artistName: e.artistName})
	return true
}

func (s *spotifyStrategy) pendingLookups() int { return len(s.pending) }

func (s *spotifyStrategy) flushLookups(ctx context.Context, cache *metadata.Cache) error {
	for _, pair := range s.pending {
		track, err := s.lookup(ctx, pair)
		if errors.Is(err, tidal.ErrNotFound) {
			cache.PutMissing(pair.key)
			continue
		}
		if err != nil {
			return err
		}
		rec := searchRecord(track)
		cache.PutTrack(pair.key, &rec)
	}
	s.pending = s.pending[:0]
	s.queued = make(map[string]bool)
	return nil
}

// lookup walks the search ladder for one name pair. A query that returns no
// match falls through to the next rung; the last rung's miss surfaces as
// ErrNotFound.
func (s *spotifyStrategy) lookup(ctx context.Context, pair namePair) (*tidal.Track, error) {
	queries := searchQueries(pair.trackName, pair.artistName)
	for _, q := range queries {
		track, err := s.searchOne(ctx, q)
		if errors.Is(err, tidal.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return track, nil
	}
	return nil, tidal.ErrNotFound
}

// searchOne runs a single search through the throttle, retrying transient
// failures. A definitive no-match is not retried.
func (s *spotifyStrategy) searchOne(ctx context.Context, query string) (*tidal.Track, error) {
	var track *tidal.Track
	var notFound bool
	err := s.throttle.DoWithRetry(ctx, func(ctx context.Context) error {
		t, err := s.search.BestTrackMatch(ctx, query)
		if tidal.IsNotFound(err) {
			notFound = true
			return nil
		}
		if err != nil {
			return err
		}
		track = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, tidal.ErrNotFound
	}
	return track, nil
}

// searchQueries builds the ladder of queries for a name pair, deduplicating
// rungs that normalization leaves unchanged.
func searchQueries(trackName, artistName string) []string {
	build := func(track, artist string) string {
		return strings.TrimSpace(track + " " + artist)
	}

	queries := []string{build(trackName, artistName)}

	plain := build(stripDiacritics(trackName), stripDiacritics(artistName))
	if plain != queries[len(queries)-1] {
		queries = append(queries, plain)
	}

	bare := build(
		stripParenthetical(stripDiacritics(trackName)),
		stripParenthetical(stripDiacritics(artistName)),
	)
	if bare != queries[len(queries)-1] {
		queries = append(queries, bare)
	}

	return queries
}

func searchRecord(t *tidal.Track) store.TrackRecord {
	return store.TrackRecord{
		ID:         t.ID,
		Name:       t.Title,
		DurationMS: t.DurationMS,
		AlbumID:    t.AlbumID,
		ArtistID:   t.ArtistID,
		ArtistIDs:  t.ArtistIDs,
	}
}

// resolved answers from the run cache. When the bounded cache evicted the
// name pair's entry, the ladder is walked again on the spot; the entry,
// and not the play, is what eviction may cost.
func (s *spotifyStrategy) resolved(ctx context.Context, e entry, cache *metadata.Cache) (*store.TrackRecord, bool, error) {
	key := metadata.KeyForNames(e.trackName, e.artistName)
	if ent, ok := cache.Get(key); ok {
		if ent.Missing {
			return nil, false, nil
		}
		return ent.Track, true, nil
	}

	track, err := s.lookup(ctx, namePair{key: key, trackName: e.trackName, artistName: e.artistName})
	if errors.Is(err, tidal.ErrNotFound) {
		cache.PutMissing(key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rec := searchRecord(track)
	cache.PutTrack(key, &rec)
	return &rec, true, nil
}

// ensureMetadata persists the batch's search-resolved tracks and the album
// and artist records they reference.
func (s *spotifyStrategy) ensureMetadata(ctx context.Context, tracks []store.TrackRecord, cache *metadata.Cache) error {
	return s.resolver.ResolveForTracks(ctx, tracks)
}
