package metadata

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/tidewatch/internal/store"
	"github.com/jfmyers9/tidewatch/internal/throttle"
	"github.com/jfmyers9/tidewatch/pkg/tidal"
)

// CatalogAPI is the subset of the Tidal client the resolver needs.
type CatalogAPI interface {
	GetTrack(ctx context.Context, id string) (*tidal.Track, error)
	GetAlbum(ctx context.Context, id string) (*tidal.Album, error)
	GetArtist(ctx context.Context, id string) (*tidal.Artist, error)
}

// Resolver fetches external metadata not yet present in the store. All
// network access goes through the shared request throttle.
type Resolver struct {
	store    *store.Store
	catalog  CatalogAPI
	throttle *throttle.Throttle
	logger   zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(s *store.Store, catalog CatalogAPI, th *throttle.Throttle, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:    s,
		catalog:  catalog,
		throttle: th,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolution holds the records a batch resolution produced but did not yet
// persist, plus the track ids that failed to resolve.
type Resolution struct {
	Tracks  []store.TrackRecord
	Albums  []store.AlbumRecord
	Artists []store.ArtistRecord
	Skipped []string
}

// Resolve cross-references a batch of candidate track ids against the store
// and the external API:
//
//  1. ids already stored are returned without any external call,
//  2. missing tracks are fetched one by one (the API has no batch endpoint),
//  3. album and artist ids referenced by the new tracks are resolved the
//     same way, only for the ones still absent from the store.
//
// An individual fetch that fails past its retry bound is skipped and logged;
// the batch carries on. When cache is non-nil (an active import run), skipped
// and missing ids are recorded as negative entries so the run does not retry
// them every pass.
func (r *Resolver) Resolve(ctx context.Context, trackIDs []string, cache *Cache) (*Resolution, error) {
	res := &Resolution{}

	missing, err := r.store.MissingTrackIDs(ctx, trackIDs)
	if err != nil {
		return nil, err
	}

	// During an import run the cache must answer every id in the batch, the
	// already-stored ones included.
	if cache != nil {
		missingSet := make(map[string]bool, len(missing))
		for _, id := range missing {
			missingSet[id] = true
		}
		for _, id := range trackIDs {
			if id == "" || missingSet[id] {
				continue
			}
			if _, ok := cache.Get(KeyForID(id)); ok {
				continue
			}
			rec, err := r.store.GetTrack(ctx, id)
			if err != nil {
				return nil, err
			}
			cache.PutTrack(KeyForID(id), rec)
		}
	}

	albumIDs := make([]string, 0, len(missing))
	artistIDs := make([]string, 0, len(missing))

	for _, id := range missing {
		track, err := r.fetchTrack(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn().Err(err).Str("track_id", id).Msg("Skipping unresolvable track")
			res.Skipped = append(res.Skipped, id)
			if cache != nil {
				cache.PutMissing(KeyForID(id))
			}
			continue
		}

		rec := trackToRecord(track)
		res.Tracks = append(res.Tracks, rec)
		if cache != nil {
			cache.PutTrack(KeyForID(id), &rec)
		}

		if track.AlbumID != "" {
			albumIDs = append(albumIDs, track.AlbumID)
		}
		if track.ArtistID != "" {
			artistIDs = append(artistIDs, track.ArtistID)
		}
		artistIDs = append(artistIDs, track.ArtistIDs...)
	}

	if err := r.resolveAlbums(ctx, albumIDs, res); err != nil {
		return nil, err
	}
	if err := r.resolveArtists(ctx, artistIDs, res); err != nil {
		return nil, err
	}

	return res, nil
}

// ResolveAndUpsert resolves a batch and persists the new records in one
// grouped upsert. Safe to race with other resolvers: upserts are idempotent
// on external id.
func (r *Resolver) ResolveAndUpsert(ctx context.Context, trackIDs []string, cache *Cache) (*Resolution, error) {
	res, err := r.Resolve(ctx, trackIDs, cache)
	if err != nil {
		return nil, err
	}
	if err := r.store.UpsertMetadata(ctx, res.Tracks, res.Albums, res.Artists); err != nil {
		return nil, err
	}
	return res, nil
}

// ResolveForTracks persists track records already fetched elsewhere (for
// example search results) and resolves the album and artist ids they
// reference that are still missing from the store.
func (r *Resolver) ResolveForTracks(ctx context.Context, tracks []store.TrackRecord) error {
	if len(tracks) == 0 {
		return nil
	}

	res := &Resolution{Tracks: tracks}
	var albumIDs, artistIDs []string
	for _, t := range tracks {
		if t.AlbumID != "" {
			albumIDs = append(albumIDs, t.AlbumID)
		}
		if t.ArtistID != "" {
			artistIDs = append(artistIDs, t.ArtistID)
		}
		artistIDs = append(artistIDs, t.ArtistIDs...)
	}

	if err := r.resolveAlbums(ctx, albumIDs, res); err != nil {
		return err
	}
	if err := r.resolveArtists(ctx, artistIDs, res); err != nil {
		return err
	}
	return r.store.UpsertMetadata(ctx, res.Tracks, res.Albums, res.Artists)
}

func (r *Resolver) resolveAlbums(ctx context.Context, ids []string, res *Resolution) error {
	missing, err := r.store.MissingAlbumIDs(ctx, ids)
	if err != nil {
		return err
	}

	for _, id := range missing {
		var album *tidal.Album
		err := r.throttle.DoWithRetry(ctx, func(ctx context.Context) error {
			a, err := r.catalog.GetAlbum(ctx, id)
			if tidal.IsNotFound(err) {
				return nil
			}
			album = a
			return err
		})
		if err != nil || album == nil {
			r.logger.Warn().Err(err).Str("album_id", id).Msg("Skipping unresolvable album")
			continue
		}
		res.Albums = append(res.Albums, store.AlbumRecord{
			ID:       album.ID,
			Name:     album.Title,
			ArtistID: album.ArtistID,
		})
	}
	return nil
}

func (r *Resolver) resolveArtists(ctx context.Context, ids []string, res *Resolution) error {
	missing, err := r.store.MissingArtistIDs(ctx, ids)
	if err != nil {
		return err
	}

	for _, id := range missing {
		var artist *tidal.Artist
		err := r.throttle.DoWithRetry(ctx, func(ctx context.Context) error {
			a, err := r.catalog.GetArtist(ctx, id)
			if tidal.IsNotFound(err) {
				return nil
			}
			artist = a
			return err
		})
		if err != nil || artist == nil {
			r.logger.Warn().Err(err).Str("artist_id", id).Msg("Skipping unresolvable artist")
			continue
		}
		res.Artists = append(res.Artists, store.ArtistRecord{
			ID:   artist.ID,
			Name: artist.Name,
		})
	}
	return nil
}

// fetchTrack retrieves one track through the throttle. A definitive
// not-found answer is not retried; it surfaces as tidal.ErrNotFound.
func (r *Resolver) fetchTrack(ctx context.Context, id string) (*tidal.Track, error) {
	var track *tidal.Track
	var notFound bool

	err := r.throttle.DoWithRetry(ctx, func(ctx context.Context) error {
		t, err := r.catalog.GetTrack(ctx, id)
		if tidal.IsNotFound(err) {
			notFound = true
			return nil
		}
		track = t
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, tidal.ErrNotFound
	}
	return track, nil
}

func trackToRecord(t *tidal.Track) store.TrackRecord {
	return store.TrackRecord{
		ID:         t.ID,
		Name:       t.Title,
		DurationMS: t.DurationMS,
		AlbumID:    t.AlbumID,
		ArtistID:   t.ArtistID,
		ArtistIDs:  t.ArtistIDs,
	}
}
