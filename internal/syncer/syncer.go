// Package syncer polls each registered user's recent plays from the
// upstream service and persists the ones not seen yet.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/tidewatch/internal/config"
	"github.com/jfmyers9/tidewatch/internal/dedup"
	"github.com/jfmyers9/tidewatch/internal/metadata"
	"github.com/jfmyers9/tidewatch/internal/store"
	"github.com/jfmyers9/tidewatch/internal/throttle"
	"github.com/jfmyers9/tidewatch/pkg/tidal"
)

// HistoryAPI lists a user's recent plays upstream.
type HistoryAPI interface {
	RecentlyPlayed(ctx context.Context, userID, accessToken string, limit int, cursor string) (*tidal.HistoryPage, error)
}

// AuthAPI refreshes expired access tokens.
type AuthAPI interface {
	Refresh(ctx context.Context, refreshToken string) (*tidal.Tokens, error)
}

// Syncer runs the perpetual sync loop.
type Syncer struct {
	store    *store.Store
	history  HistoryAPI
	auth     AuthAPI
	resolver *metadata.Resolver
	guard    *dedup.Guard
	throttle *throttle.Throttle
	cfg      config.SyncConfig
	logger   zerolog.Logger
}

// New creates a Syncer.
func New(s *store.Store, history HistoryAPI, auth AuthAPI, resolver *metadata.Resolver, guard *dedup.Guard, th *throttle.Throttle, cfg config.SyncConfig, logger zerolog.Logger) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = 120 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = dedup.DefaultLiveWindow
	}

	return &Syncer{
		store:    s,
		history:  history,
		auth:     auth,
		resolver: resolver,
		guard:    guard,
		throttle: th,
		cfg:      cfg,
		logger:   logger.With().Str("component", "syncer").Logger(),
	}
}

// Run cycles until ctx is cancelled. Upstream trouble for one user never
// stops the loop; a storage error does, since continuing against a broken
// store risks inconsistent progress markers.
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Sync loop started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.Cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sync loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle syncs every registered user once.
func (s *Syncer) Cycle(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	for i := range users {
		u := &users[i]
		if !u.HasCredentials() {
			s.logger.Warn().Str("user_id", u.ID).Msg("Skipping user without valid credentials")
			continue
		}

		if err := s.syncUser(ctx, u); err != nil {
			if ctx.Err() != nil || isStorageError(err) {
				return err
			}
			// Resolver errors can hide a dying store; ping it before
			// writing the failure off as upstream trouble.
			if pingErr := s.store.Ping(ctx); pingErr != nil {
				return fmt.Errorf("storage unavailable: %w", pingErr)
			}
			s.logger.Error().Err(err).Str("user_id", u.ID).Msg("Sync cycle abandoned for user")
		}
	}
	return nil
}

// storageError marks errors from the local store, which are fatal to the
// loop while upstream errors are not.
type storageError struct{ err error }

func (e *storageError) Error() string { return e.err.Error() }
func (e *storageError) Unwrap() error { return e.err }

func isStorageError(err error) bool {
	var se *storageError
	return errors.As(err, &se)
}

func (s *Syncer) syncUser(ctx context.Context, u *store.User) error {
	if err := s.refreshTokens(ctx, u); err != nil {
		return err
	}

	page, err := s.fetchRecent(ctx, u)
	if err != nil {
		return err
	}
	if len(page.Entries) == 0 {
		return nil
	}

	blacklist, err := s.store.Blacklist(ctx, u.ID)
	if err != nil {
		return &storageError{err}
	}

	trackIDs := make([]string, 0, len(page.Entries))
	for _, e := range page.Entries {
		trackIDs = append(trackIDs, e.Track.ID)
	}
	if _, err := s.resolver.ResolveAndUpsert(ctx, trackIDs, nil); err != nil {
		return err
	}

	window := dedup.NewBatchWindow(s.cfg.DedupWindow)
	var events []store.PlaybackEvent
	for _, e := range page.Entries {
		dup, err := s.guard.IsDuplicate(ctx, u.ID, e.Track.ID, e.PlayedAt, s.cfg.DedupWindow)
		if err != nil {
			return &storageError{err}
		}
		if dup || window.Observe(e.Track.ID, e.PlayedAt) {
			continue
		}

		rec, err := s.store.GetTrack(ctx, e.Track.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Metadata resolution skipped this track; catch it next cycle.
			continue
		}
		if err != nil {
			return &storageError{err}
		}

		events = append(events, store.PlaybackEvent{
			UserID:      u.ID,
			TrackID:     rec.ID,
			PlayedAt:    e.PlayedAt,
			DurationMS:  rec.DurationMS,
			AlbumID:     rec.AlbumID,
			ArtistID:    rec.ArtistID,
			ArtistIDs:   rec.ArtistIDs,
			Blacklisted: blacklist[rec.ArtistID],
		})
	}

	lock := s.store.UserLock(u.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.CommitSyncBatch(ctx, u.ID, events, time.Now()); err != nil {
		return &storageError{err}
	}

	if len(events) > 0 {
		s.logger.Info().Str("user_id", u.ID).Int("events", len(events)).Msg("Synced new plays")
	}
	return nil
}

// refreshTokens renews the user's access token when it is expired or about
// to expire. The refresh goes through the shared throttle like every other
// outbound call, retrying transient failures; a definitive rejection is not
// retried and instead flags the user for re-login.
func (s *Syncer) refreshTokens(ctx context.Context, u *store.User) error {
	if time.Until(u.TokenExpiry) > time.Minute {
		return nil
	}

	var tokens *tidal.Tokens
	var rejected error
	err := s.throttle.DoWithRetry(ctx, func(ctx context.Context) error {
		tk, err := s.auth.Refresh(ctx, u.RefreshToken)
		if err != nil {
			var apiErr *tidal.Error
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				rejected = err
				return nil
			}
			return err
		}
		tokens = tk
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh tokens: %w", err)
	}
	if rejected != nil {
		s.logger.Warn().Err(rejected).Str("user_id", u.ID).Msg("Refresh token rejected, user needs to log in again")
		if err := s.store.SetNeedsRelogin(ctx, u.ID); err != nil {
			return &storageError{err}
		}
		return fmt.Errorf("failed to refresh tokens: %w", rejected)
	}

	if err := s.store.UpdateTokens(ctx, u.ID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); err != nil {
		return &storageError{err}
	}
	u.AccessToken = tokens.AccessToken
	u.RefreshToken = tokens.RefreshToken
	u.TokenExpiry = tokens.ExpiresAt
	return nil
}

func (s *Syncer) fetchRecent(ctx context.Context, u *store.User) (*tidal.HistoryPage, error) {
	var page *tidal.HistoryPage
	err := s.throttle.DoWithRetry(ctx, func(ctx context.Context) error {
		p, err := s.history.RecentlyPlayed(ctx, u.TidalUserID, u.AccessToken, s.cfg.PageSize, "")
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent plays: %w", err)
	}
	return page, nil
}
