package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/tidewatch/internal/config"
	"github.com/jfmyers9/tidewatch/internal/dedup"
	"github.com/jfmyers9/tidewatch/internal/metadata"
	"github.com/jfmyers9/tidewatch/internal/store"
	"github.com/jfmyers9/tidewatch/internal/throttle"
	"github.com/jfmyers9/tidewatch/pkg/tidal"
)

type fakeCatalog struct {
	tracks map[string]*tidal.Track
}

func (f *fakeCatalog) GetTrack(ctx context.Context, id string) (*tidal.Track, error) {
	if t, ok := f.tracks[id]; ok {
		return t, nil
	}
	return nil, tidal.ErrNotFound
}

func (f *fakeCatalog) GetAlbum(ctx context.Context, id string) (*tidal.Album, error) {
	return nil, tidal.ErrNotFound
}

func (f *fakeCatalog) GetArtist(ctx context.Context, id string) (*tidal.Artist, error) {
	return nil, tidal.ErrNotFound
}

type fakeHistory struct {
	pages map[string]*tidal.HistoryPage
	errs  map[string]error
	calls map[string]int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		pages: make(map[string]*tidal.HistoryPage),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeHistory) RecentlyPlayed(ctx context.Context, userID, accessToken string, limit int, cursor string) (*tidal.HistoryPage, error) {
	f.calls[userID]++
	if err, ok := f.errs[userID]; ok {
		return nil, err
	}
	if p, ok := f.pages[userID]; ok {
		return p, nil
	}
	return &tidal.HistoryPage{}, nil
}

type fakeAuth struct {
	tokens   *tidal.Tokens
	err      error
	failures int // transient failures before succeeding
	calls    int
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (*tidal.Tokens, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failures {
		return nil, &tidal.Error{Status: 503, Message: "auth unavailable"}
	}
	return f.tokens, nil
}

func createTestSyncer(t *testing.T, catalog *fakeCatalog, history *fakeHistory, auth *fakeAuth) (*Syncer, *store.Store) {
	t.Helper()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	th := throttle.New(throttle.Config{
		RequestsPerSecond: 1000,
		Burst:             1000,
		MaxInFlight:       4,
		RetryAttempts:     2,
		RetryDelay:        time.Millisecond,
	})
	resolver := metadata.NewResolver(s, catalog, th, zerolog.Nop())

	return New(s, history, auth, resolver, dedup.NewGuard(s), th, config.SyncConfig{}, zerolog.Nop()), s
}

func createSyncUser(t *testing.T, s *store.Store, id string) {
	t.Helper()

	u := store.User{
		ID:           id,
		TidalUserID:  "tidal-" + id,
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenExpiry:  time.Now().Add(time.Hour),
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
}

func TestCycle(t *testing.T) {
	base := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("stores new plays and advances the sync marker", func(t *testing.T) {
		catalog := &fakeCatalog{tracks: map[string]*tidal.Track{
			"t1": {ID: "t1", Title: "One", ArtistID: "ar1"},
			"t2": {ID: "t2", Title: "Two", ArtistID: "ar2"},
		}}
		history := newFakeHistory()
		history.pages["tidal-u1"] = &tidal.HistoryPage{Entries: []tidal.HistoryEntry{
			{Track: tidal.Track{ID: "t1"}, PlayedAt: base},
			{Track: tidal.Track{ID: "t2"}, PlayedAt: base.Add(-5 * time.Minute)},
			{Track: tidal.Track{ID: "t1"}, PlayedAt: base.Add(10 * time.Second)}, // inside live window
		}}

		sy, s := createTestSyncer(t, catalog, history, &fakeAuth{})
		createSyncUser(t, s, "u1")
		ctx := context.Background()

		if err := sy.Cycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		count, err := s.CountPlays(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 stored plays, got %d", count)
		}

		u, err := s.GetUser(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to fetch user: %v", err)
		}
		if u.LastSyncedAt.IsZero() {
			t.Error("expected last synced marker to advance")
		}
	})

	t.Run("a second cycle over the same page stores nothing", func(t *testing.T) {
		catalog := &fakeCatalog{tracks: map[string]*tidal.Track{"t1": {ID: "t1", Title: "One"}}}
		history := newFakeHistory()
		history.pages["tidal-u1"] = &tidal.HistoryPage{Entries: []tidal.HistoryEntry{
			{Track: tidal.Track{ID: "t1"}, PlayedAt: base},
		}}

		sy, s := createTestSyncer(t, catalog, history, &fakeAuth{})
		createSyncUser(t, s, "u1")
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			if err := sy.Cycle(ctx); err != nil {
				t.Fatalf("cycle %d failed: %v", i, err)
			}
		}

		count, err := s.CountPlays(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 stored play, got %d", count)
		}
	})

	t.Run("blacklisted artists are tagged, not dropped", func(t *testing.T) {
		catalog := &fakeCatalog{tracks: map[string]*tidal.Track{
			"t1": {ID: "t1", Title: "One", ArtistID: "ar-bad"},
		}}
		history := newFakeHistory()
		history.pages["tidal-u1"] = &tidal.HistoryPage{Entries: []tidal.HistoryEntry{
			{Track: tidal.Track{ID: "t1"}, PlayedAt: base},
		}}

		sy, s := createTestSyncer(t, catalog, history, &fakeAuth{})
		createSyncUser(t, s, "u1")
		ctx := context.Background()

		if err := s.AddToBlacklist(ctx, "u1", "ar-bad"); err != nil {
			t.Fatalf("failed to blacklist artist: %v", err)
		}

		if err := sy.Cycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		plays, err := s.RecentlyPlayed(ctx, "u1", 10, 0)
		if err != nil {
			t.Fatalf("failed to list plays: %v", err)
		}
		if len(plays) != 1 {
			t.Fatalf("expected 1 stored play, got %d", len(plays))
		}
		if !plays[0].Blacklisted {
			t.Error("expected play to carry the blacklist tag")
		}
	})

	t.Run("users without credentials are skipped", func(t *testing.T) {
		history := newFakeHistory()
		sy, s := createTestSyncer(t, &fakeCatalog{}, history, &fakeAuth{})

		if err := s.CreateUser(context.Background(), store.User{ID: "u1", TidalUserID: "tidal-u1"}); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		if err := sy.Cycle(context.Background()); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}
		if history.calls["tidal-u1"] != 0 {
			t.Errorf("expected no history fetch, got %d", history.calls["tidal-u1"])
		}
	})

	t.Run("one user's upstream failure does not stop the cycle", func(t *testing.T) {
		catalog := &fakeCatalog{tracks: map[string]*tidal.Track{"t1": {ID: "t1", Title: "One"}}}
		history := newFakeHistory()
		history.errs["tidal-u1"] = &tidal.Error{Status: 500, Message: "upstream down"}
		history.pages["tidal-u2"] = &tidal.HistoryPage{Entries: []tidal.HistoryEntry{
			{Track: tidal.Track{ID: "t1"}, PlayedAt: base},
		}}

		sy, s := createTestSyncer(t, catalog, history, &fakeAuth{})
		createSyncUser(t, s, "u1")
		createSyncUser(t, s, "u2")
		ctx := context.Background()

		if err := sy.Cycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		count, err := s.CountPlays(ctx, "u2")
		if err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 1 {
			t.Errorf("expected u2 to sync despite u1 failing, got %d plays", count)
		}
	})
}

func TestTokenRefresh(t *testing.T) {
	base := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	expiredUser := func(t *testing.T, s *store.Store) {
		t.Helper()
		u := store.User{
			ID:           "u1",
			TidalUserID:  "tidal-u1",
			AccessToken:  "stale",
			RefreshToken: "refresh",
			TokenExpiry:  time.Now().Add(-time.Hour),
		}
		if err := s.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
	}

	t.Run("expired tokens are refreshed and persisted", func(t *testing.T) {
		catalog := &fakeCatalog{tracks: map[string]*tidal.Track{"t1": {ID: "t1", Title: "One"}}}
		history := newFakeHistory()
		history.pages["tidal-u1"] = &tidal.HistoryPage{Entries: []tidal.HistoryEntry{
			{Track: tidal.Track{ID: "t1"}, PlayedAt: base},
		}}
		auth := &fakeAuth{tokens: &tidal.Tokens{
			AccessToken:  "fresh",
			RefreshToken: "rotated",
			ExpiresAt:    time.Now().Add(time.Hour),
		}}

		sy, s := createTestSyncer(t, catalog, history, auth)
		expiredUser(t, s)
		ctx := context.Background()

		if err := sy.Cycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}
		if auth.calls != 1 {
			t.Errorf("expected 1 refresh call, got %d", auth.calls)
		}

		u, err := s.GetUser(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to fetch user: %v", err)
		}
		if u.AccessToken != "fresh" || u.RefreshToken != "rotated" {
			t.Errorf("expected rotated tokens persisted, got access=%q refresh=%q", u.AccessToken, u.RefreshToken)
		}

		count, err := s.CountPlays(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 1 {
			t.Errorf("expected sync to proceed after refresh, got %d plays", count)
		}
	})

	t.Run("a transient refresh failure is retried within the cycle", func(t *testing.T) {
		catalog := &fakeCatalog{tracks: map[string]*tidal.Track{"t1": {ID: "t1", Title: "One"}}}
		history := newFakeHistory()
		history.pages["tidal-u1"] = &tidal.HistoryPage{Entries: []tidal.HistoryEntry{
			{Track: tidal.Track{ID: "t1"}, PlayedAt: base},
		}}
		auth := &fakeAuth{
			failures: 1,
			tokens: &tidal.Tokens{
				AccessToken:  "fresh",
				RefreshToken: "rotated",
				ExpiresAt:    time.Now().Add(time.Hour),
			},
		}

		sy, s := createTestSyncer(t, catalog, history, auth)
		expiredUser(t, s)
		ctx := context.Background()

		if err := sy.Cycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}
		if auth.calls != 2 {
			t.Errorf("expected refresh retried once, got %d calls", auth.calls)
		}

		count, err := s.CountPlays(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 1 {
			t.Errorf("expected sync to proceed after retried refresh, got %d plays", count)
		}

		u, err := s.GetUser(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to fetch user: %v", err)
		}
		if u.NeedsRelogin {
			t.Error("transient refresh trouble must not flag the user for relogin")
		}
	})

	t.Run("a rejected refresh flags the user for relogin", func(t *testing.T) {
		history := newFakeHistory()
		auth := &fakeAuth{err: &tidal.Error{Status: 401, Message: "invalid_grant"}}

		sy, s := createTestSyncer(t, &fakeCatalog{}, history, auth)
		expiredUser(t, s)
		ctx := context.Background()

		if err := sy.Cycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		u, err := s.GetUser(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to fetch user: %v", err)
		}
		if !u.NeedsRelogin {
			t.Error("expected user to be flagged for relogin")
		}
		if history.calls["tidal-u1"] != 0 {
			t.Errorf("expected no history fetch after refresh rejection, got %d", history.calls["tidal-u1"])
		}

		// Next cycle skips the user outright.
		if err := sy.Cycle(ctx); err != nil {
			t.Fatalf("second cycle failed: %v", err)
		}
		if auth.calls != 1 {
			t.Errorf("expected no further refresh attempts, got %d", auth.calls)
		}
	})
}
