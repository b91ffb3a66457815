package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/tidewatch/internal/config"
	"github.com/jfmyers9/tidewatch/internal/store"
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

type fakeSearch struct{}

func (fakeSearch) BestTrackMatch(ctx context.Context, query string) (*tidal.Track, error) {
	return nil, tidal.ErrNotFound
}

type fakeHistory struct{}

func (fakeHistory) RecentlyPlayed(ctx context.Context, userID, accessToken string, limit int, cursor string) (*tidal.HistoryPage, error) {
	return &tidal.HistoryPage{}, nil
}

type fakeAuth struct{}

func (fakeAuth) Refresh(ctx context.Context, refreshToken string) (*tidal.Tokens, error) {
	return nil, tidal.ErrNoAccessToken
}

func createTestEngine(t *testing.T, catalog *fakeCatalog) (*Engine, *store.Store) {
	t.Helper()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	api := APIClient{
		Catalog: catalog,
		Search:  fakeSearch{},
		History: fakeHistory{},
		Auth:    fakeAuth{},
	}
	cfg := config.Config{
		Throttle: config.ThrottleConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			MaxInFlight:       4,
			RetryAttempts:     2,
			RetryDelay:        time.Millisecond,
		},
	}

	e := New(s, api, cfg, zerolog.Nop())
	t.Cleanup(e.Close)

	if err := s.CreateUser(context.Background(), store.User{ID: "u1", TidalUserID: "tidal-u1"}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return e, s
}

func TestSessions(t *testing.T) {
	t.Run("a qualifying session becomes a stored play", func(t *testing.T) {
		catalog := &fakeCatalog{tracks: map[string]*tidal.Track{
			"t1": {ID: "t1", Title: "One", DurationMS: 180000},
		}}
		e, s := createTestEngine(t, catalog)
		ctx := context.Background()

		e.sessions.Start("u1", "t1", time.Now().Add(-time.Minute))
		if err := e.RecordSessionEnd(ctx, "u1"); err != nil {
			t.Fatalf("failed to end session: %v", err)
		}

		plays, err := e.RecentlyPlayed(ctx, "u1", 10, 0)
		if err != nil {
			t.Fatalf("failed to list plays: %v", err)
		}
		if len(plays) != 1 {
			t.Fatalf("expected 1 play, got %d", len(plays))
		}
		if plays[0].TrackID != "t1" || plays[0].DurationMS != 180000 {
			t.Errorf("unexpected play %+v", plays[0])
		}

		count, err := s.CountPlays(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 stored play, got %d", count)
		}
	})

	t.Run("a session for an unknown track stores nothing", func(t *testing.T) {
		e, s := createTestEngine(t, &fakeCatalog{})
		ctx := context.Background()

		e.sessions.Start("u1", "ghost", time.Now().Add(-time.Minute))
		if err := e.RecordSessionEnd(ctx, "u1"); err != nil {
			t.Fatalf("failed to end session: %v", err)
		}

		count, err := s.CountPlays(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 0 {
			t.Errorf("expected no plays, got %d", count)
		}
	})

	t.Run("a repeated session within the window deduplicates", func(t *testing.T) {
		catalog := &fakeCatalog{tracks: map[string]*tidal.Track{
			"t1": {ID: "t1", Title: "One"},
		}}
		e, s := createTestEngine(t, catalog)
		ctx := context.Background()

		start := time.Now().Add(-time.Minute)
		for i := 0; i < 2; i++ {
			e.sessions.Start("u1", "t1", start)
			if err := e.RecordSessionEnd(ctx, "u1"); err != nil {
				t.Fatalf("failed to end session: %v", err)
			}
		}

		count, err := s.CountPlays(ctx, "u1")
		if err != nil {
			t.Fatalf("failed to count plays: %v", err)
		}
		if count != 1 {
			t.Errorf("expected duplicate session suppressed, got %d plays", count)
		}
	})
}

func TestImports(t *testing.T) {
	t.Run("imports for unknown owners are rejected", func(t *testing.T) {
		e, _ := createTestEngine(t, &fakeCatalog{})

		if _, err := e.CreateImport(context.Background(), store.ImportKindTidal, "ghost", nil); err == nil {
			t.Error("expected create to reject unknown owner")
		}
	})
}

func TestStartSyncIsIdempotent(t *testing.T) {
	e, _ := createTestEngine(t, &fakeCatalog{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.StartSync(ctx)
	e.StartSync(ctx)

	cancel()
	select {
	case err := <-e.SyncDone():
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sync loop did not stop")
	}
}
