package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/jfmyers9/tidewatch/internal/store"
)

func createTestGuard(t *testing.T) (*Guard, *store.Store) {
	t.Helper()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return NewGuard(s), s
}

func TestIsDuplicate(t *testing.T) {
	g, s := createTestGuard(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := s.InsertPlays(ctx, []store.PlaybackEvent{
		{UserID: "u1", TrackID: "t1", PlayedAt: base, DurationMS: 120000},
	}); err != nil {
		t.Fatalf("failed to seed play: %v", err)
	}

	t.Run("within live window", func(t *testing.T) {
		dup, err := g.IsDuplicate(ctx, "u1", "t1", base.Add(15*time.Second), DefaultLiveWindow)
		if err != nil {
			t.Fatalf("IsDuplicate failed: %v", err)
		}
		if !dup {
			t.Error("expected duplicate within 30s window")
		}
	})

	t.Run("outside live window but inside import window", func(t *testing.T) {
		ts := base.Add(45 * time.Second)

		dup, err := g.IsDuplicate(ctx, "u1", "t1", ts, DefaultLiveWindow)
		if err != nil {
			t.Fatalf("IsDuplicate failed: %v", err)
		}
		if dup {
			t.Error("expected no duplicate at 45s with 30s window")
		}

		dup, err = g.IsDuplicate(ctx, "u1", "t1", ts, DefaultImportWindow)
		if err != nil {
			t.Fatalf("IsDuplicate failed: %v", err)
		}
		if !dup {
			t.Error("expected duplicate at 45s with 60s window")
		}
	})
}

func TestBatchWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("collapses close repeats", func(t *testing.T) {
		b := NewBatchWindow(60 * time.Second)

		if b.Observe("t1", base) {
			t.Error("first observation must not be a duplicate")
		}
		if !b.Observe("t1", base.Add(30*time.Second)) {
			t.Error("expected duplicate inside batch window")
		}
		if !b.Observe("t1", base.Add(-30*time.Second)) {
			t.Error("window must apply in both directions")
		}
		if b.Observe("t1", base.Add(2*time.Minute)) {
			t.Error("expected distinct play outside window")
		}
		if b.Observe("t2", base) {
			t.Error("different track must not collide")
		}
	})

	t.Run("reset clears state", func(t *testing.T) {
		b := NewBatchWindow(60 * time.Second)
		b.Observe("t1", base)
		b.Reset()
		if b.Observe("t1", base) {
			t.Error("expected no duplicate after reset")
		}
	})
}
