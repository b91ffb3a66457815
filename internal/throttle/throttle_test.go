package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoBoundsInFlight(t *testing.T) {
	th := New(Config{
		RequestsPerSecond: 1000,
		Burst:             1000,
		MaxInFlight:       3,
	})

	var inFlight, peak int64
	var wg sync.WaitGroup
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = th.Do(ctx, func(ctx context.Context) error {
				n := atomic.AddInt64(&inFlight, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > 3 {
		t.Errorf("in-flight peak %d exceeds bound 3", got)
	}
}

func TestDoPropagatesTaskError(t *testing.T) {
	th := New(Config{RequestsPerSecond: 1000, Burst: 10, MaxInFlight: 1})
	want := errors.New("boom")

	err := th.Do(context.Background(), func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("expected task error, got %v", err)
	}
}

func TestDoWithRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		th := New(Config{RequestsPerSecond: 1000, Burst: 100, MaxInFlight: 1, RetryAttempts: 5, RetryDelay: time.Millisecond})

		var calls int
		err := th.DoWithRetry(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("exhaustion surfaces the last error", func(t *testing.T) {
		th := New(Config{RequestsPerSecond: 1000, Burst: 100, MaxInFlight: 1, RetryAttempts: 4, RetryDelay: time.Millisecond})

		final := errors.New("still broken")
		var calls int
		err := th.DoWithRetry(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 4 {
				return errors.New("earlier failure")
			}
			return final
		})

		var retryErr *RetryError
		if !errors.As(err, &retryErr) {
			t.Fatalf("expected *RetryError, got %v", err)
		}
		if retryErr.Attempts != 4 {
			t.Errorf("expected 4 attempts, got %d", retryErr.Attempts)
		}
		// The caller sees the final failure, not a retry-count error
		if !errors.Is(err, final) {
			t.Errorf("expected last error to unwrap, got %v", retryErr.LastErr)
		}
	})

	t.Run("cancellation stops retrying", func(t *testing.T) {
		th := New(Config{RequestsPerSecond: 1000, Burst: 100, MaxInFlight: 1, RetryAttempts: 100, RetryDelay: 10 * time.Millisecond})

		ctx, cancel := context.WithCancel(context.Background())
		var calls int
		errc := make(chan error, 1)
		go func() {
			errc <- th.DoWithRetry(ctx, func(ctx context.Context) error {
				calls++
				return errors.New("transient")
			})
		}()

		time.Sleep(25 * time.Millisecond)
		cancel()

		select {
		case err := <-errc:
			if err == nil {
				t.Fatal("expected error after cancellation")
			}
		case <-time.After(time.Second):
			t.Fatal("retry loop did not stop after cancellation")
		}
		if calls >= 100 {
			t.Errorf("retry loop ran to exhaustion despite cancellation")
		}
	})
}

func TestNewAppliesDefaults(t *testing.T) {
	th := New(Config{})
	if th.cfg.RetryAttempts != 10 {
		t.Errorf("expected default 10 attempts, got %d", th.cfg.RetryAttempts)
	}
	if th.cfg.MaxInFlight != 3 {
		t.Errorf("expected default in-flight bound 3, got %d", th.cfg.MaxInFlight)
	}
}
