package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_DefaultCapacity(t *testing.T) {
	if got := New(0).Capacity(); got != DefaultCapacity {
		t.Errorf("New(0).Capacity() = %d, want %d", got, DefaultCapacity)
	}
	if got := New(-3).Capacity(); got != DefaultCapacity {
		t.Errorf("New(-3).Capacity() = %d, want %d", got, DefaultCapacity)
	}
	if got := New(7).Capacity(); got != 7 {
		t.Errorf("New(7).Capacity() = %d, want 7", got)
	}
}

func TestGate_AdmissionBound(t *testing.T) {
	const (
		capacity = 3
		items    = 20
	)
	g := New(capacity)
	ctx := context.Background()

	var current, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < items; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(ctx, func(ctx context.Context) error {
				n := current.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen.Load() > capacity {
		t.Errorf("observed %d concurrent holders, capacity %d", maxSeen.Load(), capacity)
	}
	if g.Peak() > capacity {
		t.Errorf("Peak() = %d, capacity %d", g.Peak(), capacity)
	}
	if g.InFlight() != 0 {
		t.Errorf("InFlight() = %d after all done, want 0", g.InFlight())
	}
}

func TestGate_DoReleasesOnError(t *testing.T) {
	g := New(1)
	ctx := context.Background()
	boom := errors.New("boom")

	if err := g.Do(ctx, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want boom", err)
	}

	// The single permit must be available again.
	if err := g.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("second Do() error = %v", err)
	}
}

func TestGate_DoReleasesOnPanic(t *testing.T) {
	g := New(1)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = g.Do(ctx, func(context.Context) error { panic("pipeline crashed") })
	}()

	if g.InFlight() != 0 {
		t.Fatalf("InFlight() = %d after panic, want 0", g.InFlight())
	}

	acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := g.Acquire(acquireCtx); err != nil {
		t.Fatalf("Acquire() after panic error = %v", err)
	}
	g.Release()
}

func TestGate_AcquireContextCancelled(t *testing.T) {
	g := New(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := g.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want DeadlineExceeded", err)
	}
	if called {
		t.Error("fn ran without a permit")
	}
	if g.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", g.InFlight())
	}
}
