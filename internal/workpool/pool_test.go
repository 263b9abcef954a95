package workpool_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaindex/internal/workpool"
)

type gauge struct {
	current atomic.Int64
	max     atomic.Int64
}

func (g *gauge) enter() {
	n := g.current.Add(1)
	for {
		seen := g.max.Load()
		if n <= seen || g.max.CompareAndSwap(seen, n) {
			return
		}
	}
}

func (g *gauge) leave() { g.current.Add(-1) }

func startPool[T any](t *testing.T, opts workpool.Options[T]) *workpool.Pool[T] {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	pool := workpool.New(opts)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	return pool
}

func drain[T any](t *testing.T, pool *workpool.Pool[T]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Drain(ctx); err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
}

func TestConcurrencyNeverExceedsLimitUnderRandomSubmission(t *testing.T) {
	const limit = 3
	const submitters = 8
	const perSubmitter = 25

	var g gauge
	var processed atomic.Int64
	pool := startPool(t, workpool.Options[int]{
		Name:  "cap",
		Limit: limit,
		Work: func(ctx context.Context, item int) error {
			g.enter()
			defer g.leave()
			time.Sleep(time.Duration(rand.IntN(3000)) * time.Microsecond)
			processed.Add(1)
			return nil
		},
	})

	var wg sync.WaitGroup
	for s := 0; s < submitters; s++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				if err := pool.Submit(seed*perSubmitter + i); err != nil {
					t.Errorf("Submit returned error: %v", err)
					return
				}
				time.Sleep(time.Duration(rand.IntN(500)) * time.Microsecond)
			}
		}(s)
	}
	wg.Wait()
	drain(t, pool)

	if got := processed.Load(); got != submitters*perSubmitter {
		t.Fatalf("expected %d items processed, got %d", submitters*perSubmitter, got)
	}
	if peak := g.max.Load(); peak > limit {
		t.Fatalf("observed %d concurrent tasks, limit %d", peak, limit)
	}
	stats := pool.Stats()
	if stats.PeakActive > limit {
		t.Fatalf("pool reported peak %d above limit %d", stats.PeakActive, limit)
	}
	if stats.Completed != submitters*perSubmitter || stats.Failed != 0 {
		t.Fatalf("unexpected counters %+v", stats)
	}
}

func TestDrainWaitsForQueueAndActiveWork(t *testing.T) {
	const items = 6
	var finished atomic.Int64
	pool := startPool(t, workpool.Options[int]{
		Name:  "drain",
		Limit: 2,
		Work: func(ctx context.Context, item int) error {
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
			return nil
		},
	})
	for i := 0; i < items; i++ {
		if err := pool.Submit(i); err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
	}
	drain(t, pool)

	if finished.Load() != items {
		t.Fatalf("Drain returned with %d of %d items finished", finished.Load(), items)
	}
	stats := pool.Stats()
	if stats.Queued != 0 || stats.Active != 0 {
		t.Fatalf("expected empty pool after drain, got %+v", stats)
	}
	if err := pool.Submit(99); !errors.Is(err, workpool.ErrClosed) {
		t.Fatalf("expected ErrClosed after drain, got %v", err)
	}
	drain(t, pool)
}

func TestFailuresAreIsolatedAndNotForwarded(t *testing.T) {
	var mu sync.Mutex
	var forwarded []int
	pool := startPool(t, workpool.Options[int]{
		Name:  "isolate",
		Limit: 2,
		Work: func(ctx context.Context, item int) error {
			switch item {
			case 2:
				return errors.New("remote failure")
			case 3:
				panic("unexpected")
			}
			return nil
		},
		Next: func(item int) {
			mu.Lock()
			forwarded = append(forwarded, item)
			mu.Unlock()
		},
		Label: strconv.Itoa,
	})
	for i := 1; i <= 5; i++ {
		if err := pool.Submit(i); err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
	}
	drain(t, pool)

	mu.Lock()
	defer mu.Unlock()
	if len(forwarded) != 3 {
		t.Fatalf("expected 3 forwarded items, got %v", forwarded)
	}
	for _, item := range forwarded {
		if item == 2 || item == 3 {
			t.Fatalf("failed item %d was forwarded", item)
		}
	}
	stats := pool.Stats()
	if stats.Failed != 2 || stats.Completed != 3 {
		t.Fatalf("unexpected counters %+v", stats)
	}
}

func TestSingleWorkerPreservesFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int
	pool := startPool(t, workpool.Options[int]{
		Name:  "fifo",
		Limit: 1,
		Work: func(ctx context.Context, item int) error {
			mu.Lock()
			order = append(order, item)
			mu.Unlock()
			return nil
		},
	})
	for i := 0; i < 20; i++ {
		_ = pool.Submit(i)
	}
	drain(t, pool)
	for i, item := range order {
		if item != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestSubmitDoesNotBlockWhileWorkersBusy(t *testing.T) {
	release := make(chan struct{})
	pool := startPool(t, workpool.Options[int]{
		Name:  "nonblocking",
		Limit: 1,
		Work: func(ctx context.Context, item int) error {
			<-release
			return nil
		},
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = pool.Submit(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked while workers were busy")
	}
	if pending := pool.Pending(); pending != 1000 {
		t.Fatalf("expected 1000 pending items, got %d", pending)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error while work is blocked, got %v", err)
	}

	close(release)
	drain(t, pool)
	if stats := pool.Stats(); stats.Completed != 1000 {
		t.Fatalf("expected all items completed, got %+v", stats)
	}
}

func TestDrainBeforeStart(t *testing.T) {
	pool := workpool.New(workpool.Options[int]{Name: "idle", Work: func(context.Context, int) error { return nil }})
	if err := pool.Drain(context.Background()); !errors.Is(err, workpool.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestWorkContextSurvivesStartCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var workErr atomic.Value
	pool := workpool.New(workpool.Options[int]{
		Name:         "detached",
		Limit:        1,
		PollInterval: 5 * time.Millisecond,
		Work: func(workCtx context.Context, item int) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			if err := workCtx.Err(); err != nil {
				workErr.Store(err)
			}
			return nil
		},
	})
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	_ = pool.Submit(1)
	<-started
	cancel()
	drain(t, pool)
	if v := workErr.Load(); v != nil {
		t.Fatalf("work context was canceled: %v", v)
	}
	if stats := pool.Stats(); stats.Completed != 1 {
		t.Fatalf("expected in-flight work to complete, got %+v", stats)
	}
}
