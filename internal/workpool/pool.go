package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"mediaindex/internal/logging"
	"mediaindex/internal/services"
)

// ErrClosed is returned by Submit once the pool has been drained.
var ErrClosed = errors.New("workpool: closed")

// ErrNotStarted is returned by Drain when Start was never called.
var ErrNotStarted = errors.New("workpool: not started")

const defaultPollInterval = 100 * time.Millisecond

// Work processes one item. A nil error forwards the item to Next.
type Work[T any] func(ctx context.Context, item T) error

// Options configures a Pool.
type Options[T any] struct {
	Name  string
	Limit int
	Work  Work[T]
	// Next receives items whose work succeeded. It is called from the
	// dispatch goroutine and must not block.
	Next func(T)
	// Label describes an item in log lines.
	Label        func(T) string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name       string
	Limit      int
	Queued     int
	Active     int
	PeakActive int
	Completed  int64
	Failed     int64
	Draining   bool
}

type outcome[T any] struct {
	item T
	err  error
}

// Pool is a bounded-concurrency worker pool.
type Pool[T any] struct {
	opts   Options[T]
	logger *slog.Logger

	mu        sync.Mutex
	queue     []T
	active    int
	peak      int
	completed int64
	failed    int64
	started   bool
	draining  bool
	closed    bool
	changed   chan struct{}

	wake    chan struct{}
	done    chan outcome[T]
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// New constructs a pool. Limit values below one are raised to one.
func New[T any](opts Options[T]) *Pool[T] {
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Label == nil {
		opts.Label = func(item T) string { return fmt.Sprint(item) }
	}
	return &Pool[T]{
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, opts.Name),
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan outcome[T], opts.Limit),
		stopped: make(chan struct{}),
	}
}

// Name returns the pool name.
func (p *Pool[T]) Name() string { return p.opts.Name }

// Limit returns the concurrency cap.
func (p *Pool[T]) Limit() int { return p.opts.Limit }

// Start launches the dispatch loop. The loop and the units of work inherit
// ctx's values but not its cancellation; only Drain stops the loop.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("workpool %s already started", p.opts.Name)
	}
	p.started = true
	detached := context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(detached)
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(loopCtx, services.WithStage(detached, p.opts.Name))
	return nil
}

// Submit enqueues item without blocking.
func (p *Pool[T]) Submit(item T) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, item)
	p.mu.Unlock()
	p.signal()
	return nil
}

func (p *Pool[T]) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stats returns current counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:       p.opts.Name,
		Limit:      p.opts.Limit,
		Queued:     len(p.queue),
		Active:     p.active,
		PeakActive: p.peak,
		Completed:  p.completed,
		Failed:     p.failed,
		Draining:   p.draining,
	}
}

// Pending returns queued plus active items.
func (p *Pool[T]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + p.active
}

// Drain blocks until no item is queued or active, then stops the dispatch
// loop and waits for it to exit. Further Submits fail with ErrClosed. It is
// safe to call more than once. If ctx ends first the loop keeps running and
// ctx's error is returned.
func (p *Pool[T]) Drain(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.draining = true
	p.mu.Unlock()

	for {
		p.mu.Lock()
		idle := len(p.queue) == 0 && p.active == 0
		if idle {
			p.closed = true
		}
		changed := p.changed
		p.mu.Unlock()
		if idle {
			break
		}
		select {
		case <-changed:
		case <-p.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.once.Do(p.cancel)
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) run(loopCtx, workCtx context.Context) {
	defer close(p.stopped)
	timer := time.NewTimer(p.opts.PollInterval)
	defer timer.Stop()

	for {
		p.reap()
		p.launch(workCtx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.opts.PollInterval)

		select {
		case <-loopCtx.Done():
			return
		case <-p.wake:
		case res := <-p.done:
			p.finish(res)
		case <-timer.C:
		}
	}
}

// reap collects every finished task without blocking.
func (p *Pool[T]) reap() {
	for {
		select {
		case res := <-p.done:
			p.finish(res)
		default:
			return
		}
	}
}

func (p *Pool[T]) finish(res outcome[T]) {
	label := p.opts.Label(res.item)
	if res.err != nil {
		p.logger.Debug("item dropped",
			logging.String(logging.FieldFile, label),
			logging.String("error_kind", services.Kind(res.err)),
			logging.String(logging.FieldEventType, "item_dropped"),
		)
	} else if p.opts.Next != nil {
		p.opts.Next(res.item)
	}

	p.mu.Lock()
	p.active--
	if res.err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.notifyLocked()
	p.mu.Unlock()
}

func (p *Pool[T]) launch(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.active < p.opts.Limit && len(p.queue) > 0 {
		item := p.queue[0]
		var zero T
		p.queue[0] = zero
		p.queue = p.queue[1:]
		p.active++
		if p.active > p.peak {
			p.peak = p.active
		}
		go p.execute(ctx, item)
	}
	p.notifyLocked()
}

func (p *Pool[T]) execute(ctx context.Context, item T) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workpool %s: panic: %v\n%s", p.opts.Name, r, debug.Stack())
		}
		p.done <- outcome[T]{item: item, err: err}
	}()
	err = p.opts.Work(ctx, item)
}

// notifyLocked wakes Drain waiters.
func (p *Pool[T]) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}
