package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"researchbot/internal/metrics"
)

// DefaultPoolSize matches the widest fan-out (consensus queries three backends).
const DefaultPoolSize = 3

// Pool runs blocking backend calls on at most size goroutines at a time.
// Callers submit work and await a Future, so the dispatch loop never blocks
// on backend I/O itself.
type Pool struct {
	sem      *semaphore.Weighted
	size     int
	logger   *slog.Logger
	wg       sync.WaitGroup
	inflight atomic.Int64
}

func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger,
	}
}

// Future is the pending result of a submitted call.
type Future struct {
	done chan struct{}
	text string
	err  error
}

// Await blocks until the call finishes or ctx ends, whichever comes first.
// Abandoning a future does not cancel the call; cancel the context passed to
// Submit for that.
func (f *Future) Await(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.text, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Submit schedules fn and returns immediately. fn waits for a free slot; if ctx
// ends first the future resolves with ctx.Err() and fn never runs. A panic in
// fn is turned into the future's error.
func (p *Pool) Submit(ctx context.Context, name string, fn func(ctx context.Context) (string, error)) *Future {
	f := &Future{done: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(f.done)

		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.err = err
			return
		}
		defer p.sem.Release(1)

		p.inflight.Add(1)
		metrics.PoolInflight.Inc()
		defer func() {
			p.inflight.Add(-1)
			metrics.PoolInflight.Dec()
		}()

		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("pool task panicked", "task", name, "panic", r)
				f.err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()

		f.text, f.err = fn(ctx)
	}()

	return f
}

// Size is the maximum number of concurrent calls.
func (p *Pool) Size() int { return p.size }

// InFlight reports how many calls currently hold a slot.
func (p *Pool) InFlight() int { return int(p.inflight.Load()) }

// Wait blocks until every submitted call has finished.
func (p *Pool) Wait() { p.wg.Wait() }
