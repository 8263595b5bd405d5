// Package workers runs background backend I/O on a small bounded pool so the
// request path never blocks on fetches, preloads or device capture.
package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

var errTaskPanicked = errors.New("background task panicked")

// Pool bounds concurrent background tasks with a weighted semaphore.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a pool running at most size tasks at once.
func New(size int, log zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "workers").Logger(),
	}
}

// Submit schedules fn without waiting for a free slot. fn receives the pool
// context, which is cancelled on Close.
func (p *Pool) Submit(name string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.log.Debug().Str("task", name).Msg("task dropped, pool closing")
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Str("task", name).Interface("panic", r).Msg("background task panicked")
			}
		}()
		fn(p.ctx)
	}()
	return nil
}

// Go runs fn on the pool and blocks until it returns or ctx is done. fn sees a
// context cancelled by either ctx or Close.
func (p *Pool) Go(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if err := p.Submit(name, func(poolCtx context.Context) {
		taskCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(poolCtx, cancel)
		defer stop()

		err := errTaskPanicked
		defer func() { done <- err }()
		err = fn(taskCtx)
	}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close cancels pending tasks and waits for running ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
