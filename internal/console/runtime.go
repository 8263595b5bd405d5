package console

import (
	"context"
	"errors"
	"sync"
)

var ErrRuntimeStarted = errors.New("runtime already started")

// KeepAliver keeps the backend session warm until ctx is done.
type KeepAliver interface {
	KeepAlive(ctx context.Context)
}

// Runtime owns the periodic tasks: session keep-alive and dashboard refresh.
// They start together and stop together.
type Runtime struct {
	session KeepAliver
	monitor *Monitor

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

func NewRuntime(session KeepAliver, monitor *Monitor) *Runtime {
	return &Runtime{session: session, monitor: monitor}
}

func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil || r.stopped {
		return ErrRuntimeStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.session.KeepAlive(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.monitor.Run(ctx)
	}()
	return nil
}

// Stop cancels both tasks, waits for them and disposes the monitor. No
// dashboard update is delivered after Stop returns.
func (r *Runtime) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.stopped = true
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.monitor.Dispose()
}
