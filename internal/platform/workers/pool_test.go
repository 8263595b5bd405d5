package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := New(2, zerolog.Nop())
	defer p.Close()

	var running, peak atomic.Int32
	release := make(chan struct{})
	finished := make(chan struct{}, 5)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit("task", func(context.Context) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			finished <- struct{}{}
		}))
	}

	assert.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	for i := 0; i < 5; i++ {
		<-finished
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestPool_GoReturnsTaskError(t *testing.T) {
	p := New(1, zerolog.Nop())
	defer p.Close()

	boom := errors.New("boom")
	err := p.Go(context.Background(), "fail", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestPool_GoHonoursCallerContext(t *testing.T) {
	p := New(1, zerolog.Nop())
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Go(ctx, "slow", func(taskCtx context.Context) error {
		<-taskCtx.Done()
		return taskCtx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := New(1, zerolog.Nop())
	p.Close()

	err := p.Submit("late", func(context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_RecoversPanics(t *testing.T) {
	p := New(1, zerolog.Nop())
	defer p.Close()

	require.NoError(t, p.Submit("panic", func(context.Context) { panic("nope") }))
	err := p.Go(context.Background(), "after", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestPool_GoSurfacesPanicAsError(t *testing.T) {
	p := New(1, zerolog.Nop())
	defer p.Close()

	err := p.Go(context.Background(), "panic", func(context.Context) error { panic("nope") })
	assert.ErrorIs(t, err, errTaskPanicked)
}
