package db

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorSubmit(t *testing.T) {
	e := NewExecutor(2, 16)
	defer e.Close()

	var ran atomic.Int32
	p := e.Submit(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	require.NoError(t, p.Wait())
	assert.Equal(t, int32(1), ran.Load())
	assert.True(t, p.Done())
}

func TestExecutorPropagatesError(t *testing.T) {
	e := NewExecutor(1, 4)
	defer e.Close()

	wantErr := errors.New("write failed")
	p := e.Submit(func(ctx context.Context) error {
		return wantErr
	})

	assert.ErrorIs(t, p.Wait(), wantErr)
}

func TestExecutorCallerRunsWhenSaturated(t *testing.T) {
	e := NewExecutor(1, 1)
	defer e.Close()

	block := make(chan struct{})
	e.Submit(func(ctx context.Context) error {
		<-block
		return nil
	})
	// give the single worker time to pick up the blocking task
	time.Sleep(20 * time.Millisecond)
	e.Submit(func(ctx context.Context) error {
		return nil
	})

	// queue is now full; this one must run inline on the caller
	var inline atomic.Bool
	p := e.Submit(func(ctx context.Context) error {
		inline.Store(true)
		return nil
	})

	assert.True(t, p.Done(), "saturated submit completes before returning")
	assert.True(t, inline.Load())

	close(block)
}

func TestExecutorCloseDrainsQueue(t *testing.T) {
	e := NewExecutor(1, 16)

	var ran atomic.Int32
	var promises []*Promise
	for i := 0; i < 10; i++ {
		promises = append(promises, e.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	e.Close()

	assert.Equal(t, int32(10), ran.Load())
	for _, p := range promises {
		assert.True(t, p.Done())
	}
}

func TestExecutorSubmitAfterClose(t *testing.T) {
	e := NewExecutor(1, 4)
	e.Close()

	var ran atomic.Bool
	p := e.Submit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	assert.ErrorIs(t, p.Wait(), ErrExecutorClosed)
	assert.False(t, ran.Load(), "rejected task must not run")

	// repeated Close stays a no-op
	e.Close()
}

func TestExecutorSubmitRacingClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		e := NewExecutor(2, 4)

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					p := e.Submit(func(ctx context.Context) error {
						return nil
					})
					_ = p.Wait()
				}
			}()
		}

		e.Close()
		wg.Wait()
	}
}

func TestExecutorSizeFor(t *testing.T) {
	cores := runtime.NumCPU()

	workers, queueCap := executorSizeFor(10)
	assert.GreaterOrEqual(t, workers, 2)
	assert.LessOrEqual(t, workers, max(2, cores*2))
	assert.Equal(t, max(256, 10*128), queueCap)

	// tiny pools still get a usable floor
	workers, queueCap = executorSizeFor(1)
	assert.GreaterOrEqual(t, workers, 2)
	assert.GreaterOrEqual(t, queueCap, 256)
}
