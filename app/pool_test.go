package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpipe/domain"
)

type runnerFunc func(ctx context.Context, job Job) error

func (f runnerFunc) Run(ctx context.Context, job Job) error { return f(ctx, job) }

func TestPoolRunsQueuedJobs(t *testing.T) {
	var ran atomic.Int32
	pool := NewPool(runnerFunc(func(context.Context, Job) error {
		ran.Add(1)
		return nil
	}), 2, 16)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Enqueue(Job{SourceID: "s"}))
	}
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool { return ran.Load() == 5 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, pool.Pending())
}

func TestPoolEnqueueNeverBlocks(t *testing.T) {
	pool := NewPool(runnerFunc(func(context.Context, Job) error { return nil }), 1, 1)

	require.NoError(t, pool.Enqueue(Job{SourceID: "a"}))
	assert.ErrorIs(t, pool.Enqueue(Job{SourceID: "b"}), domain.ErrQueueFull)
}

func TestPoolResize(t *testing.T) {
	pool := NewPool(runnerFunc(func(context.Context, Job) error { return nil }), 3, 4)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.NoError(t, pool.Resize(5))
	assert.Equal(t, 5, pool.CurrentWorkers())
	require.NoError(t, pool.Resize(1))
	assert.Equal(t, 1, pool.CurrentWorkers())
	assert.Error(t, pool.Resize(0))
	assert.Equal(t, 1, pool.CurrentWorkers())
}

func TestPoolStopWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	pool := NewPool(runnerFunc(func(context.Context, Job) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}), 1, 1)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Enqueue(Job{SourceID: "slow"}))

	<-started
	require.NoError(t, pool.Stop())
	assert.True(t, finished.Load())
}
