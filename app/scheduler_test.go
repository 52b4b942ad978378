package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpipe/adapter/taskregistry"
	"feedpipe/domain"
)

func TestTaskName(t *testing.T) {
	assert.Equal(t, "golang_42", TaskName(domain.Source{ID: "42", Name: "golang"}))
}

func TestSchedulerRegisterAndUnregister(t *testing.T) {
	ctx := context.Background()
	registry := taskregistry.NewMemory()
	s := NewScheduler(registry, &recordingQueue{})

	a := domain.Source{ID: "a1", Name: "alpha", FetchInterval: time.Hour}
	b := domain.Source{ID: "b2", Name: "beta", FetchInterval: 2 * time.Hour}
	require.NoError(t, s.Register(ctx, a))
	require.NoError(t, s.Register(ctx, b))
	// Registering again only updates.
	a.FetchInterval = 30 * time.Minute
	require.NoError(t, s.Register(ctx, a))

	tasks, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.PeriodicTask{
		Name:     "alpha_a1",
		Task:     FetchTaskRef,
		Args:     []string{"a1"},
		Interval: 30 * time.Minute,
	}, tasks[0])

	require.NoError(t, s.Unregister(ctx, a))
	tasks, err = registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "beta_b2", tasks[0].Name)

	// Removing a task that is already gone is fine.
	require.NoError(t, s.Unregister(ctx, a))
}

func TestSchedulerRejectsNonPositiveInterval(t *testing.T) {
	s := NewScheduler(taskregistry.NewMemory(), &recordingQueue{})
	err := s.Register(context.Background(), domain.Source{ID: "x", Name: "x"})
	var ce *domain.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestSchedulerFiresAndRearms(t *testing.T) {
	ctx := context.Background()
	registry := taskregistry.NewMemory()
	queue := &recordingQueue{}

	// Tasks found in the registry are armed on start.
	require.NoError(t, registry.Upsert(ctx, domain.PeriodicTask{
		Name: "stored_s0", Task: FetchTaskRef, Args: []string{"s0"}, Interval: 15 * time.Millisecond,
	}))
	s := NewScheduler(registry, queue)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	assert.ElementsMatch(t, []string{"stored_s0"}, s.Armed())

	require.Eventually(t, func() bool { return len(queue.Jobs()) >= 3 }, time.Second, 5*time.Millisecond)
	for _, job := range queue.Jobs() {
		assert.Equal(t, "s0", job.SourceID)
		assert.False(t, job.Claimed)
	}

	require.NoError(t, s.Unregister(ctx, domain.Source{ID: "s0", Name: "stored"}))
	assert.Empty(t, s.Armed())
	fired := len(queue.Jobs())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fired, len(queue.Jobs()))
}

func TestSchedulerKeepsFiringWhenQueueIsFull(t *testing.T) {
	ctx := context.Background()
	queue := &recordingQueue{full: true}
	s := NewScheduler(taskregistry.NewMemory(), queue)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.NoError(t, s.Register(ctx, domain.Source{ID: "f", Name: "full", FetchInterval: 10 * time.Millisecond}))
	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, queue.Jobs())
	assert.Contains(t, s.Armed(), "full_f")
}
