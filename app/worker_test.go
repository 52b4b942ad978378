package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpipe/adapter/sqlstore"
	"feedpipe/domain"
)

func newTestWorker(store *sqlstore.Store, fetcher domain.FeedFetcher, policy RetryPolicy) *Worker {
	return NewWorker(store, NewNormalizer(fetcher), NewReconciler(store, ReconcileOptions{}), policy, 15*time.Minute)
}

// statusOf is safe to call from Eventually conditions.
func statusOf(store *sqlstore.Store, id string) domain.FetchStatus {
	src, err := store.GetSource(context.Background(), id)
	if err != nil {
		return -1
	}
	return src.FetchStatus
}

func TestWorkerRetriesTransientFailuresThenSucceeds(t *testing.T) {
	store := newTestStore(t)
	src := createSource(t, store, "flaky")
	fetcher := &scriptedFetcher{results: []fetchResult{
		fetchFailure(),
		fetchFailure(),
		{rec: fixture(t, "rss10.xml")},
	}}

	w := newTestWorker(store, fetcher, RetryPolicy{Delay: 10 * time.Millisecond, MaxRetries: 3})
	pool := NewPool(w, 1, 8)
	w.SetQueue(pool)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.NoError(t, pool.Enqueue(Job{SourceID: src.ID}))

	require.Eventually(t, func() bool {
		return fetcher.Calls() == 3 && statusOf(store, src.ID) == domain.FetchDone
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 10, entryCount(t, store, src.ID))
}

func TestWorkerMarksFailedWhenRetriesAreExhausted(t *testing.T) {
	store := newTestStore(t)
	src := createSource(t, store, "down")
	fetcher := &scriptedFetcher{results: []fetchResult{fetchFailure()}}

	w := newTestWorker(store, fetcher, RetryPolicy{Delay: 10 * time.Millisecond, MaxRetries: 2})
	pool := NewPool(w, 1, 8)
	w.SetQueue(pool)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.NoError(t, pool.Enqueue(Job{SourceID: src.ID}))

	require.Eventually(t, func() bool {
		return statusOf(store, src.ID) == domain.FetchFailed
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, fetcher.Calls())

	_, err := store.GetFeedBySource(context.Background(), src.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWorkerRetryKeepsSourceID(t *testing.T) {
	store := newTestStore(t)
	src := createSource(t, store, "retry")
	queue := &recordingQueue{}

	w := newTestWorker(store, &scriptedFetcher{results: []fetchResult{fetchFailure()}}, RetryPolicy{Delay: time.Millisecond, MaxRetries: 1})
	w.SetQueue(queue)

	require.NoError(t, w.Run(context.Background(), Job{SourceID: src.ID}))
	assert.Equal(t, domain.FetchPending, sourceStatus(t, store, src.ID))

	require.Eventually(t, func() bool { return len(queue.Jobs()) == 1 }, time.Second, 5*time.Millisecond)
	retry := queue.Jobs()[0]
	assert.Equal(t, src.ID, retry.SourceID)
	assert.True(t, retry.Claimed)
	assert.Equal(t, 1, retry.Attempt)

	// The second attempt runs out of budget.
	require.NoError(t, w.Run(context.Background(), retry))
	assert.Equal(t, domain.FetchFailed, sourceStatus(t, store, src.ID))
}

func TestWorkerSkipsSourceWithFetchInFlight(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, "busy")
	require.NoError(t, store.SetFetchStatus(ctx, src.ID, domain.FetchPending))
	fetcher := &scriptedFetcher{results: []fetchResult{{rec: fixture(t, "rss10.xml")}}}

	w := newTestWorker(store, fetcher, DefaultRetryPolicy())
	require.NoError(t, w.Run(ctx, Job{SourceID: src.ID}))

	assert.Zero(t, fetcher.Calls())
	assert.Equal(t, domain.FetchPending, sourceStatus(t, store, src.ID))
}

func TestWorkerReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, "stuck")
	require.NoError(t, store.SetFetchStatus(ctx, src.ID, domain.FetchPending))
	fetcher := &scriptedFetcher{results: []fetchResult{{rec: fixture(t, "rss10.xml")}}}

	w := newTestWorker(store, fetcher, DefaultRetryPolicy())
	w.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, w.Run(ctx, Job{SourceID: src.ID}))

	assert.Equal(t, 1, fetcher.Calls())
	assert.Equal(t, domain.FetchDone, sourceStatus(t, store, src.ID))
}

func TestWorkerReturnsUnexpectedErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, "buggy")
	boom := errors.New("boom")
	queue := &recordingQueue{}

	w := newTestWorker(store, &scriptedFetcher{results: []fetchResult{{err: boom}}}, DefaultRetryPolicy())
	w.SetQueue(queue)

	err := w.Run(ctx, Job{SourceID: src.ID})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, queue.Jobs())
	assert.Equal(t, domain.FetchPending, sourceStatus(t, store, src.ID))
}

func TestWorkerIgnoresEmptyAndUnknownSources(t *testing.T) {
	store := newTestStore(t)
	fetcher := &scriptedFetcher{results: []fetchResult{fetchFailure()}}
	w := newTestWorker(store, fetcher, DefaultRetryPolicy())

	assert.NoError(t, w.Run(context.Background(), Job{}))
	assert.NoError(t, w.Run(context.Background(), Job{SourceID: uuid.NewString()}))
	assert.Zero(t, fetcher.Calls())
}

func TestRetryPolicyBudget(t *testing.T) {
	b := RetryPolicy{Delay: time.Minute, MaxRetries: 2}.newBackOff()
	assert.Equal(t, time.Minute, b.NextBackOff())
	assert.Equal(t, time.Minute, b.NextBackOff())
	assert.Less(t, b.NextBackOff(), time.Duration(0))

	unlimited := RetryPolicy{Delay: time.Second, MaxRetries: -1}.newBackOff()
	for i := 0; i < 100; i++ {
		require.Equal(t, time.Second, unlimited.NextBackOff())
	}
}
