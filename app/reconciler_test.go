package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpipe/domain"
)

func TestReconcileCreatesOneFeedAndAppendsEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, "engineering")
	agg, err := Normalize(fixture(t, "rss10.xml"))
	require.NoError(t, err)

	r := NewReconciler(store, ReconcileOptions{})
	require.NoError(t, r.Reconcile(ctx, src, agg))

	feed, err := store.GetFeedBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Example Engineering", feed.Title)
	assert.Equal(t, "https://blog.example.com/", feed.Link)
	assert.Equal(t, src.URL, feed.URL)
	assert.Len(t, feed.RawEntries, 10)
	assert.Equal(t, 10, entryCount(t, store, src.ID))

	// A second cycle replaces the snapshot and appends another batch.
	require.NoError(t, r.Reconcile(ctx, src, agg))
	again, err := store.GetFeedBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, feed.ID, again.ID)
	assert.Equal(t, 20, entryCount(t, store, src.ID))

	entries, err := store.ListEntries(ctx, feed.ID, 0)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.Read)
		assert.NotEmpty(t, e.URL)
	}
}

func TestReconcileDedupeEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, "dedupe")
	agg, err := Normalize(fixture(t, "rss10.xml"))
	require.NoError(t, err)

	r := NewReconciler(store, ReconcileOptions{DedupeEntries: true})
	require.NoError(t, r.Reconcile(ctx, src, agg))
	require.NoError(t, r.Reconcile(ctx, src, agg))

	assert.Equal(t, 10, entryCount(t, store, src.ID))
}

func TestReconcileNewerPolicyKeepsStoredSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, "newer")
	agg, err := Normalize(fixture(t, "rss10.xml"))
	require.NoError(t, err)

	r := NewReconciler(store, ReconcileOptions{Snapshot: SnapshotNewer})
	require.NoError(t, r.Reconcile(ctx, src, agg))

	same := agg
	same.Title = "Renamed without new dates"
	require.NoError(t, r.Reconcile(ctx, src, same))
	feed, err := store.GetFeedBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Example Engineering", feed.Title)
	assert.Equal(t, 20, entryCount(t, store, src.ID))

	later := agg.Modified.Add(time.Second)
	newer := agg
	newer.Title = "Renamed with new dates"
	newer.Modified = &later
	require.NoError(t, r.Reconcile(ctx, src, newer))
	feed, err = store.GetFeedBySource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed with new dates", feed.Title)
}

func TestReconcileWithoutItems(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, "empty")

	r := NewReconciler(store, ReconcileOptions{})
	require.NoError(t, r.Reconcile(ctx, src, domain.AggregatedFeed{Title: "Nothing yet"}))

	assert.Equal(t, 0, entryCount(t, store, src.ID))
}

func TestReconcileBadItemDateWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, "broken")
	agg, err := Normalize(fixture(t, "bad_date.xml"))
	require.NoError(t, err)

	err = NewReconciler(store, ReconcileOptions{}).Reconcile(ctx, src, agg)
	var te *domain.TypeConversionError
	require.ErrorAs(t, err, &te)

	_, err = store.GetFeedBySource(ctx, src.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// failingEntries fails every entry insert after the feed row was written.
type failingEntries struct {
	domain.FeedRepository
}

type failingTx struct {
	domain.FeedTx
}

func (f failingEntries) WithTx(ctx context.Context, fn func(tx domain.FeedTx) error) error {
	return f.FeedRepository.WithTx(ctx, func(tx domain.FeedTx) error {
		return fn(failingTx{tx})
	})
}

func (failingTx) InsertEntries(context.Context, []domain.FeedEntry) error {
	return errors.New("disk full")
}

func TestReconcileRollsBackOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	src := createSource(t, store, "rollback")
	agg, err := Normalize(fixture(t, "rss10.xml"))
	require.NoError(t, err)

	err = NewReconciler(failingEntries{store}, ReconcileOptions{}).Reconcile(ctx, src, agg)
	var re *domain.ReconciliationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, src.ID, re.SourceID)
	assert.False(t, domain.IsTransient(err))

	_, err = store.GetFeedBySource(ctx, src.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
