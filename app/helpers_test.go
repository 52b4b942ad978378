package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedpipe/adapter/rss"
	"feedpipe/adapter/sqlstore"
	"feedpipe/domain"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(sqlstore.DriverSQLite, sqlstore.MemoryDSN)
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func fixture(t *testing.T, name string) domain.Record {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	rec, err := rss.Decode(data)
	require.NoError(t, err)
	return rec
}

func createSource(t *testing.T, store domain.SourceRepository, name string) domain.Source {
	t.Helper()
	src := domain.Source{
		Name:          name,
		URL:           "https://" + name + ".example.com/feed.xml",
		FetchInterval: time.Hour,
		FetchStatus:   domain.FetchDone,
	}
	require.NoError(t, store.CreateSource(context.Background(), &src))
	return src
}

type fetchResult struct {
	rec domain.Record
	err error
}

// scriptedFetcher replays results in order and then keeps returning the
// last one.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

func (f *scriptedFetcher) Fetch(_ context.Context, feedURL string) (domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	r := f.results[i]
	if r.err != nil {
		if fe, ok := r.err.(*domain.FetchError); ok {
			copied := *fe
			copied.URL = feedURL
			return nil, &copied
		}
	}
	return r.rec, r.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fetchFailure() fetchResult {
	return fetchResult{err: &domain.FetchError{Op: "get", Err: context.DeadlineExceeded}}
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []Job
	full bool
}

func (q *recordingQueue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return domain.ErrQueueFull
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}

func entryCount(t *testing.T, store *sqlstore.Store, sourceID string) int {
	t.Helper()
	feed, err := store.GetFeedBySource(context.Background(), sourceID)
	require.NoError(t, err)
	n, err := store.CountEntries(context.Background(), feed.ID)
	require.NoError(t, err)
	return n
}

func sourceStatus(t *testing.T, store *sqlstore.Store, id string) domain.FetchStatus {
	t.Helper()
	src, err := store.GetSource(context.Background(), id)
	require.NoError(t, err)
	return src.FetchStatus
}
