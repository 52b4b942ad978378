package domain

import (
	"context"
	"time"
)

// SourceRepository is the persistence port for sources.
type SourceRepository interface {
	CreateSource(ctx context.Context, s *Source) error
	UpdateSource(ctx context.Context, s *Source) error
	DeleteSource(ctx context.Context, id string) (int64, error)
	GetSource(ctx context.Context, id string) (Source, error)
	GetSourceByName(ctx context.Context, name string) (Source, error)
	ListSources(ctx context.Context, limit int) ([]Source, error)

	// SetFetchStatus writes only the status column and updated_at.
	SetFetchStatus(ctx context.Context, id string, status FetchStatus) error
	// ClaimFetch sets the status to Pending unless another attempt already
	// holds it. A Pending row last touched before staleBefore is claimable.
	ClaimFetch(ctx context.Context, id string, staleBefore time.Time) (bool, error)
}

// FeedRepository is the persistence port for feed snapshots and entries.
type FeedRepository interface {
	WithTx(ctx context.Context, fn func(tx FeedTx) error) error
	GetFeedBySource(ctx context.Context, sourceID string) (Feed, error)
	ListEntries(ctx context.Context, feedID string, limit int) ([]FeedEntry, error)
	CountEntries(ctx context.Context, feedID string) (int, error)
	SetEntryRead(ctx context.Context, entryID string, read bool) (bool, error)
}

// FeedTx is the transactional view the reconciler writes through.
type FeedTx interface {
	FindFeed(ctx context.Context, sourceID string) (Feed, bool, error)
	InsertFeed(ctx context.Context, f *Feed) error
	ReplaceFeed(ctx context.Context, f *Feed) error
	EntryURLs(ctx context.Context, feedID string) (map[string]struct{}, error)
	InsertEntries(ctx context.Context, entries []FeedEntry) error
}

type Store interface {
	SourceRepository
	FeedRepository
	Close() error
}

// FeedFetcher downloads and decodes a feed document.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) (Record, error)
}

// TaskRegistry holds recurring tasks by name.
type TaskRegistry interface {
	Upsert(ctx context.Context, task PeriodicTask) error
	Delete(ctx context.Context, name, task string, args []string) (int, error)
	List(ctx context.Context) ([]PeriodicTask, error)
}
