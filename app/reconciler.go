package app

import (
	"context"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"feedpipe/domain"
)

type SnapshotPolicy string

const (
	// SnapshotAlways overwrites the stored feed on every cycle.
	SnapshotAlways SnapshotPolicy = "always"
	// SnapshotNewer overwrites only when the fetched feed carries a newer
	// publication or modification date.
	SnapshotNewer SnapshotPolicy = "newer"
)

type ReconcileOptions struct {
	Snapshot SnapshotPolicy
	// DedupeEntries skips entries whose url is already stored for the feed.
	DedupeEntries bool
}

type Reconciler struct {
	store domain.FeedRepository
	opts  ReconcileOptions
	now   func() time.Time
}

func NewReconciler(store domain.FeedRepository, opts ReconcileOptions) *Reconciler {
	if opts.Snapshot == "" {
		opts.Snapshot = SnapshotAlways
	}
	return &Reconciler{store: store, opts: opts, now: time.Now}
}

// Reconcile writes the feed snapshot and the fetched entries of source in one
// transaction. Store failures come back as *domain.ReconciliationError; item
// normalization errors are returned as they are.
func (r *Reconciler) Reconcile(ctx context.Context, source domain.Source, agg domain.AggregatedFeed) error {
	entries := make([]domain.FeedEntry, 0, len(agg.Items))
	for _, item := range agg.Items {
		normalized, err := Normalize(item)
		if err != nil {
			return err
		}
		entries = append(entries, entryFromAggregated(normalized))
	}

	var inserted int
	err := r.store.WithTx(ctx, func(tx domain.FeedTx) error {
		candidate := feedFromAggregated(source, agg)

		stored, found, err := tx.FindFeed(ctx, source.ID)
		if err != nil {
			return err
		}
		switch {
		case !found:
			if err := tx.InsertFeed(ctx, &candidate); err != nil {
				return err
			}
		case r.opts.Snapshot == SnapshotNewer && !isNewer(stored, candidate):
			log.WithFields(log.Fields{
				"source_id": source.ID,
				"feed_id":   stored.ID,
			}).Debug("Feed snapshot unchanged, keeping stored copy")
			candidate = stored
		default:
			candidate.ID = stored.ID
			candidate.CreatedAt = stored.CreatedAt
			if err := tx.ReplaceFeed(ctx, &candidate); err != nil {
				return err
			}
		}

		batch := entries
		if r.opts.DedupeEntries {
			known, err := tx.EntryURLs(ctx, candidate.ID)
			if err != nil {
				return err
			}
			batch = dedupeEntries(batch, known)
		}
		if len(batch) == 0 {
			return nil
		}

		now := r.now().UTC()
		for i := range batch {
			batch[i].FeedID = candidate.ID
			batch[i].CreatedAt = now
		}
		if err := tx.InsertEntries(ctx, batch); err != nil {
			return err
		}
		inserted = len(batch)
		return nil
	})
	if err != nil {
		return &domain.ReconciliationError{SourceID: source.ID, Err: err}
	}

	entriesInserted.Add(float64(inserted))
	log.WithFields(log.Fields{
		"source_id": source.ID,
		"fetched":   len(entries),
		"inserted":  inserted,
	}).Info("Reconciled feed")
	return nil
}

func feedFromAggregated(source domain.Source, agg domain.AggregatedFeed) domain.Feed {
	link := agg.Link
	if link == "" {
		link = agg.URL
	}
	url := agg.GUIDOrURL()
	if url == "" {
		url = source.URL
	}
	return domain.Feed{
		SourceID:   source.ID,
		Title:      agg.Title,
		Link:       link,
		Summary:    agg.Description,
		TagLine:    agg.Tagline,
		URL:        url,
		Published:  agg.Published,
		Modified:   agg.Modified,
		RawEntries: agg.Items,
	}
}

func entryFromAggregated(agg domain.AggregatedFeed) domain.FeedEntry {
	return domain.FeedEntry{
		Title:     agg.Title,
		Link:      agg.Link,
		Summary:   agg.Description,
		URL:       agg.GUIDOrURL(),
		Published: agg.Published,
		Modified:  agg.Modified,
		Author:    agg.Author,
		Copyright: agg.Copyright,
	}
}

// isNewer reports whether candidate should replace stored. Each date is
// compared with its stored counterpart. Without dates on either side there
// is nothing to compare and the candidate wins.
func isNewer(stored, candidate domain.Feed) bool {
	if stored.Published == nil && stored.Modified == nil {
		return true
	}
	if candidate.Published == nil && candidate.Modified == nil {
		return true
	}
	if candidate.Modified != nil && (domain.Feed{Modified: stored.Modified}).CheckUpdateDate(*candidate.Modified) {
		return true
	}
	if candidate.Published != nil && (domain.Feed{Published: stored.Published}).CheckUpdateDate(*candidate.Published) {
		return true
	}
	return false
}

func dedupeEntries(entries []domain.FeedEntry, known map[string]struct{}) []domain.FeedEntry {
	seen := make(map[string]struct{}, len(entries))
	return lo.Filter(entries, func(e domain.FeedEntry, _ int) bool {
		if e.URL == "" {
			return true
		}
		if _, ok := known[e.URL]; ok {
			return false
		}
		if _, ok := seen[e.URL]; ok {
			return false
		}
		seen[e.URL] = struct{}{}
		return true
	})
}
