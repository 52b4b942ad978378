package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"feedpipe/domain"
)

// Keeps a single INSERT well under the bind parameter limits of both
// dialects.
const entryBatchSize = 500

var feedColumns = []string{
	"id", "source_id", "title", "link", "summary", "tag_line", "url",
	"published_at", "modified_at", "raw_entries", "created_at", "updated_at",
}

var entryColumns = []string{
	"id", "feed_id", "read", "title", "link", "summary", "url",
	"published_at", "modified_at", "author", "copyright", "created_at",
}

func (s *Store) GetFeedBySource(ctx context.Context, sourceID string) (domain.Feed, error) {
	f, found, err := findFeed(ctx, s.db, s, sourceID)
	if err != nil {
		return domain.Feed{}, err
	}
	if !found {
		return domain.Feed{}, domain.ErrNotFound
	}
	return f, nil
}

func (s *Store) ListEntries(ctx context.Context, feedID string, limit int) ([]domain.FeedEntry, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(entryColumns...).From("feed_entries").
		Where(sb.Equal("feed_id", feedID)).
		OrderBy("created_at DESC", "published_at DESC")
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.FeedEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountEntries(ctx context.Context, feedID string) (int, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(sb.As("COUNT(*)", "n")).From("feed_entries").Where(sb.Equal("feed_id", feedID))
	query, args := sb.Build()
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// SetEntryRead reports whether the flag changed. An unknown entry is
// domain.ErrNotFound.
func (s *Store) SetEntryRead(ctx context.Context, entryID string, read bool) (bool, error) {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("feed_entries").Set(ub.Assign("read", read)).
		Where(ub.Equal("id", entryID), ub.NotEqual("read", read))
	query, args := ub.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	sb := s.flavor.NewSelectBuilder()
	sb.Select("id").From("feed_entries").Where(sb.Equal("id", entryID))
	query, args = sb.Build()
	var id string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return false, translate(err)
	}
	return false, nil
}

type feedTx struct {
	q     queryer
	store *Store
}

func (t *feedTx) FindFeed(ctx context.Context, sourceID string) (domain.Feed, bool, error) {
	return findFeed(ctx, t.q, t.store, sourceID)
}

func (t *feedTx) InsertFeed(ctx context.Context, f *domain.Feed) error {
	raw, err := encodeRawEntries(f.RawEntries)
	if err != nil {
		return err
	}
	now := t.store.timestamp()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt, f.UpdatedAt = now, now

	ib := t.store.flavor.NewInsertBuilder()
	ib.InsertInto("feeds").Cols(feedColumns...).Values(
		f.ID, f.SourceID, f.Title, f.Link, f.Summary, f.TagLine, f.URL,
		nullTime(f.Published), nullTime(f.Modified), raw, f.CreatedAt, f.UpdatedAt,
	)
	query, args := ib.Build()
	if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(translate(err), "insert feed for source %s", f.SourceID)
	}
	return nil
}

// ReplaceFeed overwrites every snapshot column of the stored feed.
func (t *feedTx) ReplaceFeed(ctx context.Context, f *domain.Feed) error {
	raw, err := encodeRawEntries(f.RawEntries)
	if err != nil {
		return err
	}
	f.UpdatedAt = t.store.timestamp()

	ub := t.store.flavor.NewUpdateBuilder()
	ub.Update("feeds").Set(
		ub.Assign("title", f.Title),
		ub.Assign("link", f.Link),
		ub.Assign("summary", f.Summary),
		ub.Assign("tag_line", f.TagLine),
		ub.Assign("url", f.URL),
		ub.Assign("published_at", nullTime(f.Published)),
		ub.Assign("modified_at", nullTime(f.Modified)),
		ub.Assign("raw_entries", raw),
		ub.Assign("updated_at", f.UpdatedAt),
	).Where(ub.Equal("id", f.ID))
	query, args := ub.Build()
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "replace feed %s", f.ID)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *feedTx) EntryURLs(ctx context.Context, feedID string) (map[string]struct{}, error) {
	sb := t.store.flavor.NewSelectBuilder()
	sb.Select("url").From("feed_entries").Where(sb.Equal("feed_id", feedID), sb.NotEqual("url", ""))
	query, args := sb.Build()

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	urls := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls[u] = struct{}{}
	}
	return urls, rows.Err()
}

// InsertEntries assigns missing ids and creation times in place, then
// writes the entries in batches.
func (t *feedTx) InsertEntries(ctx context.Context, entries []domain.FeedEntry) error {
	now := t.store.timestamp()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}

	for _, chunk := range lo.Chunk(entries, entryBatchSize) {
		ib := t.store.flavor.NewInsertBuilder()
		ib.InsertInto("feed_entries").Cols(entryColumns...)
		for _, e := range chunk {
			ib.Values(
				e.ID, e.FeedID, e.Read, e.Title, e.Link, e.Summary, e.URL,
				nullTime(e.Published), nullTime(e.Modified), e.Author, e.Copyright, e.CreatedAt.UTC(),
			)
		}
		query, args := ib.Build()
		if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(translate(err), "insert %d entries", len(chunk))
		}
	}
	return nil
}

func findFeed(ctx context.Context, q queryer, s *Store, sourceID string) (domain.Feed, bool, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").Where(sb.Equal("source_id", sourceID))
	query, args := sb.Build()

	var (
		f                   domain.Feed
		published, modified sql.NullTime
		raw                 string
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&f.ID, &f.SourceID, &f.Title, &f.Link, &f.Summary, &f.TagLine, &f.URL,
		&published, &modified, &raw, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Feed{}, false, nil
	}
	if err != nil {
		return domain.Feed{}, false, err
	}
	f.Published, f.Modified = timePtr(published), timePtr(modified)
	f.CreatedAt, f.UpdatedAt = f.CreatedAt.UTC(), f.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(raw), &f.RawEntries); err != nil {
		return domain.Feed{}, false, errors.Wrapf(err, "decode raw entries of feed %s", f.ID)
	}
	return f, true, nil
}

func scanEntry(row rowScanner) (domain.FeedEntry, error) {
	var (
		e                   domain.FeedEntry
		published, modified sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.FeedID, &e.Read, &e.Title, &e.Link, &e.Summary, &e.URL,
		&published, &modified, &e.Author, &e.Copyright, &e.CreatedAt,
	)
	if err != nil {
		return domain.FeedEntry{}, err
	}
	e.Published, e.Modified = timePtr(published), timePtr(modified)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// encodeRawEntries renders the records as JSON text. It is bound as a string
// so lib/pq does not send it as bytea.
func encodeRawEntries(records []domain.Record) (string, error) {
	if records == nil {
		records = []domain.Record{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", errors.Wrap(err, "encode raw entries")
	}
	return string(b), nil
}
