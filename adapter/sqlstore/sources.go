package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"feedpipe/domain"
)

var sourceColumns = []string{
	"id", "user_id", "name", "url", "fetch_interval_seconds", "fetch_status", "created_at", "updated_at",
}

func (s *Store) CreateSource(ctx context.Context, src *domain.Source) error {
	now := s.timestamp()
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	src.CreatedAt, src.UpdatedAt = now, now

	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("sources").Cols(sourceColumns...).Values(
		src.ID, src.UserID, src.Name, src.URL, int64(src.FetchInterval/time.Second),
		int(src.FetchStatus), src.CreatedAt, src.UpdatedAt,
	)
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(translate(err), "insert source %s", src.Name)
	}
	return nil
}

// UpdateSource writes the user-editable columns. The fetch status is left
// alone; see SetFetchStatus.
func (s *Store) UpdateSource(ctx context.Context, src *domain.Source) error {
	src.UpdatedAt = s.timestamp()

	ub := s.flavor.NewUpdateBuilder()
	ub.Update("sources").Set(
		ub.Assign("user_id", src.UserID),
		ub.Assign("name", src.Name),
		ub.Assign("url", src.URL),
		ub.Assign("fetch_interval_seconds", int64(src.FetchInterval/time.Second)),
		ub.Assign("updated_at", src.UpdatedAt),
	).Where(ub.Equal("id", src.ID))
	query, args := ub.Build()
	return s.execOne(ctx, query, args...)
}

func (s *Store) DeleteSource(ctx context.Context, id string) (int64, error) {
	del := s.flavor.NewDeleteBuilder()
	del.DeleteFrom("sources").Where(del.Equal("id", id))
	query, args := del.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetSource(ctx context.Context, id string) (domain.Source, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(sourceColumns...).From("sources").Where(sb.Equal("id", id))
	query, args := sb.Build()
	return scanSource(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Store) GetSourceByName(ctx context.Context, name string) (domain.Source, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(sourceColumns...).From("sources").Where(sb.Equal("name", name))
	query, args := sb.Build()
	return scanSource(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Store) ListSources(ctx context.Context, limit int) ([]domain.Source, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(sourceColumns...).From("sources").OrderBy("created_at").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) SetFetchStatus(ctx context.Context, id string, status domain.FetchStatus) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("sources").Set(
		ub.Assign("fetch_status", int(status)),
		ub.Assign("updated_at", s.timestamp()),
	).Where(ub.Equal("id", id))
	query, args := ub.Build()
	return s.execOne(ctx, query, args...)
}

// ClaimFetch moves the source to Pending in a single conditional update, so
// two callers racing for the same source cannot both win.
func (s *Store) ClaimFetch(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("sources").Set(
		ub.Assign("fetch_status", int(domain.FetchPending)),
		ub.Assign("updated_at", s.timestamp()),
	).Where(
		ub.Equal("id", id),
		ub.Or(
			ub.NotEqual("fetch_status", int(domain.FetchPending)),
			ub.LessThan("updated_at", staleBefore.UTC()),
		),
	)
	query, args := ub.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetSource(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (domain.Source, error) {
	var (
		src      domain.Source
		interval int64
		status   int
	)
	err := row.Scan(&src.ID, &src.UserID, &src.Name, &src.URL, &interval, &status, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Source{}, domain.ErrNotFound
		}
		return domain.Source{}, err
	}
	src.FetchInterval = time.Duration(interval) * time.Second
	src.FetchStatus = domain.FetchStatus(status)
	src.CreatedAt = src.CreatedAt.UTC()
	src.UpdatedAt = src.UpdatedAt.UTC()
	return src, nil
}
