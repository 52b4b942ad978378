// Package sqlstore persists sources, feed snapshots and entries in
// PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"feedpipe/domain"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// MemoryDSN opens a private in-memory SQLite database.
const MemoryDSN = ":memory:"

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements domain.Store on database/sql.
type Store struct {
	db     *sql.DB
	driver string
	flavor sqlbuilder.Flavor
	now    func() time.Time
}

var _ domain.Store = (*Store)(nil)

// Open connects to the database behind dsn. For SQLite, dsn is a file path
// or MemoryDSN.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		return New(db, driver)
	case DriverSQLite:
		return openSQLite(dsn)
	default:
		return nil, &domain.ConfigurationError{Msg: fmt.Sprintf("unknown store driver %q", driver)}
	}
}

func openSQLite(path string) (*Store, error) {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	if path != MemoryDSN {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+pragmas)
	if err != nil {
		return nil, err
	}
	// SQLite only supports one writer at a time, and an in-memory database
	// lives exactly as long as its single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if path != MemoryDSN {
		db.SetConnMaxIdleTime(time.Hour)
	}
	return New(db, DriverSQLite)
}

// New wraps an open handle. driver selects the SQL dialect.
func New(db *sql.DB, driver string) (*Store, error) {
	s := &Store{db: db, driver: driver, now: time.Now}
	switch driver {
	case DriverPostgres:
		s.flavor = sqlbuilder.PostgreSQL
	case DriverSQLite:
		s.flavor = sqlbuilder.SQLite
	default:
		return nil, &domain.ConfigurationError{Msg: fmt.Sprintf("unknown store driver %q", driver)}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	log.WithField("driver", driver).Debug("Database connected")
	return s, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// WithTx runs fn in one transaction, committing only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.FeedTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
				log.WithField("error", rerr.Error()).Error("Rollback failed")
			}
			return
		}
		err = errors.Wrap(tx.Commit(), "commit transaction")
	}()
	return fn(&feedTx{q: tx, store: s})
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
