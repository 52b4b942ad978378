package sqlstore

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Migrate brings the schema up to date. It is safe to run on every start.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrations, "migrations/"+s.driver)
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}

	var driver database.Driver
	switch s.driver {
	case DriverPostgres:
		driver, err = postgres.WithInstance(s.db, &postgres.Config{})
	default:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	}
	if err != nil {
		return errors.Wrap(err, "open migration driver")
	}

	// Not closed: the migrate instance shares s.db.
	m, err := migrate.NewWithInstance("iofs", src, s.driver, driver)
	if err != nil {
		return errors.Wrap(err, "create migrator")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}

	version, dirty, _ := m.Version()
	log.WithFields(log.Fields{"driver": s.driver, "version": version, "dirty": dirty}).Info("Database migrated")
	return nil
}
