package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"feedpipe/adapter/sqlstore"
	"feedpipe/domain"
	"feedpipe/internal/config"
	"feedpipe/internal/logging"
)

const (
	configKey    = "config"
	logCloserKey = "log-closer"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedpipe",
		Usage: "Fetch RSS, Atom and JSON feeds on a schedule and keep their entries",
		Description: `feedpipe keeps a list of feed sources, fetches each one on its own
		interval, normalizes the result and stores the latest feed snapshot
		together with every fetched entry.

		"feedpipe serve" runs the scheduler, the worker pool and the control API.
		Commands that change sources talk to that daemon; read-only commands go
		straight to the database.

		Flags can generally be set via environment variables, e.g.:

		--config => FEEDPIPE_CONFIG=feedpipe.toml
		--store => FEEDPIPE_STORE=sqlite
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a TOML config file",
				EnvVars: []string{"FEEDPIPE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Store driver (postgres or sqlite)",
				EnvVars: []string{"FEEDPIPE_STORE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"FEEDPIPE_LOG_LEVEL"},
			},
		},
		Before: func(ctx *cli.Context) error {
			cfg, err := config.Load(ctx.String("config"))
			if err != nil {
				return err
			}
			if ctx.IsSet("store") {
				cfg.Store.Driver = ctx.String("store")
			}
			if ctx.IsSet("log-level") {
				cfg.Log.Level = ctx.String("log-level")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			closer, err := logging.Setup(cfg.Log)
			if err != nil {
				return err
			}
			if ctx.App.Metadata == nil {
				ctx.App.Metadata = map[string]any{}
			}
			ctx.App.Metadata[configKey] = cfg
			ctx.App.Metadata[logCloserKey] = closer
			return nil
		},
		After: func(ctx *cli.Context) error {
			if closer, ok := ctx.App.Metadata[logCloserKey].(io.Closer); ok {
				return closer.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			addCmd(),
			listCmd(),
			deleteCmd(),
			articlesCmd(),
			fetchCmd(),
			statusCmd(),
			setIntervalCmd(),
			setWorkersCmd(),
			readCmd(),
			unreadCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func configFrom(ctx *cli.Context) config.Config {
	if cfg, ok := ctx.App.Metadata[configKey].(config.Config); ok {
		return cfg
	}
	return config.Default()
}

// openStore connects to the configured database and applies migrations.
func openStore(cfg config.Config) (*sqlstore.Store, error) {
	dsn := cfg.Postgres.DSN()
	if cfg.Store.Driver == sqlstore.DriverSQLite {
		dsn = cfg.Store.SQLitePath
	}
	store, err := sqlstore.Open(cfg.Store.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// sourceByName reports a missing source by name and wraps any other store
// failure.
func sourceByName(ctx context.Context, sources domain.SourceRepository, name string) (domain.Source, error) {
	src, err := sources.GetSourceByName(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Source{}, fmt.Errorf("source %q not found", name)
	}
	if err != nil {
		return domain.Source{}, fmt.Errorf("could not load source %q: %w", name, err)
	}
	return src, nil
}
