package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"feedpipe/adapter/rss"
	"feedpipe/adapter/taskregistry"
	"feedpipe/app"
	"feedpipe/cli/control"
	"feedpipe/domain"
	"feedpipe/internal/config"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the fetch scheduler, worker pool and control API",
		Description: `Starts the background process that fetches every source on its own
		interval using a worker pool. Only one instance may run per control address.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of fetch workers",
				EnvVars: []string{"FEEDPIPE_WORKERS"},
			},
			&cli.StringFlag{
				Name:    "control-addr",
				Usage:   "Address of the control API",
				EnvVars: []string{"FEEDPIPE_CONTROL_ADDR"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := configFrom(ctx)
			if ctx.IsSet("workers") {
				cfg.Worker.Count = ctx.Int("workers")
			}
			if ctx.IsSet("control-addr") {
				cfg.ControlAddr = ctx.String("control-addr")
			}
			return serve(ctx.Context, cfg)
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	listener, err := control.TryListen(cfg.ControlAddr)
	if err != nil {
		if errors.Is(err, control.ErrAlreadyRunning) {
			fmt.Println("Background process is already running")
			return err
		}
		return fmt.Errorf("failed to start control server: %w", err)
	}
	defer listener.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, closeRegistry, err := openRegistry(parent, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeRegistry()

	fetcher := rss.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.UserAgent)
	normalizer := app.NewNormalizer(fetcher)
	reconciler := app.NewReconciler(store, app.ReconcileOptions{
		Snapshot:      app.SnapshotPolicy(cfg.Fetch.SnapshotPolicy),
		DedupeEntries: cfg.Fetch.DedupeEntries,
	})
	worker := app.NewWorker(store, normalizer, reconciler, app.RetryPolicy{
		Delay:      cfg.Fetch.RetryDelay,
		MaxRetries: cfg.Fetch.MaxRetries,
	}, cfg.Fetch.LeaseTTL)
	pool := app.NewPool(worker, cfg.Worker.Count, cfg.Worker.QueueSize)
	worker.SetQueue(pool)
	scheduler := app.NewScheduler(registry, pool)
	sources := app.NewSourceService(store, normalizer, reconciler, scheduler, pool, cfg.Fetch.LeaseTTL)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	n, err := sources.Resync(ctx)
	if err != nil {
		return fmt.Errorf("failed to register fetch tasks: %w", err)
	}
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		_ = pool.Stop()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	ctrl := control.NewServer(sources, pool, cfg.Fetch.DefaultInterval)
	go func() {
		if err := ctrl.Serve(listener); err != nil {
			log.WithField("error", err.Error()).Error("Control server stopped")
		}
	}()

	fmt.Printf("The background process for fetching feeds has started (sources = %d, workers = %d, control = %s)\n",
		n, cfg.Worker.Count, cfg.ControlAddr)

	<-ctx.Done()

	scheduler.Stop()
	if err := ctrl.Shutdown(); err != nil {
		log.WithField("error", err.Error()).Warn("Control server shutdown")
	}
	if err := pool.Stop(); err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
	} else {
		fmt.Println("Graceful shutdown: workers stopped")
	}
	return nil
}

func openRegistry(ctx context.Context, cfg config.RedisConfig) (domain.TaskRegistry, func(), error) {
	if cfg.Addr == "" {
		return taskregistry.NewMemory(), func() {}, nil
	}
	client, err := taskregistry.DialRedis(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			log.WithField("error", err.Error()).Warn("Closing redis client")
		}
	}
	return taskregistry.NewRedis(client, cfg.Key), closeFn, nil
}
