// Command admitflowd runs the background side of the admission workflow:
// batch pre-validation, the stalled-application sweep and notification
// retries.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anggasct/admitflow/pkg/assignment"
	"github.com/anggasct/admitflow/pkg/config"
	"github.com/anggasct/admitflow/pkg/identity"
	"github.com/anggasct/admitflow/pkg/notify"
	"github.com/anggasct/admitflow/pkg/observers"
	"github.com/anggasct/admitflow/pkg/repository"
	"github.com/anggasct/admitflow/pkg/store"
	"github.com/anggasct/admitflow/pkg/sweep"
	"github.com/anggasct/admitflow/pkg/validation"
	"github.com/anggasct/admitflow/pkg/workflow"
)

func main() {
	if err := run(); err != nil {
		slog.Error("admitflowd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("shutdown", slog.String("error", err.Error()))
			}
		}
	}()

	repo, directory, err := openRepository(cfg, logger)
	if err != nil {
		return err
	}

	documents, err := openDocumentStore(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := documents.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	var queue notify.RetryQueue = notify.NewMemoryQueue()
	if cfg.RedisURL != "" {
		rq, err := notify.OpenRedisQueue(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		closers = append(closers, rq.Close)
		queue = rq
	}

	dispatcher := notify.NewDispatcher(notify.LogNotifier{Logger: logger}, queue,
		notify.WithWorkers(cfg.NotifyWorkers),
		notify.WithMaxAttempts(cfg.RetryMaxAttempts),
		notify.WithDispatcherLogger(logger))

	metrics := observers.NewMetricsObserver()
	svc, err := workflow.New(workflow.Dependencies{
		Repository: repo,
		Documents:  documents,
		Validator:  validation.New(config.EnvSource{}, repo, validation.WithLogger(logger)),
		Assigner:   assignment.NewPolicy(directory, assignment.WithLogger(logger)),
		Directory:  directory,
		Publisher:  dispatcher,
	},
		workflow.WithLogger(logger),
		workflow.WithObserver(observers.NewLoggingObserver(logger, observers.LogWarning, "lifecycle")),
		workflow.WithObserver(metrics),
	)
	if err != nil {
		return err
	}

	sweeper := sweep.New(repo, svc,
		sweep.WithThreshold(cfg.BlockedAfter),
		sweep.WithLogger(logger))

	scheduler := sweep.NewScheduler(logger, 4*time.Minute)
	jobs := []struct {
		spec, name string
		job        sweep.Job
	}{
		{cfg.PreValidationSchedule, "prevalidate", func(ctx context.Context) error {
			_, err := svc.PreValidatePending(ctx)
			return err
		}},
		{cfg.SweepSchedule, "sweep", func(ctx context.Context) error {
			_, err := sweeper.Sweep(ctx)
			return err
		}},
		{cfg.RetrySchedule, "notify-retry", func(ctx context.Context) error {
			_, err := dispatcher.RetryPending(ctx)
			return err
		}},
		{"@every 5m", "metrics", func(ctx context.Context) error {
			return metrics.WritePrometheus(os.Stderr)
		}},
	}
	for _, j := range jobs {
		if err := scheduler.Add(j.spec, j.name, j.job); err != nil {
			return err
		}
	}

	scheduler.Start()
	logger.Info("admitflowd started",
		slog.String("storage", cfg.Storage),
		slog.Bool("postgres", cfg.DatabaseURL != ""),
		slog.Bool("redis", cfg.RedisURL != ""))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return errors.Join(scheduler.Stop(shutdown), dispatcher.Close(shutdown))
}

func openRepository(cfg *config.Config, logger *slog.Logger) (repository.Store, identity.Directory, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("ADMITFLOW_DB_URL not set, using in-memory repository")
		return repository.NewMemoryRepository(), identity.NewStaticDirectory(), nil
	}

	db, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, nil, err
	}
	return repository.NewGormRepository(db), repository.NewGormDirectory(db), nil
}

func openDocumentStore(ctx context.Context, cfg *config.Config) (store.DocumentStore, error) {
	if cfg.Storage == "gcs" {
		gcs, err := store.OpenGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix, cfg.GCSCredentials)
		if err != nil {
			return nil, err
		}
		return gcs, nil
	}
	local, err := store.NewLocalStore(cfg.StorageDir)
	if err != nil {
		return nil, err
	}
	return local, nil
}
