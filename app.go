package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nedaZarei/PagesDeployService/config"
	"github.com/nedaZarei/PagesDeployService/pkg/archive"
	"github.com/nedaZarei/PagesDeployService/pkg/codegen"
	"github.com/nedaZarei/PagesDeployService/pkg/db"
	"github.com/nedaZarei/PagesDeployService/pkg/deploy"
	"github.com/nedaZarei/PagesDeployService/pkg/events"
	"github.com/nedaZarei/PagesDeployService/pkg/logging"
	"github.com/nedaZarei/PagesDeployService/pkg/notify"
	"github.com/nedaZarei/PagesDeployService/pkg/report"
	"github.com/nedaZarei/PagesDeployService/pkg/repostore"
	"github.com/nedaZarei/PagesDeployService/pkg/retry"
	"github.com/nedaZarei/PagesDeployService/service"
)

type app struct {
	service *service.Service
	log     zerolog.Logger
	closers []func() error
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// build wires every component from cfg. On error, whatever was opened is closed.
func build(ctx context.Context, cfg *config.Config, out io.Writer) (_ *app, err error) {
	logger, logFile, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		File:   cfg.Log.File,
	}, out, cfg.Secrets()...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{log: logger, closers: []func() error{logFile.Close}}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	registry, err := openRegistry(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	store, err := repostore.NewClient(repostore.Config{
		Owner:   cfg.GitHub.Username,
		Token:   cfg.GitHub.Token,
		Branch:  cfg.GitHub.Branch,
		BaseURL: cfg.GitHub.APIURL,
		Timeout: cfg.GitHub.Timeout,
		Retry:   retry.Policy{MaxAttempts: cfg.GitHub.MaxAttempts, BaseDelay: cfg.GitHub.RetryDelay},
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Generator.APIKey == "" {
		logger.Warn().Msg("AIPIPE_API_KEY is not set, every generation request will fail")
	}
	generator := codegen.NewClient(codegen.Config{
		URL:     cfg.Generator.URL,
		APIKey:  cfg.Generator.APIKey,
		Model:   cfg.Generator.Model,
		Timeout: cfg.Generator.Timeout,
	}, logger)

	reporter := report.NewReporter(cfg.Evaluation.Timeout, retry.Policy{
		MaxAttempts: cfg.Evaluation.MaxAttempts,
		BaseDelay:   cfg.Evaluation.BaseDelay,
	}, logger)

	deps := deploy.Dependencies{
		Store:     store,
		Generator: generator,
		Registry:  registry,
		Reporter:  reporter,
		Logger:    logger,
	}

	if cfg.Minio.Enabled {
		arch, err := archive.NewMinio(archive.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Secure:    cfg.Minio.Secure,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := arch.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info().Str("endpoint", cfg.Minio.Endpoint).Msg("connected to Minio")
		deps.Archive = arch
	}

	if cfg.RabbitMQ.Enabled {
		publisher, err := events.Dial(events.Config{
			Host:     cfg.RabbitMQ.Host,
			Port:     cfg.RabbitMQ.Port,
			Username: cfg.RabbitMQ.Username,
			Password: cfg.RabbitMQ.Password,
			Queue:    cfg.RabbitMQ.Queue,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, publisher.Close)
		logger.Info().Msg("connected to RabbitMQ")
		deps.Events = publisher
	}

	if cfg.Email.Enabled {
		deps.Notifier = notify.New(notify.Config{
			APIKey:    cfg.Email.APIKey,
			FromName:  cfg.Email.FromName,
			FromEmail: cfg.Email.FromEmail,
		}, logger)
	}

	a.service = service.NewService(cfg, deploy.New(deps), registry, logger)
	return a, nil
}

func openRegistry(ctx context.Context, cfg *config.Config, a *app) (db.Registry, error) {
	if cfg.Registry.Driver != config.RegistryPostgres {
		a.log.Info().Msg("using in-memory task registry, entries are lost on restart")
		return db.NewMemoryRegistry(), nil
	}

	dB, err := sqlx.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	a.closers = append(a.closers, dB.Close)
	if err := dB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	registry, err := db.NewPostgresRegistry(ctx, cfg.Postgres.AutoCreate, dB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task registry: %w", err)
	}
	a.log.Info().Str("host", cfg.Postgres.Host).Msg("connected to Postgres")
	return registry, nil
}

// serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully within the configured timeout.
func serve(ctx context.Context, cfg *config.Config, out io.Writer) error {
	a, err := build(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil {
			a.log.Warn().Err(cerr).Msg("error while releasing resources")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.service.StartService)
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.service.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
