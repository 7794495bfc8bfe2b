package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/rebrick/rebrick/internal/cache"
	"github.com/rebrick/rebrick/internal/config"
	"github.com/rebrick/rebrick/internal/deploy"
	"github.com/rebrick/rebrick/internal/eventlog"
	"github.com/rebrick/rebrick/internal/events"
	"github.com/rebrick/rebrick/internal/generate"
	"github.com/rebrick/rebrick/internal/metrics"
	"github.com/rebrick/rebrick/internal/model"
	"github.com/rebrick/rebrick/internal/repository"
	"github.com/rebrick/rebrick/internal/service"
	"github.com/rebrick/rebrick/internal/webhook"
	"github.com/rebrick/rebrick/internal/wordpress"
)

// app holds every long-lived dependency of the process.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.PrometheusRecorder
	repo       *repository.Repository
	jobsDB     *sql.DB
	jobs       *deploy.Repository
	cache      *cache.Cache
	nats       *nats.Conn
	dispatcher *events.Dispatcher
	publisher  *wordpress.Client

	analysis   *service.AnalysisService
	rebuild    *service.RebuildService
	deployment *service.DeploymentService
}

// newApp connects to every backing service. Call close when done.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.NewPrometheus()}

	repo, err := repository.New(ctx, cfg.DatabaseURL, repository.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "database_url", redactURL(cfg.DatabaseURL))
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.repo = repo
	logger.Info("connected to database")

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open job store: %w", err)
	}
	a.jobsDB = db
	a.jobs = deploy.NewRepository(db)
	if err := a.jobs.Ping(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("ping job store: %w", err)
	}

	cacheClient, err := cache.New(ctx, cfg.RedisURL, cache.Options{PoolSize: cfg.RedisPoolSize})
	if err != nil {
		logger.Error("failed to connect to Redis", "redis_url", redactURL(cfg.RedisURL))
		a.close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.cache = cacheClient
	logger.Info("connected to Redis")

	sink, err := a.eventSink()
	if err != nil {
		a.close()
		return nil, err
	}
	a.dispatcher = events.NewDispatcher(sink, logger, a.metrics)

	if cfg.PublisherEnabled() {
		a.publisher, err = wordpress.NewClient(wordpress.Config{
			BaseURL:     cfg.WordPressBaseURL,
			Username:    cfg.WordPressUsername,
			AppPassword: cfg.WordPressAppPassword,
			Timeout:     cfg.WordPressTimeout,
			RPS:         cfg.PublishRPS,
			Burst:       cfg.PublishBurst,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("wordpress client: %w", err)
		}
	}

	a.analysis = service.NewAnalysisService(repo, cacheClient, cacheClient, a.dispatcher, logger, a.metrics)
	a.analysis.SetClassificationTTL(cfg.ClassificationCacheTTL)
	a.analysis.SetLockTTL(cfg.AggregateLockTTL)

	a.rebuild = service.NewRebuildService(repo, repo, repo, generate.NewTemplateGenerator(logger), cacheClient, a.dispatcher, logger, a.metrics)
	a.rebuild.SetLockTTL(cfg.AggregateLockTTL)

	var remover service.PageRemover = unconfiguredPublisher{}
	if a.publisher != nil {
		remover = a.publisher
	}
	a.deployment = service.NewDeploymentService(a.jobs, repo, remover, cacheClient, a.dispatcher, logger, a.metrics)
	a.deployment.SetLockTTL(cfg.AggregateLockTTL)

	return a, nil
}

func (a *app) eventSink() (events.Sink, error) {
	sink, err := a.primarySink()
	if err != nil || a.cfg.EventWebhookURL == "" {
		return sink, err
	}

	hook, err := webhook.NewSink(webhook.Config{
		URL:          a.cfg.EventWebhookURL,
		Secret:       a.cfg.EventWebhookSecret,
		AllowPrivate: a.cfg.EventWebhookAllowPrivate,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Info("delivering domain events to webhook", "host", webhook.ExtractHost(a.cfg.EventWebhookURL))
	return events.Fanout{sink, hook}, nil
}

func (a *app) primarySink() (events.Sink, error) {
	switch a.cfg.EventSink {
	case config.EventSinkNATS:
		nc, err := nats.Connect(a.cfg.NATSURL,
			nats.Name("rebrick-worker"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.nats = nc
		a.logger.Info("publishing domain events to NATS", "subject_prefix", a.cfg.EventSubject)
		return events.NewNATSSink(nc, a.cfg.EventSubject), nil
	case config.EventSinkNone:
		a.logger.Warn("domain events are discarded")
		return events.NopSink{}, nil
	default:
		a.logger.Info("publishing domain events to Redis", "stream", a.cfg.EventStream)
		return events.NewRedisSink(a.cache.Client(), a.cfg.EventStream), nil
	}
}

// newWorker builds the deployment worker. It needs a configured publisher.
func (a *app) newWorker() (*deploy.Worker, error) {
	if a.publisher == nil {
		return nil, fmt.Errorf("deployment worker needs WORDPRESS_BASE_URL, WORDPRESS_USERNAME and WORDPRESS_APP_PASSWORD")
	}
	w := deploy.NewWorker(deploy.Deps{
		Jobs:      a.jobs,
		Rebuilds:  a.repo,
		Publisher: a.publisher,
		Locker:    a.cache,
		Limiter:   a.cache,
		Events:    a.dispatcher,
	}, a.logger, a.metrics)
	w.SetBatchSize(a.cfg.DeployBatchSize)
	w.SetPollInterval(a.cfg.DeployPollInterval)
	w.SetRetryPolicy(a.cfg.PublishMaxAttempts, a.cfg.PublishRetryBase)
	w.SetLockTTL(a.cfg.AggregateLockTTL)
	w.SetPublishRate(a.cfg.PublishRPS, a.cfg.PublishBurst)
	return w, nil
}

// newEventLog builds the consumer that records the event stream in
// Postgres. A queued deployment wakes the worker instead of waiting for
// the next poll.
func (a *app) newEventLog(worker *deploy.Worker) *eventlog.Consumer {
	c := eventlog.NewConsumer(a.cache.Client(), a.cfg.EventStream, a.repo, a.logger, eventlog.NewConsumerID(), a.metrics)
	c.SetGroup(a.cfg.EventLogGroup)
	c.OnEvent(func(_ context.Context, e model.DomainEvent) {
		if e.Type == model.EventDeploymentQueued {
			worker.Wake()
		}
	})
	return c
}

// close releases connections in reverse order of creation.
func (a *app) close() {
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.logger.Warn("nats drain failed", "error", err)
		}
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.jobsDB != nil {
		_ = a.jobsDB.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

type unconfiguredPublisher struct{}

func (unconfiguredPublisher) DeletePage(context.Context, string, int64) error {
	return fmt.Errorf("wordpress publisher is not configured")
}
