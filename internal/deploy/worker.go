package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rebrick/rebrick/internal/cache"
	"github.com/rebrick/rebrick/internal/events"
	"github.com/rebrick/rebrick/internal/metrics"
	"github.com/rebrick/rebrick/internal/model"
)

const (
	// DefaultBatchSize is the number of queued jobs to run per poll.
	DefaultBatchSize = 10
	// DefaultPollInterval is the time between polling for queued jobs.
	DefaultPollInterval = 5 * time.Second
	// DefaultMetricsInterval is how often to update queue depth metrics.
	DefaultMetricsInterval = 10 * time.Second
	// DefaultLockTTL bounds how long a crashed worker blocks a job.
	DefaultLockTTL = 2 * time.Minute
	// DefaultPublishRPS and DefaultPublishBurst pace requests per site.
	DefaultPublishRPS   = 2.0
	DefaultPublishBurst = 4

	minRateLimitWait = 100 * time.Millisecond
)

// ErrWorkerStarted is returned by a second call to Run.
var ErrWorkerStarted = errors.New("worker already started")

// JobStore persists deployment jobs.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*model.DeploymentJob, error)
	SaveJob(ctx context.Context, job *model.DeploymentJob) error
	ListQueuedJobIDs(ctx context.Context, limit int) ([]string, error)
	GetQueueDepth(ctx context.Context) (int64, error)
}

// RebuildLoader loads the rebuild a job publishes.
type RebuildLoader interface {
	GetSiteRebuild(ctx context.Context, id string) (*model.SiteRebuild, error)
}

// Publisher creates and removes pages on a WordPress site.
type Publisher interface {
	PublishPage(ctx context.Context, siteID string, page *model.BricksPageStructure) (model.DeployedPage, error)
	DeletePage(ctx context.Context, siteID string, wordPressPageID int64) error
}

// Locker takes the per-aggregate mutation lock.
type Locker interface {
	AcquireLock(ctx context.Context, kind, id string, ttl time.Duration) (*cache.Lock, error)
}

// RateLimiter paces publish requests per WordPress site.
type RateLimiter interface {
	CheckPublishRateLimit(ctx context.Context, siteID string, ratePerSecond float64, burst int) (*cache.RateLimitResult, error)
}

// EventDispatcher drains aggregate events after each save.
type EventDispatcher interface {
	Dispatch(ctx context.Context, src events.Source) error
}

// Deps are the collaborators a Worker needs.
type Deps struct {
	Jobs      JobStore
	Rebuilds  RebuildLoader
	Publisher Publisher
	Locker    Locker
	Limiter   RateLimiter
	Events    EventDispatcher
}

// Worker runs queued deployment jobs.
type Worker struct {
	deps            Deps
	logger          *slog.Logger
	metrics         metrics.Recorder
	batchSize       int
	pollInterval    time.Duration
	metricsInterval time.Duration
	lastMetrics     time.Time
	maxAttempts     int
	retryBase       time.Duration
	lockTTL         time.Duration
	publishRPS      float64
	publishBurst    int
	wake            chan struct{}

	mu      sync.Mutex
	started bool
}

// NewWorker creates a new deployment worker.
func NewWorker(deps Deps, logger *slog.Logger, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		deps:            deps,
		logger:          logger.With("component", "deploy.worker"),
		metrics:         recorder,
		batchSize:       DefaultBatchSize,
		pollInterval:    DefaultPollInterval,
		metricsInterval: DefaultMetricsInterval,
		maxAttempts:     DefaultMaxAttempts,
		retryBase:       DefaultRetryBase,
		lockTTL:         DefaultLockTTL,
		publishRPS:      DefaultPublishRPS,
		publishBurst:    DefaultPublishBurst,
		wake:            make(chan struct{}, 1),
	}
}

// Wake asks a running worker to poll now instead of at the next tick.
// Calls never block; wakes arriving during a poll collapse into one.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrWorkerStarted
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("deployment worker started",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("deployment worker stopping")
			return ctx.Err()
		case <-ticker.C:
		case <-w.wake:
		}
		if err := w.processOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			w.logger.Error("process error", "error", err)
		}
	}
}

// processOnce fetches and runs a batch of queued jobs.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	ids, err := w.deps.Jobs.ListQueuedJobIDs(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.RunJob(ctx, id); err != nil {
			w.logger.Warn("deployment job failed to run",
				"job_id", id,
				"error", err,
			)
		}
	}

	return nil
}

// RunJob publishes every page of a queued job's rebuild. Pages succeed or
// fail independently; the job completes when at least one page was
// published and fails otherwise. Jobs locked by another worker or no
// longer queued are skipped.
func (w *Worker) RunJob(ctx context.Context, id string) error {
	lock, err := w.deps.Locker.AcquireLock(ctx, model.KindDeploymentJob, id, w.lockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		w.logger.Debug("job locked by another worker", "job_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock job %s: %w", id, err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn("failed to release job lock", "job_id", id, "error", err)
		}
	}()

	job, err := w.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("load job %s: %w", id, err)
	}
	if job.Status() != model.DeploymentQueued {
		w.logger.Debug("job no longer queued", "job_id", id, "status", job.Status())
		return nil
	}

	logger := w.logger.With(
		"job_id", id,
		"rebuild_id", job.RebuildID(),
		"wordpress_site_id", job.WordPressSiteID(),
	)

	if err := job.StartDeployment(); err != nil {
		return err
	}
	if err := w.deps.Jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save started job %s: %w", id, err)
	}
	logger.Info("deployment started")

	rebuild, err := w.deps.Rebuilds.GetSiteRebuild(ctx, job.RebuildID())
	if err != nil {
		return w.fail(ctx, logger, job, fmt.Sprintf("load rebuild: %v", err))
	}
	if s := rebuild.Status(); s != model.RebuildGenerated && s != model.RebuildPreviewReady {
		return w.fail(ctx, logger, job, fmt.Sprintf("rebuild is %s, not generated", s))
	}

	for _, page := range rebuild.Pages() {
		if ctx.Err() != nil {
			job.RecordError(fmt.Sprintf("deployment interrupted before publishing %s page", page.PageType()))
			continue
		}
		w.publishPage(ctx, logger, job, page)
	}

	return w.finish(ctx, logger, job)
}

// publishPage publishes one page, retrying retryable failures with
// backoff. The outcome lands on the job: a deployed page or an error.
func (w *Worker) publishPage(ctx context.Context, logger *slog.Logger, job *model.DeploymentJob, page *model.BricksPageStructure) {
	siteID := job.WordPressSiteID()
	pageLogger := logger.With("page_type", page.PageType())

	for attempt := 1; ; attempt++ {
		if err := w.waitForToken(ctx, siteID); err != nil {
			w.recordPageFailure(pageLogger, job, page, attempt, err)
			return
		}

		start := time.Now()
		deployed, err := w.deps.Publisher.PublishPage(ctx, siteID, page)
		duration := time.Since(start)
		w.metrics.ObservePublishDuration(duration)

		if err == nil {
			deployed.PageType = page.PageType()
			if err := job.RecordPageDeployment(deployed); err != nil {
				w.recordPageFailure(pageLogger, job, page, attempt, err)
				return
			}
			pageLogger.Info("page published",
				"wordpress_page_id", deployed.WordPressPageID,
				"attempt", attempt,
				"duration_ms", duration.Milliseconds(),
			)
			w.metrics.IncPagePublished("success")
			return
		}

		if !IsRetryable(err) || IsExhausted(attempt, w.maxAttempts) || ctx.Err() != nil {
			w.recordPageFailure(pageLogger, job, page, attempt, err)
			return
		}

		delay := NextRetryDelay(w.retryBase, attempt)
		pageLogger.Warn("page publish failed, retrying",
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
		w.metrics.IncPagePublished("retried")

		if err := sleep(ctx, delay); err != nil {
			w.recordPageFailure(pageLogger, job, page, attempt, err)
			return
		}
	}
}

func (w *Worker) recordPageFailure(logger *slog.Logger, job *model.DeploymentJob, page *model.BricksPageStructure, attempt int, err error) {
	job.RecordError(fmt.Sprintf("publish %s page: %v", page.PageType(), err))
	logger.Warn("page publish failed",
		"attempt", attempt,
		"error", err,
	)
	w.metrics.IncPagePublished("failed")
}

// waitForToken blocks until the site's bucket grants a request.
func (w *Worker) waitForToken(ctx context.Context, siteID string) error {
	if w.deps.Limiter == nil {
		return nil
	}
	for {
		res, err := w.deps.Limiter.CheckPublishRateLimit(ctx, siteID, w.publishRPS, w.publishBurst)
		if err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		if res.Allowed {
			return nil
		}
		wait := res.RetryAfter
		if wait < minRateLimitWait {
			wait = minRateLimitWait
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// finish completes or fails a started job and persists it. Persistence
// ignores cancellation so an interrupted run still records its results.
func (w *Worker) finish(ctx context.Context, logger *slog.Logger, job *model.DeploymentJob) error {
	if job.DeployedPageCount() == 0 {
		return w.fail(ctx, logger, job, "no pages published")
	}
	if err := job.CompleteDeployment(); err != nil {
		return err
	}
	return w.persistFinished(ctx, logger, job)
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *model.DeploymentJob, message string) error {
	if err := job.FailDeployment(message); err != nil {
		return err
	}
	return w.persistFinished(ctx, logger, job)
}

func (w *Worker) persistFinished(ctx context.Context, logger *slog.Logger, job *model.DeploymentJob) error {
	persistCtx := context.WithoutCancel(ctx)
	if err := w.deps.Jobs.SaveJob(persistCtx, job); err != nil {
		return fmt.Errorf("save finished job %s: %w", job.ID(), err)
	}
	if w.deps.Events != nil {
		// The dispatcher logs sink failures.
		_ = w.deps.Events.Dispatch(persistCtx, job)
	}

	outcome := job.Outcome()
	w.metrics.IncDeploymentFinished(string(outcome))

	attrs := []any{
		"outcome", outcome,
		"deployed_pages", job.DeployedPageCount(),
		"errors", job.ErrorCount(),
	}
	if d, ok := job.Duration(); ok {
		attrs = append(attrs, "duration_ms", d.Milliseconds())
	}
	if outcome == model.OutcomeFailed {
		logger.Error("deployment failed", attrs...)
	} else {
		logger.Info("deployment finished", attrs...)
	}
	return nil
}

// maybeUpdateQueueDepth periodically updates queue depth metric.
func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	depth, err := w.deps.Jobs.GetQueueDepth(ctx)
	if err != nil {
		w.logger.Warn("failed to get queue depth", "error", err)
		return
	}
	w.metrics.SetDeploymentQueueDepth(depth)
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetPollInterval overrides the default poll interval.
func (w *Worker) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		w.pollInterval = interval
	}
}

// SetRetryPolicy overrides the per-page attempt limit and backoff base.
func (w *Worker) SetRetryPolicy(maxAttempts int, base time.Duration) {
	if maxAttempts > 0 {
		w.maxAttempts = maxAttempts
	}
	if base > 0 {
		w.retryBase = base
	}
}

// SetLockTTL overrides the job lock lifetime.
func (w *Worker) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		w.lockTTL = ttl
	}
}

// SetPublishRate overrides the per-site token bucket.
func (w *Worker) SetPublishRate(ratePerSecond float64, burst int) {
	if ratePerSecond > 0 && burst > 0 {
		w.publishRPS = ratePerSecond
		w.publishBurst = burst
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
