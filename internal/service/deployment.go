package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rebrick/rebrick/internal/metrics"
	"github.com/rebrick/rebrick/internal/model"
)

// PageRemover deletes published pages.
type PageRemover interface {
	DeletePage(ctx context.Context, siteID string, wordPressPageID int64) error
}

// RebuildLoader loads rebuilds.
type RebuildLoader interface {
	GetSiteRebuild(ctx context.Context, id string) (*model.SiteRebuild, error)
}

// DeploymentService queues and rolls back deployments. Queued jobs are
// run by deploy.Worker.
type DeploymentService struct {
	jobs     JobStore
	rebuilds RebuildLoader
	pages    PageRemover
	locker   Locker
	lockTTL  time.Duration
	events   EventDispatcher
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// NewDeploymentService creates a DeploymentService.
func NewDeploymentService(jobs JobStore, rebuilds RebuildLoader, pages PageRemover, locker Locker, dispatcher EventDispatcher, logger *slog.Logger, recorder metrics.Recorder) *DeploymentService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &DeploymentService{
		jobs:     jobs,
		rebuilds: rebuilds,
		pages:    pages,
		locker:   locker,
		lockTTL:  DefaultLockTTL,
		events:   dispatcher,
		logger:   logger.With("component", "service.deployment"),
		metrics:  recorder,
	}
}

// SetLockTTL overrides the aggregate lock lifetime.
func (s *DeploymentService) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// Deploy queues a job publishing a generated rebuild to a WordPress site.
func (s *DeploymentService) Deploy(ctx context.Context, rebuildID, wordPressSiteID string) (*model.DeploymentJob, error) {
	rebuild, err := s.rebuilds.GetSiteRebuild(ctx, rebuildID)
	if err != nil {
		return nil, err
	}
	if st := rebuild.Status(); st != model.RebuildGenerated && st != model.RebuildPreviewReady {
		return nil, fmt.Errorf("%w: %s is %s", ErrRebuildNotReady, rebuildID, st)
	}

	job, err := model.NewDeploymentJob(rebuild.ID(), wordPressSiteID)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create deployment job: %w", err)
	}
	dispatch(ctx, s.events, job)

	s.logger.Info("deployment queued",
		"job_id", job.ID(),
		"rebuild_id", rebuildID,
		"wordpress_site_id", wordPressSiteID,
		"pages", rebuild.PageCount(),
	)
	return job, nil
}

// Rollback deletes every page a finished job published and marks it
// rolled back. If any delete fails the job keeps its status, the failures
// are added to its error log, and ErrRollbackIncomplete is returned.
func (s *DeploymentService) Rollback(ctx context.Context, jobID string) (*model.DeploymentJob, error) {
	var job *model.DeploymentJob
	err := withLock(ctx, s.locker, s.lockTTL, model.KindDeploymentJob, jobID, func() error {
		j, err := s.jobs.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		job = j
		if st := j.Status(); st != model.DeploymentCompleted && st != model.DeploymentFailed {
			// Surfaces the aggregate's invalid-operation error.
			return j.Rollback()
		}
		return s.rollback(ctx, j)
	})
	if err != nil && !errors.Is(err, ErrRollbackIncomplete) {
		return nil, err
	}
	return job, err
}

func (s *DeploymentService) rollback(ctx context.Context, job *model.DeploymentJob) error {
	logger := s.logger.With("job_id", job.ID(), "wordpress_site_id", job.WordPressSiteID())

	failed := 0
	for _, t := range model.PageTypeNames {
		page, ok := job.DeployedPage(t)
		if !ok {
			continue
		}
		if err := s.pages.DeletePage(ctx, job.WordPressSiteID(), page.WordPressPageID); err != nil {
			failed++
			job.RecordRollbackError(fmt.Sprintf("delete %s page %d: %v", t, page.WordPressPageID, err))
			logger.Warn("failed to delete published page",
				"page_type", t,
				"wordpress_page_id", page.WordPressPageID,
				"error", err,
			)
		}
	}

	persistCtx := context.WithoutCancel(ctx)
	if failed > 0 {
		if err := s.jobs.SaveJob(persistCtx, job); err != nil {
			return fmt.Errorf("failed to save deployment job: %w", err)
		}
		return fmt.Errorf("%w: %d of %d pages", ErrRollbackIncomplete, failed, job.DeployedPageCount())
	}

	if err := job.Rollback(); err != nil {
		return err
	}
	if err := s.jobs.SaveJob(persistCtx, job); err != nil {
		return fmt.Errorf("failed to save deployment job: %w", err)
	}
	dispatch(persistCtx, s.events, job)

	s.metrics.IncDeploymentFinished("rolled_back")
	logger.Info("deployment rolled back", "deleted_pages", job.DeployedPageCount())
	return nil
}

// Get loads a deployment job.
func (s *DeploymentService) Get(ctx context.Context, id string) (*model.DeploymentJob, error) {
	return s.jobs.GetJob(ctx, id)
}
