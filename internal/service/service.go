// Package service orchestrates the analysis, rebuild and deployment
// aggregates: it calls the external collaborators, drives the aggregates
// through their commands, persists them, and dispatches their events.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rebrick/rebrick/internal/cache"
	"github.com/rebrick/rebrick/internal/events"
	"github.com/rebrick/rebrick/internal/model"
)

// Service errors.
var (
	ErrAnalysisNotCompleted = errors.New("site analysis is not completed")
	ErrTemplateInactive     = errors.New("page template is inactive")
	ErrNoGeneratablePages   = errors.New("analysis has no classified pages to generate")
	ErrRebuildNotReady      = errors.New("site rebuild is not ready to deploy")
	ErrRollbackIncomplete   = errors.New("rollback could not delete every published page")
)

// DefaultLockTTL bounds how long a crashed caller blocks an aggregate.
const DefaultLockTTL = 2 * time.Minute

// AnalysisStore persists site analyses.
type AnalysisStore interface {
	SaveSiteAnalysis(ctx context.Context, a *model.SiteAnalysis) error
	GetSiteAnalysis(ctx context.Context, id string) (*model.SiteAnalysis, error)
}

// RebuildStore persists site rebuilds.
type RebuildStore interface {
	SaveSiteRebuild(ctx context.Context, rb *model.SiteRebuild) error
	GetSiteRebuild(ctx context.Context, id string) (*model.SiteRebuild, error)
}

// TemplateStore loads page templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*model.PageTemplate, error)
}

// JobStore persists deployment jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.DeploymentJob) error
	GetJob(ctx context.Context, id string) (*model.DeploymentJob, error)
	SaveJob(ctx context.Context, job *model.DeploymentJob) error
}

// ClassificationCache remembers classifications by content fingerprint.
type ClassificationCache interface {
	GetClassification(ctx context.Context, fingerprint string) (model.PageType, error)
	SetClassification(ctx context.Context, fingerprint string, pt model.PageType, ttl time.Duration) error
}

// Locker takes the per-aggregate mutation lock.
type Locker interface {
	AcquireLock(ctx context.Context, kind, id string, ttl time.Duration) (*cache.Lock, error)
}

// EventDispatcher drains aggregate events after each save.
type EventDispatcher interface {
	Dispatch(ctx context.Context, src events.Source) error
}

// withLock runs fn while holding the aggregate's lock.
func withLock(ctx context.Context, locker Locker, ttl time.Duration, kind, id string, fn func() error) error {
	if locker == nil {
		return fn()
	}
	lock, err := locker.AcquireLock(ctx, kind, id, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn()
}

// dispatch publishes pending events. Sink failures are logged by the
// dispatcher and do not fail the command: the snapshot is already saved.
func dispatch(ctx context.Context, d EventDispatcher, src events.Source) {
	if d == nil {
		src.ClearDomainEvents()
		return
	}
	_ = d.Dispatch(ctx, src)
}
