package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rebrick/rebrick/internal/generate"
	"github.com/rebrick/rebrick/internal/metrics"
	"github.com/rebrick/rebrick/internal/model"
)

// RebuildService generates Bricks pages from a completed analysis.
type RebuildService struct {
	analyses  AnalysisStore
	templates TemplateStore
	rebuilds  RebuildStore
	generator generate.Generator
	locker    Locker
	lockTTL   time.Duration
	events    EventDispatcher
	logger    *slog.Logger
	metrics   metrics.Recorder
}

// NewRebuildService creates a RebuildService.
func NewRebuildService(analyses AnalysisStore, templates TemplateStore, rebuilds RebuildStore, generator generate.Generator, locker Locker, dispatcher EventDispatcher, logger *slog.Logger, recorder metrics.Recorder) *RebuildService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &RebuildService{
		analyses:  analyses,
		templates: templates,
		rebuilds:  rebuilds,
		generator: generator,
		locker:    locker,
		lockTTL:   DefaultLockTTL,
		events:    dispatcher,
		logger:    logger.With("component", "service.rebuild"),
		metrics:   recorder,
	}
}

// SetLockTTL overrides the aggregate lock lifetime.
func (s *RebuildService) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// Rebuild generates one page per classified page type of a completed
// analysis using the given template. A generation failure is persisted on
// the rebuild and returned alongside it.
func (s *RebuildService) Rebuild(ctx context.Context, analysisID, templateID string) (*model.SiteRebuild, error) {
	start := time.Now()

	analysis, err := s.analyses.GetSiteAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if analysis.Status() != model.AnalysisCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrAnalysisNotCompleted, analysisID, analysis.Status())
	}
	tpl, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrTemplateInactive, tpl.Name)
	}

	input := GenerationInput(analysis, tpl)
	if len(input.Pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoGeneratablePages, analysisID)
	}

	rebuild, err := model.NewSiteRebuild(analysis.ID(), tpl.ID)
	if err != nil {
		return nil, err
	}
	if err := s.rebuilds.SaveSiteRebuild(ctx, rebuild); err != nil {
		return nil, fmt.Errorf("failed to save rebuild: %w", err)
	}

	logger := s.logger.With("rebuild_id", rebuild.ID(), "analysis_id", analysisID, "template", tpl.Name)
	logger.Info("generation started", "pages", len(input.Pages))

	pages, err := s.generator.Generate(ctx, input)
	if err != nil {
		return s.fail(ctx, logger, rebuild, fmt.Errorf("generate pages: %w", err))
	}
	if err := rebuild.AddPages(pages); err != nil {
		return s.fail(ctx, logger, rebuild, err)
	}
	if err := rebuild.CompleteGeneration(); err != nil {
		return s.fail(ctx, logger, rebuild, err)
	}

	if err := s.rebuilds.SaveSiteRebuild(ctx, rebuild); err != nil {
		return nil, fmt.Errorf("failed to save rebuild: %w", err)
	}
	dispatch(ctx, s.events, rebuild)

	duration := time.Since(start)
	s.metrics.IncRebuildFinished(string(model.RebuildGenerated))
	s.metrics.ObserveGenerationDuration(duration)
	logger.Info("generation completed",
		"pages", rebuild.PageCount(),
		"elements", rebuild.TotalElementCount(),
		"duration_ms", duration.Milliseconds(),
	)
	return rebuild, nil
}

// SetPreviewURLs records where each generated page can be previewed.
func (s *RebuildService) SetPreviewURLs(ctx context.Context, rebuildID string, urls map[model.PageTypeName]string) (*model.SiteRebuild, error) {
	var rebuild *model.SiteRebuild
	err := withLock(ctx, s.locker, s.lockTTL, model.KindSiteRebuild, rebuildID, func() error {
		rb, err := s.rebuilds.GetSiteRebuild(ctx, rebuildID)
		if err != nil {
			return err
		}
		if err := rb.SetPreviewURLs(urls); err != nil {
			return err
		}
		if err := s.rebuilds.SaveSiteRebuild(ctx, rb); err != nil {
			return fmt.Errorf("failed to save rebuild: %w", err)
		}
		rebuild = rb
		return nil
	})
	if err != nil {
		return nil, err
	}
	dispatch(ctx, s.events, rebuild)
	s.logger.Info("preview ready", "rebuild_id", rebuildID, "pages", len(urls))
	return rebuild, nil
}

// Get loads a rebuild.
func (s *RebuildService) Get(ctx context.Context, id string) (*model.SiteRebuild, error) {
	return s.rebuilds.GetSiteRebuild(ctx, id)
}

func (s *RebuildService) fail(ctx context.Context, logger *slog.Logger, rebuild *model.SiteRebuild, cause error) (*model.SiteRebuild, error) {
	if err := rebuild.Fail(cause.Error()); err != nil {
		return nil, err
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := s.rebuilds.SaveSiteRebuild(persistCtx, rebuild); err != nil {
		return nil, fmt.Errorf("failed to save rebuild: %w", err)
	}
	dispatch(persistCtx, s.events, rebuild)

	s.metrics.IncRebuildFinished(string(model.RebuildFailed))
	logger.Error("generation failed", "error", cause)
	return rebuild, cause
}

// GenerationInput collects the generator input from an analysis: the
// first page of every known type in priority order. Unknown pages are
// left out.
func GenerationInput(analysis *model.SiteAnalysis, tpl *model.PageTemplate) generate.Input {
	name, _ := analysis.Metadata()[MetaSiteName].(string)
	if name == "" {
		name = analysis.URL().Domain()
	}
	in := generate.Input{SiteName: name, Template: tpl}
	for _, t := range model.PageTypeNames {
		if t == model.PageUnknown {
			continue
		}
		pages := analysis.PagesOfType(t)
		if len(pages) == 0 {
			continue
		}
		p := pages[0]
		in.Pages = append(in.Pages, generate.PageInput{
			Type:   t,
			Title:  p.Title(),
			Blocks: p.Blocks(),
			Assets: p.Assets(),
		})
	}
	return in
}
