package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rebrick/rebrick/internal/cache"
	"github.com/rebrick/rebrick/internal/classifier"
	"github.com/rebrick/rebrick/internal/extract"
	"github.com/rebrick/rebrick/internal/metrics"
	"github.com/rebrick/rebrick/internal/model"
)

// Metadata keys set on a completed analysis.
const (
	MetaSiteName  = "site_name"
	MetaPageTypes = "page_types"
	MetaSkipped   = "skipped_pages"
)

// HTMLDocument is one fetched page before extraction.
type HTMLDocument struct {
	URL  string
	Body []byte
}

// AnalysisService runs site analyses.
type AnalysisService struct {
	store    AnalysisStore
	cache    ClassificationCache
	cacheTTL time.Duration
	locker   Locker
	lockTTL  time.Duration
	events   EventDispatcher
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// NewAnalysisService creates an AnalysisService. classifications may be
// nil to classify every page.
func NewAnalysisService(store AnalysisStore, classifications ClassificationCache, locker Locker, dispatcher EventDispatcher, logger *slog.Logger, recorder metrics.Recorder) *AnalysisService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &AnalysisService{
		store:    store,
		cache:    classifications,
		cacheTTL: cache.DefaultClassificationTTL,
		locker:   locker,
		lockTTL:  DefaultLockTTL,
		events:   dispatcher,
		logger:   logger.With("component", "service.analysis"),
		metrics:  recorder,
	}
}

// SetClassificationTTL overrides how long classifications are cached.
func (s *AnalysisService) SetClassificationTTL(ttl time.Duration) {
	if ttl > 0 {
		s.cacheTTL = ttl
	}
}

// SetLockTTL overrides the aggregate lock lifetime.
func (s *AnalysisService) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// AnalyzeHTML extracts each document and analyses the result. Documents
// that cannot be parsed are skipped and counted in the metadata.
func (s *AnalysisService) AnalyzeHTML(ctx context.Context, siteURL string, docs []HTMLDocument) (*model.SiteAnalysis, error) {
	pages := make([]classifier.Page, 0, len(docs))
	for _, doc := range docs {
		page, err := extract.FromHTML(doc.URL, doc.Body)
		if err != nil {
			s.logger.Warn("skipping unparseable document", "url", doc.URL, "error", err)
			continue
		}
		pages = append(pages, page)
	}
	return s.Analyze(ctx, siteURL, pages)
}

// Analyze classifies every scraped page, extracts its blocks and assets,
// and completes the analysis. When no page survives, the analysis is
// persisted as failed and the completion error is returned with it.
func (s *AnalysisService) Analyze(ctx context.Context, siteURL string, pages []classifier.Page) (*model.SiteAnalysis, error) {
	start := time.Now()

	u, err := model.NewURL(siteURL)
	if err != nil {
		return nil, err
	}
	analysis, err := model.NewSiteAnalysis(u)
	if err != nil {
		return nil, err
	}
	if err := analysis.StartAnalysis(); err != nil {
		return nil, err
	}
	if err := s.store.SaveSiteAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	logger := s.logger.With("analysis_id", analysis.ID(), "url", u.String())
	logger.Info("analysis started", "pages", len(pages))

	scraped := make([]*model.ScrapedPage, 0, len(pages))
	skipped := 0
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			failed, failErr := s.fail(ctx, logger, analysis, start, fmt.Sprintf("analysis interrupted: %v", err))
			if failErr != nil {
				return failed, failErr
			}
			return failed, err
		}
		sp, err := s.buildPage(ctx, p)
		if err != nil {
			logger.Warn("skipping page", "page_url", p.URL, "error", err)
			skipped++
			continue
		}
		scraped = append(scraped, sp)
	}

	if len(scraped) > 0 {
		if err := analysis.AddScrapedPages(scraped); err != nil {
			return nil, err
		}
		for _, sp := range scraped {
			analysis.NotifyContentExtracted(sp.ID(), sp.BlockCount(), sp.AssetCount())
		}
	}
	analysis.UpdateMetadata(map[string]any{
		MetaSiteName:  siteName(u, scraped),
		MetaPageTypes: pageTypeCounts(scraped),
		MetaSkipped:   skipped,
	})

	if err := analysis.CompleteAnalysis(); err != nil {
		failed, failErr := s.fail(ctx, logger, analysis, start, err.Error())
		if failErr != nil {
			return failed, failErr
		}
		return failed, fmt.Errorf("complete analysis: %w", err)
	}

	if err := s.store.SaveSiteAnalysis(ctx, analysis); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}
	dispatch(ctx, s.events, analysis)

	duration := time.Since(start)
	s.metrics.IncAnalysisFinished(string(model.AnalysisCompleted))
	s.metrics.ObserveAnalysisDuration(duration)
	logger.Info("analysis completed",
		"pages", analysis.PageCount(),
		"blocks", analysis.TotalBlocks(),
		"assets", analysis.TotalAssets(),
		"duration_ms", duration.Milliseconds(),
	)
	return analysis, nil
}

// Fail marks an analysis failed, for example when the scraper gives up.
func (s *AnalysisService) Fail(ctx context.Context, id, message string) (*model.SiteAnalysis, error) {
	var analysis *model.SiteAnalysis
	err := withLock(ctx, s.locker, s.lockTTL, model.KindSiteAnalysis, id, func() error {
		a, err := s.store.GetSiteAnalysis(ctx, id)
		if err != nil {
			return err
		}
		if err := a.FailAnalysis(message); err != nil {
			return err
		}
		if err := s.store.SaveSiteAnalysis(ctx, a); err != nil {
			return fmt.Errorf("failed to save analysis: %w", err)
		}
		analysis = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	dispatch(ctx, s.events, analysis)
	s.metrics.IncAnalysisFinished(string(model.AnalysisFailed))
	s.logger.Info("analysis failed", "analysis_id", id, "error", message)
	return analysis, nil
}

// Get loads an analysis.
func (s *AnalysisService) Get(ctx context.Context, id string) (*model.SiteAnalysis, error) {
	return s.store.GetSiteAnalysis(ctx, id)
}

func (s *AnalysisService) fail(ctx context.Context, logger *slog.Logger, analysis *model.SiteAnalysis, start time.Time, message string) (*model.SiteAnalysis, error) {
	if err := analysis.FailAnalysis(message); err != nil {
		return nil, err
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.SaveSiteAnalysis(persistCtx, analysis); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}
	dispatch(persistCtx, s.events, analysis)

	s.metrics.IncAnalysisFinished(string(model.AnalysisFailed))
	s.metrics.ObserveAnalysisDuration(time.Since(start))
	logger.Info("analysis failed", "error", message)
	return analysis, nil
}

func (s *AnalysisService) buildPage(ctx context.Context, p classifier.Page) (*model.ScrapedPage, error) {
	pageURL, err := model.NewURL(p.URL)
	if err != nil {
		return nil, err
	}
	sp, err := model.NewScrapedPage(pageURL, p.Title, p.Text)
	if err != nil {
		return nil, err
	}

	pt := s.classify(ctx, p)
	if err := sp.Classify(pt); err != nil {
		return nil, err
	}
	for _, b := range classifier.ExtractBlocks(p, pt.Type) {
		sp.AddBlock(b)
	}
	for _, a := range classifier.ExtractAssets(p) {
		sp.AddAsset(a)
	}
	return sp, nil
}

// classify consults the cache before running the classifier. Cache
// errors only cost a recomputation.
func (s *AnalysisService) classify(ctx context.Context, p classifier.Page) model.PageType {
	if s.cache == nil {
		pt := classifier.Classify(p)
		s.metrics.IncPageClassified(string(pt.Type))
		return pt
	}

	fp := extract.Fingerprint(p)
	pt, err := s.cache.GetClassification(ctx, fp)
	if err == nil {
		s.metrics.IncClassificationCacheHit()
		s.metrics.IncPageClassified(string(pt.Type))
		return pt
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("classification cache read failed", "page_url", p.URL, "error", err)
	}
	s.metrics.IncClassificationCacheMiss()

	pt = classifier.Classify(p)
	s.metrics.IncPageClassified(string(pt.Type))
	if err := s.cache.SetClassification(ctx, fp, pt, s.cacheTTL); err != nil {
		s.logger.Warn("classification cache write failed", "page_url", p.URL, "error", err)
	}
	return pt
}

// siteName takes the leading segment of the homepage title, falling back
// to the host.
func siteName(u model.URL, pages []*model.ScrapedPage) string {
	for _, p := range pages {
		if p.PageTypeName() != model.PageHomepage {
			continue
		}
		title := p.Title()
		for _, sep := range []string{" | ", " - ", " · "} {
			if i := strings.Index(title, sep); i > 0 {
				title = title[:i]
				break
			}
		}
		if title = strings.TrimSpace(title); title != "" {
			return title
		}
	}
	return strings.TrimPrefix(u.Domain(), "www.")
}

func pageTypeCounts(pages []*model.ScrapedPage) map[string]any {
	counts := map[string]any{}
	for _, p := range pages {
		n, _ := counts[string(p.PageTypeName())].(int)
		counts[string(p.PageTypeName())] = n + 1
	}
	return counts
}
