package model

import (
	"encoding/json"
	"time"
)

// AnalysisStatus is the lifecycle state of a SiteAnalysis.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisInProgress AnalysisStatus = "in_progress"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// IsTerminal reports whether no further progress is possible.
func (s AnalysisStatus) IsTerminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

type analysisCommand string

const (
	analysisStart    analysisCommand = "start"
	analysisAddPages analysisCommand = "add_pages"
	analysisComplete analysisCommand = "complete"
	analysisFail     analysisCommand = "fail"
)

// next is the analysis transition table.
func (s AnalysisStatus) next(cmd analysisCommand) (AnalysisStatus, error) {
	switch cmd {
	case analysisStart:
		if s == AnalysisPending {
			return AnalysisInProgress, nil
		}
	case analysisAddPages:
		if s == AnalysisInProgress {
			return AnalysisInProgress, nil
		}
	case analysisComplete:
		if s == AnalysisInProgress {
			return AnalysisCompleted, nil
		}
	case analysisFail:
		if s != AnalysisCompleted {
			return AnalysisFailed, nil
		}
	}
	return s, invalidOperation("site_analysis."+string(cmd), "not allowed in status %q", s)
}

// SiteAnalysis is the aggregate root for one full-site analysis run.
type SiteAnalysis struct {
	aggregateRoot
	url          URL
	status       AnalysisStatus
	metadata     map[string]any
	pages        []*ScrapedPage
	errorMessage string
	completedAt  *time.Time
}

// NewSiteAnalysis creates a pending analysis for url.
func NewSiteAnalysis(siteURL URL) (*SiteAnalysis, error) {
	if siteURL.IsZero() {
		return nil, validationError("site_analysis", "url is required")
	}
	return &SiteAnalysis{
		aggregateRoot: newAggregateRoot(KindSiteAnalysis),
		url:           siteURL,
		status:        AnalysisPending,
		metadata:      map[string]any{},
	}, nil
}

func (a *SiteAnalysis) URL() URL                { return a.url }
func (a *SiteAnalysis) Status() AnalysisStatus  { return a.status }
func (a *SiteAnalysis) ErrorMessage() string    { return a.errorMessage }
func (a *SiteAnalysis) CompletedAt() *time.Time { return a.completedAt }

// Metadata returns a copy of the metadata map.
func (a *SiteAnalysis) Metadata() map[string]any {
	out := make(map[string]any, len(a.metadata))
	for k, v := range a.metadata {
		out[k] = v
	}
	return out
}

// Pages returns the owned pages in insertion order.
func (a *SiteAnalysis) Pages() []*ScrapedPage {
	out := make([]*ScrapedPage, len(a.pages))
	copy(out, a.pages)
	return out
}

// Page finds an owned page by id.
func (a *SiteAnalysis) Page(id string) (*ScrapedPage, bool) {
	for _, p := range a.pages {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// PagesOfType returns the pages classified as t.
func (a *SiteAnalysis) PagesOfType(t PageTypeName) []*ScrapedPage {
	var out []*ScrapedPage
	for _, p := range a.pages {
		if p.PageTypeName() == t {
			out = append(out, p)
		}
	}
	return out
}

func (a *SiteAnalysis) PageCount() int { return len(a.pages) }

// TotalBlocks sums blocks over owned pages.
func (a *SiteAnalysis) TotalBlocks() int {
	total := 0
	for _, p := range a.pages {
		total += p.BlockCount()
	}
	return total
}

// TotalAssets sums assets over owned pages.
func (a *SiteAnalysis) TotalAssets() int {
	total := 0
	for _, p := range a.pages {
		total += p.AssetCount()
	}
	return total
}

// StartAnalysis moves pending to in_progress.
func (a *SiteAnalysis) StartAnalysis() error {
	next, err := a.status.next(analysisStart)
	if err != nil {
		return err
	}
	a.status = next
	a.touch()
	return nil
}

// AddScrapedPage appends one page.
func (a *SiteAnalysis) AddScrapedPage(page *ScrapedPage) error {
	return a.AddScrapedPages([]*ScrapedPage{page})
}

// AddScrapedPages appends pages and emits one SiteScraped event carrying
// the running page count.
func (a *SiteAnalysis) AddScrapedPages(pages []*ScrapedPage) error {
	next, err := a.status.next(analysisAddPages)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if p == nil {
			return validationError("site_analysis.add_pages", "page cannot be nil")
		}
	}
	if len(pages) == 0 {
		return nil
	}
	a.pages = append(a.pages, pages...)
	a.status = next
	a.touch()
	a.record(EventSiteScraped, SiteScrapedPayload{URL: a.url.String(), PageCount: len(a.pages)})
	return nil
}

// NotifyContentExtracted emits a ContentExtracted event. No state changes.
func (a *SiteAnalysis) NotifyContentExtracted(pageID string, blockCount, assetCount int) {
	a.record(EventContentExtracted, ContentExtractedPayload{
		PageID:     pageID,
		BlockCount: blockCount,
		AssetCount: assetCount,
	})
}

// UpdateMetadata merges partial into the metadata map.
func (a *SiteAnalysis) UpdateMetadata(partial map[string]any) {
	if len(partial) == 0 {
		return
	}
	for k, v := range partial {
		a.metadata[k] = v
	}
	a.touch()
}

// CompleteAnalysis finishes an in-progress analysis that has at least one page.
func (a *SiteAnalysis) CompleteAnalysis() error {
	next, err := a.status.next(analysisComplete)
	if err != nil {
		return err
	}
	if len(a.pages) == 0 {
		return businessRule("site_analysis.complete", "cannot complete analysis with no pages")
	}
	t := now()
	a.status = next
	a.completedAt = &t
	a.bumpVersion()
	a.record(EventAnalysisCompleted, AnalysisCompletedPayload{
		TotalPages:  len(a.pages),
		TotalBlocks: a.TotalBlocks(),
		Success:     true,
	})
	return nil
}

// FailAnalysis marks the analysis failed. A completed analysis cannot fail.
func (a *SiteAnalysis) FailAnalysis(message string) error {
	next, err := a.status.next(analysisFail)
	if err != nil {
		return err
	}
	t := now()
	a.status = next
	a.errorMessage = message
	a.completedAt = &t
	a.bumpVersion()
	a.record(EventAnalysisCompleted, AnalysisCompletedPayload{
		TotalPages:  len(a.pages),
		TotalBlocks: a.TotalBlocks(),
		Success:     false,
		Error:       message,
	})
	return nil
}

// SiteAnalysisSnapshot is the persisted form of a SiteAnalysis.
type SiteAnalysisSnapshot struct {
	ID           string                `json:"id"`
	Version      int                   `json:"version"`
	URL          string                `json:"url"`
	Status       AnalysisStatus        `json:"status"`
	Metadata     map[string]any        `json:"metadata"`
	Pages        []ScrapedPageSnapshot `json:"pages"`
	ErrorMessage string                `json:"error_message,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

// Snapshot captures the aggregate for persistence.
func (a *SiteAnalysis) Snapshot() SiteAnalysisSnapshot {
	pages := make([]ScrapedPageSnapshot, 0, len(a.pages))
	for _, p := range a.pages {
		pages = append(pages, p.Snapshot())
	}
	return SiteAnalysisSnapshot{
		ID:           a.id,
		Version:      a.version,
		URL:          a.url.String(),
		Status:       a.status,
		Metadata:     a.Metadata(),
		Pages:        pages,
		ErrorMessage: a.errorMessage,
		CreatedAt:    a.createdAt,
		UpdatedAt:    a.updatedAt,
		CompletedAt:  a.completedAt,
	}
}

// MarshalJSON encodes the snapshot.
func (a *SiteAnalysis) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Snapshot())
}

// ReconstituteSiteAnalysis rebuilds an analysis without emitting events.
func ReconstituteSiteAnalysis(s SiteAnalysisSnapshot) (*SiteAnalysis, error) {
	u, err := NewURL(s.URL)
	if err != nil {
		return nil, err
	}
	pages := make([]*ScrapedPage, 0, len(s.Pages))
	for _, ps := range s.Pages {
		p, err := ReconstituteScrapedPage(ps)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	metadata := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		metadata[k] = v
	}
	return &SiteAnalysis{
		aggregateRoot: aggregateRoot{
			id:        s.ID,
			kind:      KindSiteAnalysis,
			version:   s.Version,
			createdAt: s.CreatedAt,
			updatedAt: s.UpdatedAt,
		},
		url:          u,
		status:       s.Status,
		metadata:     metadata,
		pages:        pages,
		errorMessage: s.ErrorMessage,
		completedAt:  s.CompletedAt,
	}, nil
}
