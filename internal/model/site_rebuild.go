package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// RebuildStatus is the lifecycle state of a SiteRebuild.
type RebuildStatus string

const (
	RebuildPending      RebuildStatus = "pending"
	RebuildGenerated    RebuildStatus = "generated"
	RebuildPreviewReady RebuildStatus = "preview_ready"
	RebuildFailed       RebuildStatus = "failed"
)

// IsTerminal reports whether no further progress is possible.
func (s RebuildStatus) IsTerminal() bool {
	return s == RebuildPreviewReady || s == RebuildFailed
}

type rebuildCommand string

const (
	rebuildAddPages   rebuildCommand = "add_pages"
	rebuildComplete   rebuildCommand = "complete_generation"
	rebuildSetPreview rebuildCommand = "set_preview_urls"
	rebuildFail       rebuildCommand = "fail"
)

// next is the rebuild transition table.
func (s RebuildStatus) next(cmd rebuildCommand) (RebuildStatus, error) {
	switch cmd {
	case rebuildAddPages:
		if s != RebuildFailed {
			return s, nil
		}
	case rebuildComplete:
		if s == RebuildPending {
			return RebuildGenerated, nil
		}
	case rebuildSetPreview:
		if s == RebuildGenerated {
			return RebuildPreviewReady, nil
		}
	case rebuildFail:
		if s != RebuildPreviewReady {
			return RebuildFailed, nil
		}
	}
	return s, invalidOperation("site_rebuild."+string(cmd), "not allowed in status %q", s)
}

// SiteRebuild is the aggregate root for one generation run. Pages are
// keyed by page type: adding a page whose type is already present
// replaces the earlier one.
type SiteRebuild struct {
	aggregateRoot
	siteAnalysisID string
	templateID     string
	status         RebuildStatus
	pages          map[PageTypeName]*BricksPageStructure
	previewURLs    map[PageTypeName]string
	errorMessage   string
	generatedAt    *time.Time
}

// NewSiteRebuild creates a pending rebuild for an analysis and template.
func NewSiteRebuild(siteAnalysisID, templateID string) (*SiteRebuild, error) {
	if strings.TrimSpace(siteAnalysisID) == "" {
		return nil, validationError("site_rebuild", "site analysis id is required")
	}
	if strings.TrimSpace(templateID) == "" {
		return nil, validationError("site_rebuild", "template id is required")
	}
	return &SiteRebuild{
		aggregateRoot:  newAggregateRoot(KindSiteRebuild),
		siteAnalysisID: siteAnalysisID,
		templateID:     templateID,
		status:         RebuildPending,
		pages:          map[PageTypeName]*BricksPageStructure{},
		previewURLs:    map[PageTypeName]string{},
	}, nil
}

func (r *SiteRebuild) SiteAnalysisID() string  { return r.siteAnalysisID }
func (r *SiteRebuild) TemplateID() string      { return r.templateID }
func (r *SiteRebuild) Status() RebuildStatus   { return r.status }
func (r *SiteRebuild) ErrorMessage() string    { return r.errorMessage }
func (r *SiteRebuild) GeneratedAt() *time.Time { return r.generatedAt }

// PageCount counts distinct page types.
func (r *SiteRebuild) PageCount() int { return len(r.pages) }

// Page returns the page stored for t.
func (r *SiteRebuild) Page(t PageTypeName) (*BricksPageStructure, bool) {
	p, ok := r.pages[t]
	return p, ok
}

// PageTypes returns the stored page types in priority order.
func (r *SiteRebuild) PageTypes() []PageTypeName {
	out := make([]PageTypeName, 0, len(r.pages))
	for t := range r.pages {
		out = append(out, t)
	}
	sortPageTypes(out)
	return out
}

// Pages returns the stored pages in priority order.
func (r *SiteRebuild) Pages() []*BricksPageStructure {
	types := r.PageTypes()
	out := make([]*BricksPageStructure, 0, len(types))
	for _, t := range types {
		out = append(out, r.pages[t])
	}
	return out
}

// PreviewURLs returns a copy of the preview URLs.
func (r *SiteRebuild) PreviewURLs() map[PageTypeName]string {
	out := make(map[PageTypeName]string, len(r.previewURLs))
	for k, v := range r.previewURLs {
		out[k] = v
	}
	return out
}

// TotalElementCount sums ElementCount over all pages.
func (r *SiteRebuild) TotalElementCount() int {
	total := 0
	for _, p := range r.pages {
		total += p.ElementCount()
	}
	return total
}

// AddPage stores page under its page type, replacing any earlier page of
// the same type.
func (r *SiteRebuild) AddPage(page *BricksPageStructure) error {
	return r.AddPages([]*BricksPageStructure{page})
}

// AddPages stores pages; later pages win on duplicate types.
func (r *SiteRebuild) AddPages(pages []*BricksPageStructure) error {
	if _, err := r.status.next(rebuildAddPages); err != nil {
		return err
	}
	for _, p := range pages {
		if p == nil {
			return validationError("site_rebuild.add_pages", "page cannot be nil")
		}
	}
	for _, p := range pages {
		r.pages[p.PageType()] = p
	}
	if len(pages) > 0 {
		r.touch()
	}
	return nil
}

// CompleteGeneration moves pending to generated. Requires at least one page.
func (r *SiteRebuild) CompleteGeneration() error {
	next, err := r.status.next(rebuildComplete)
	if err != nil {
		return err
	}
	if len(r.pages) == 0 {
		return businessRule("site_rebuild.complete_generation", "cannot complete generation with no pages")
	}
	t := now()
	r.status = next
	r.generatedAt = &t
	r.bumpVersion()
	r.record(EventRebuildGenerated, RebuildGeneratedPayload{
		PageCount:  len(r.pages),
		TemplateID: r.templateID,
	})
	return nil
}

// SetPreviewURLs records preview locations and moves generated to
// preview_ready.
func (r *SiteRebuild) SetPreviewURLs(urls map[PageTypeName]string) error {
	next, err := r.status.next(rebuildSetPreview)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return validationError("site_rebuild.set_preview_urls", "at least one preview url is required")
	}
	clean := make(map[PageTypeName]string, len(urls))
	for t, raw := range urls {
		if !t.IsValid() {
			return validationError("site_rebuild.set_preview_urls", "unknown page type %q", t)
		}
		u, err := NewURL(raw)
		if err != nil {
			return err
		}
		clean[t] = u.String()
	}
	r.previewURLs = clean
	r.status = next
	r.bumpVersion()
	r.record(EventPreviewCreated, PreviewCreatedPayload{PreviewURLs: r.PreviewURLs()})
	return nil
}

// Fail marks the rebuild failed. It only touches the aggregate: the
// version is reserved for completion steps.
func (r *SiteRebuild) Fail(message string) error {
	next, err := r.status.next(rebuildFail)
	if err != nil {
		return err
	}
	r.status = next
	r.errorMessage = message
	r.touch()
	return nil
}

func sortPageTypes(types []PageTypeName) {
	rank := make(map[PageTypeName]int, len(PageTypeNames))
	for i, t := range PageTypeNames {
		rank[t] = i
	}
	sort.Slice(types, func(i, j int) bool { return rank[types[i]] < rank[types[j]] })
}

// SiteRebuildSnapshot is the persisted form of a SiteRebuild.
type SiteRebuildSnapshot struct {
	ID             string                              `json:"id"`
	Version        int                                 `json:"version"`
	SiteAnalysisID string                              `json:"site_analysis_id"`
	TemplateID     string                              `json:"template_id"`
	Status         RebuildStatus                       `json:"status"`
	Pages          map[PageTypeName]BricksPageSnapshot `json:"pages"`
	PreviewURLs    map[PageTypeName]string             `json:"preview_urls"`
	ErrorMessage   string                              `json:"error_message,omitempty"`
	CreatedAt      time.Time                           `json:"created_at"`
	UpdatedAt      time.Time                           `json:"updated_at"`
	GeneratedAt    *time.Time                          `json:"generated_at,omitempty"`
}

// Snapshot captures the aggregate for persistence.
func (r *SiteRebuild) Snapshot() SiteRebuildSnapshot {
	pages := make(map[PageTypeName]BricksPageSnapshot, len(r.pages))
	for t, p := range r.pages {
		pages[t] = p.Snapshot()
	}
	return SiteRebuildSnapshot{
		ID:             r.id,
		Version:        r.version,
		SiteAnalysisID: r.siteAnalysisID,
		TemplateID:     r.templateID,
		Status:         r.status,
		Pages:          pages,
		PreviewURLs:    r.PreviewURLs(),
		ErrorMessage:   r.errorMessage,
		CreatedAt:      r.createdAt,
		UpdatedAt:      r.updatedAt,
		GeneratedAt:    r.generatedAt,
	}
}

// MarshalJSON encodes the snapshot.
func (r *SiteRebuild) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Snapshot())
}

// ReconstituteSiteRebuild rebuilds a rebuild without emitting events.
func ReconstituteSiteRebuild(s SiteRebuildSnapshot) (*SiteRebuild, error) {
	pages := make(map[PageTypeName]*BricksPageStructure, len(s.Pages))
	for t, ps := range s.Pages {
		p, err := ReconstituteBricksPage(ps)
		if err != nil {
			return nil, err
		}
		pages[t] = p
	}
	preview := make(map[PageTypeName]string, len(s.PreviewURLs))
	for k, v := range s.PreviewURLs {
		preview[k] = v
	}
	return &SiteRebuild{
		aggregateRoot: aggregateRoot{
			id:        s.ID,
			kind:      KindSiteRebuild,
			version:   s.Version,
			createdAt: s.CreatedAt,
			updatedAt: s.UpdatedAt,
		},
		siteAnalysisID: s.SiteAnalysisID,
		templateID:     s.TemplateID,
		status:         s.Status,
		pages:          pages,
		previewURLs:    preview,
		errorMessage:   s.ErrorMessage,
		generatedAt:    s.GeneratedAt,
	}, nil
}
