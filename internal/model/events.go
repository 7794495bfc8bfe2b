package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event.
type EventType string

const (
	EventSiteScraped         EventType = "site.scraped"
	EventContentExtracted    EventType = "site.content_extracted"
	EventAnalysisCompleted   EventType = "site.analysis_completed"
	EventRebuildGenerated    EventType = "rebuild.generated"
	EventPreviewCreated      EventType = "rebuild.preview_created"
	EventDeploymentQueued    EventType = "deployment.queued"
	EventPagePublished       EventType = "deployment.page_published"
	EventDeploymentCompleted EventType = "deployment.completed"
)

// Aggregate kinds, used as AggregateType on events.
const (
	KindSiteAnalysis  = "site_analysis"
	KindSiteRebuild   = "site_rebuild"
	KindDeploymentJob = "deployment_job"
)

// DomainEvent is an immutable record of something that happened to an
// aggregate.
type DomainEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	Version       int       `json:"version"`
	OccurredAt    time.Time `json:"occurred_at"`
	Payload       any       `json:"payload"`
}

func newDomainEvent(eventType EventType, aggregateID, kind string, version int, payload any) DomainEvent {
	return DomainEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: kind,
		Version:       version,
		OccurredAt:    now(),
		Payload:       payload,
	}
}

// SiteScrapedPayload is emitted each time pages are added to an analysis.
type SiteScrapedPayload struct {
	URL       string `json:"url"`
	PageCount int    `json:"page_count"`
}

// ContentExtractedPayload reports block extraction for one page.
type ContentExtractedPayload struct {
	PageID     string `json:"page_id"`
	BlockCount int    `json:"block_count"`
	AssetCount int    `json:"asset_count"`
}

// AnalysisCompletedPayload is emitted on both completion and failure.
type AnalysisCompletedPayload struct {
	TotalPages  int    `json:"total_pages"`
	TotalBlocks int    `json:"total_blocks"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// RebuildGeneratedPayload is emitted when generation completes.
type RebuildGeneratedPayload struct {
	PageCount  int    `json:"page_count"`
	TemplateID string `json:"template_id"`
}

// PreviewCreatedPayload carries preview URLs keyed by page type.
type PreviewCreatedPayload struct {
	PreviewURLs map[PageTypeName]string `json:"preview_urls"`
}

// DeploymentQueuedPayload is emitted when a job is created.
type DeploymentQueuedPayload struct {
	RebuildID       string `json:"rebuild_id"`
	WordPressSiteID string `json:"wordpress_site_id"`
}

// PagePublishedPayload is emitted per successfully published page.
type PagePublishedPayload struct {
	PageType        PageTypeName `json:"page_type"`
	WordPressPageID int64        `json:"wordpress_page_id"`
	PageURL         string       `json:"page_url"`
}

// DeploymentCompletedPayload is emitted on both completion and failure.
type DeploymentCompletedPayload struct {
	Success           bool   `json:"success"`
	DeployedPageCount int    `json:"deployed_page_count"`
	ErrorCount        int    `json:"error_count"`
	Error             string `json:"error,omitempty"`
}
