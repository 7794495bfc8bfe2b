package model

import (
	"encoding/json"
	"strings"
	"time"
)

// DeploymentStatus is the lifecycle state of a DeploymentJob.
type DeploymentStatus string

const (
	DeploymentQueued     DeploymentStatus = "queued"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentCompleted  DeploymentStatus = "completed"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

type deploymentCommand string

const (
	deploymentStart    deploymentCommand = "start"
	deploymentRecord   deploymentCommand = "record_page"
	deploymentComplete deploymentCommand = "complete"
	deploymentFail     deploymentCommand = "fail"
	deploymentRollback deploymentCommand = "rollback"
)

// next is the deployment transition table.
func (s DeploymentStatus) next(cmd deploymentCommand) (DeploymentStatus, error) {
	switch cmd {
	case deploymentStart:
		if s == DeploymentQueued {
			return DeploymentInProgress, nil
		}
	case deploymentRecord:
		if s == DeploymentInProgress {
			return DeploymentInProgress, nil
		}
	case deploymentComplete:
		if s == DeploymentInProgress {
			return DeploymentCompleted, nil
		}
	case deploymentFail:
		if s != DeploymentCompleted && s != DeploymentRolledBack {
			return DeploymentFailed, nil
		}
	case deploymentRollback:
		if s == DeploymentCompleted || s == DeploymentFailed {
			return DeploymentRolledBack, nil
		}
	}
	return s, invalidOperation("deployment_job."+string(cmd), "not allowed in status %q", s)
}

// Outcome summarizes a finished job. Status alone does not distinguish a
// job where every page published from one where some failed.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeComplete Outcome = "complete"
	OutcomePartial  Outcome = "partial"
	OutcomeFailed   Outcome = "failed"
)

// DeployedPage is the publisher's report for one successfully published page.
type DeployedPage struct {
	PageType        PageTypeName `json:"page_type"`
	WordPressPageID int64        `json:"wordpress_page_id"`
	URL             string       `json:"url"`
	EditURL         string       `json:"edit_url,omitempty"`
	DeployedAt      time.Time    `json:"deployed_at"`
}

// ErrorLogEntry is one timestamped error message.
type ErrorLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

const (
	rollbackMarker = "deployment rolled back"
	// rollbackErrorPrefix tags errors raised while undoing a deployment.
	// They do not count against the deployment's own outcome.
	rollbackErrorPrefix = "rollback: "
)

// DeploymentJob is the aggregate root for publishing one rebuild. Pages
// succeed or fail independently: successes go to deployedPages, failures
// to the error log, and neither changes the job status.
type DeploymentJob struct {
	aggregateRoot
	rebuildID       string
	wordPressSiteID string
	status          DeploymentStatus
	deployedPages   map[PageTypeName]DeployedPage
	errorLog        []ErrorLogEntry
	startedAt       *time.Time
	completedAt     *time.Time
}

// NewDeploymentJob creates a queued job and emits DeploymentQueued.
func NewDeploymentJob(rebuildID, wordPressSiteID string) (*DeploymentJob, error) {
	if strings.TrimSpace(rebuildID) == "" {
		return nil, validationError("deployment_job", "rebuild id is required")
	}
	if strings.TrimSpace(wordPressSiteID) == "" {
		return nil, validationError("deployment_job", "wordpress site id is required")
	}
	j := &DeploymentJob{
		aggregateRoot:   newAggregateRoot(KindDeploymentJob),
		rebuildID:       rebuildID,
		wordPressSiteID: wordPressSiteID,
		status:          DeploymentQueued,
		deployedPages:   map[PageTypeName]DeployedPage{},
	}
	j.record(EventDeploymentQueued, DeploymentQueuedPayload{
		RebuildID:       rebuildID,
		WordPressSiteID: wordPressSiteID,
	})
	return j, nil
}

func (j *DeploymentJob) RebuildID() string        { return j.rebuildID }
func (j *DeploymentJob) WordPressSiteID() string  { return j.wordPressSiteID }
func (j *DeploymentJob) Status() DeploymentStatus { return j.status }
func (j *DeploymentJob) StartedAt() *time.Time    { return j.startedAt }
func (j *DeploymentJob) CompletedAt() *time.Time  { return j.completedAt }
func (j *DeploymentJob) DeployedPageCount() int   { return len(j.deployedPages) }
func (j *DeploymentJob) ErrorCount() int          { return len(j.errorLog) }

// DeployedPages returns a copy of the per-type results.
func (j *DeploymentJob) DeployedPages() map[PageTypeName]DeployedPage {
	out := make(map[PageTypeName]DeployedPage, len(j.deployedPages))
	for k, v := range j.deployedPages {
		out[k] = v
	}
	return out
}

// DeployedPage returns the result recorded for t.
func (j *DeploymentJob) DeployedPage(t PageTypeName) (DeployedPage, bool) {
	p, ok := j.deployedPages[t]
	return p, ok
}

// ErrorLog returns a copy of the error log.
func (j *DeploymentJob) ErrorLog() []ErrorLogEntry {
	out := make([]ErrorLogEntry, len(j.errorLog))
	copy(out, j.errorLog)
	return out
}

// Duration is completedAt minus createdAt. ok is false until the job ends.
func (j *DeploymentJob) Duration() (d time.Duration, ok bool) {
	if j.completedAt == nil {
		return 0, false
	}
	return j.completedAt.Sub(j.createdAt), true
}

// Outcome derives complete/partial/failed from status and recorded results.
func (j *DeploymentJob) Outcome() Outcome {
	switch j.status {
	case DeploymentCompleted:
		if j.hasPageErrors() {
			return OutcomePartial
		}
		return OutcomeComplete
	case DeploymentFailed:
		return OutcomeFailed
	}
	return OutcomeNone
}

func (j *DeploymentJob) hasPageErrors() bool {
	for _, e := range j.errorLog {
		if e.Message != rollbackMarker && !strings.HasPrefix(e.Message, rollbackErrorPrefix) {
			return true
		}
	}
	return false
}

// StartDeployment moves queued to in_progress.
func (j *DeploymentJob) StartDeployment() error {
	next, err := j.status.next(deploymentStart)
	if err != nil {
		return err
	}
	t := now()
	j.status = next
	j.startedAt = &t
	j.touch()
	return nil
}

// RecordPageDeployment stores a published page, replacing any earlier
// result for the same page type, and emits PagePublished.
func (j *DeploymentJob) RecordPageDeployment(page DeployedPage) error {
	if _, err := j.status.next(deploymentRecord); err != nil {
		return err
	}
	if !page.PageType.IsValid() {
		return validationError("deployment_job.record_page", "unknown page type %q", page.PageType)
	}
	if page.DeployedAt.IsZero() {
		page.DeployedAt = now()
	}
	j.deployedPages[page.PageType] = page
	j.touch()
	j.record(EventPagePublished, PagePublishedPayload{
		PageType:        page.PageType,
		WordPressPageID: page.WordPressPageID,
		PageURL:         page.URL,
	})
	return nil
}

// RecordError appends a timestamped message. Status is unchanged.
func (j *DeploymentJob) RecordError(message string) {
	j.errorLog = append(j.errorLog, ErrorLogEntry{Timestamp: now(), Message: message})
	j.touch()
}

// RecordRollbackError appends a failure to undo a published page. Status
// and Outcome are unchanged.
func (j *DeploymentJob) RecordRollbackError(message string) {
	j.RecordError(rollbackErrorPrefix + message)
}

// CompleteDeployment finishes an in-progress job that published at least
// one page. Errors recorded for other pages do not prevent completion.
func (j *DeploymentJob) CompleteDeployment() error {
	next, err := j.status.next(deploymentComplete)
	if err != nil {
		return err
	}
	if len(j.deployedPages) == 0 {
		return businessRule("deployment_job.complete", "cannot complete deployment with no deployed pages")
	}
	t := now()
	j.status = next
	j.completedAt = &t
	j.bumpVersion()
	j.record(EventDeploymentCompleted, DeploymentCompletedPayload{
		Success:           true,
		DeployedPageCount: len(j.deployedPages),
		ErrorCount:        len(j.errorLog),
	})
	return nil
}

// FailDeployment records message and fails the job. Completed jobs cannot fail.
func (j *DeploymentJob) FailDeployment(message string) error {
	next, err := j.status.next(deploymentFail)
	if err != nil {
		return err
	}
	t := now()
	j.errorLog = append(j.errorLog, ErrorLogEntry{Timestamp: t, Message: message})
	j.status = next
	j.completedAt = &t
	j.bumpVersion()
	j.record(EventDeploymentCompleted, DeploymentCompletedPayload{
		Success:           false,
		DeployedPageCount: len(j.deployedPages),
		ErrorCount:        len(j.errorLog),
		Error:             message,
	})
	return nil
}

// Rollback marks a finished job rolled back.
func (j *DeploymentJob) Rollback() error {
	next, err := j.status.next(deploymentRollback)
	if err != nil {
		return err
	}
	j.errorLog = append(j.errorLog, ErrorLogEntry{Timestamp: now(), Message: rollbackMarker})
	j.status = next
	j.bumpVersion()
	return nil
}

// DeploymentJobSnapshot is the persisted form of a DeploymentJob.
type DeploymentJobSnapshot struct {
	ID              string                        `json:"id"`
	Version         int                           `json:"version"`
	RebuildID       string                        `json:"rebuild_id"`
	WordPressSiteID string                        `json:"wordpress_site_id"`
	Status          DeploymentStatus              `json:"status"`
	DeployedPages   map[PageTypeName]DeployedPage `json:"deployed_pages"`
	ErrorLog        []ErrorLogEntry               `json:"error_log"`
	CreatedAt       time.Time                     `json:"created_at"`
	UpdatedAt       time.Time                     `json:"updated_at"`
	StartedAt       *time.Time                    `json:"started_at,omitempty"`
	CompletedAt     *time.Time                    `json:"completed_at,omitempty"`
}

// Snapshot captures the aggregate for persistence.
func (j *DeploymentJob) Snapshot() DeploymentJobSnapshot {
	return DeploymentJobSnapshot{
		ID:              j.id,
		Version:         j.version,
		RebuildID:       j.rebuildID,
		WordPressSiteID: j.wordPressSiteID,
		Status:          j.status,
		DeployedPages:   j.DeployedPages(),
		ErrorLog:        j.ErrorLog(),
		CreatedAt:       j.createdAt,
		UpdatedAt:       j.updatedAt,
		StartedAt:       j.startedAt,
		CompletedAt:     j.completedAt,
	}
}

// MarshalJSON encodes the snapshot.
func (j *DeploymentJob) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Snapshot())
}

// ReconstituteDeploymentJob rebuilds a job without emitting events.
func ReconstituteDeploymentJob(s DeploymentJobSnapshot) *DeploymentJob {
	pages := make(map[PageTypeName]DeployedPage, len(s.DeployedPages))
	for k, v := range s.DeployedPages {
		pages[k] = v
	}
	return &DeploymentJob{
		aggregateRoot: aggregateRoot{
			id:        s.ID,
			kind:      KindDeploymentJob,
			version:   s.Version,
			createdAt: s.CreatedAt,
			updatedAt: s.UpdatedAt,
		},
		rebuildID:       s.RebuildID,
		wordPressSiteID: s.WordPressSiteID,
		status:          s.Status,
		deployedPages:   pages,
		errorLog:        append([]ErrorLogEntry(nil), s.ErrorLog...),
		startedAt:       s.StartedAt,
		completedAt:     s.CompletedAt,
	}
}
