// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the pipeline.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// Classification metrics
	IncPageClassified(pageType string)
	IncClassificationCacheHit()
	IncClassificationCacheMiss()

	// Aggregate lifecycle metrics
	IncAnalysisFinished(status string) // status: "completed" or "failed"
	ObserveAnalysisDuration(duration time.Duration)
	IncRebuildFinished(status string) // status: "generated" or "failed"
	ObserveGenerationDuration(duration time.Duration)

	// Deployment metrics
	IncPagePublished(status string)       // status: "success", "failed", "retried"
	IncDeploymentFinished(outcome string) // outcome: "complete", "partial", "failed", "rolled_back"
	ObservePublishDuration(duration time.Duration)
	SetDeploymentQueueDepth(depth int64)

	// Event sink metrics
	IncEventPublished(status string) // status: "success" or "failed"

	// Event log consumer metrics
	IncEventConsumed(status string) // status: "stored", "dead_lettered", "failed"
	SetEventLogLag(lag int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
