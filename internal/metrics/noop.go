package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncPageClassified is a no-op.
func (n *NoopRecorder) IncPageClassified(pageType string) {}

// IncClassificationCacheHit is a no-op.
func (n *NoopRecorder) IncClassificationCacheHit() {}

// IncClassificationCacheMiss is a no-op.
func (n *NoopRecorder) IncClassificationCacheMiss() {}

// IncAnalysisFinished is a no-op.
func (n *NoopRecorder) IncAnalysisFinished(status string) {}

// ObserveAnalysisDuration is a no-op.
func (n *NoopRecorder) ObserveAnalysisDuration(duration time.Duration) {}

// IncRebuildFinished is a no-op.
func (n *NoopRecorder) IncRebuildFinished(status string) {}

// ObserveGenerationDuration is a no-op.
func (n *NoopRecorder) ObserveGenerationDuration(duration time.Duration) {}

// IncPagePublished is a no-op.
func (n *NoopRecorder) IncPagePublished(status string) {}

// IncDeploymentFinished is a no-op.
func (n *NoopRecorder) IncDeploymentFinished(outcome string) {}

// ObservePublishDuration is a no-op.
func (n *NoopRecorder) ObservePublishDuration(duration time.Duration) {}

// SetDeploymentQueueDepth is a no-op.
func (n *NoopRecorder) SetDeploymentQueueDepth(depth int64) {}

// IncEventPublished is a no-op.
func (n *NoopRecorder) IncEventPublished(status string) {}

// IncEventConsumed is a no-op.
func (n *NoopRecorder) IncEventConsumed(status string) {}

// SetEventLogLag is a no-op.
func (n *NoopRecorder) SetEventLogLag(lag int64) {}
