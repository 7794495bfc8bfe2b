package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	PagesClassified         map[string]uint64
	ClassificationCacheHits uint64
	ClassificationCacheMiss uint64
	AnalysesFinished        map[string]uint64
	RebuildsFinished        map[string]uint64
	PagesPublished          map[string]uint64
	DeploymentsFinished     map[string]uint64
	EventsPublished         map[string]uint64
	EventsConsumed          map[string]uint64
	EventLogLag             int64
	PublishDurationCount    uint64
	PublishDurationTotalNs  int64
	DeploymentQueueDepth    int64
	AnalysisDurationCount   uint64
	GenerationDurationCount uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	classificationCacheHits uint64
	classificationCacheMiss uint64
	publishDurationCount    uint64
	publishDurationTotalNs  int64
	deploymentQueueDepth    int64
	analysisDurationCount   uint64
	generationDurationCount uint64
	eventLogLag             int64

	mu                  sync.Mutex
	pagesClassified     map[string]uint64
	analysesFinished    map[string]uint64
	rebuildsFinished    map[string]uint64
	pagesPublished      map[string]uint64
	deploymentsFinished map[string]uint64
	eventsPublished     map[string]uint64
	eventsConsumed      map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		pagesClassified:     map[string]uint64{},
		analysesFinished:    map[string]uint64{},
		rebuildsFinished:    map[string]uint64{},
		pagesPublished:      map[string]uint64{},
		deploymentsFinished: map[string]uint64{},
		eventsPublished:     map[string]uint64{},
		eventsConsumed:      map[string]uint64{},
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		PagesClassified:         copyCounts(m.pagesClassified),
		ClassificationCacheHits: atomic.LoadUint64(&m.classificationCacheHits),
		ClassificationCacheMiss: atomic.LoadUint64(&m.classificationCacheMiss),
		AnalysesFinished:        copyCounts(m.analysesFinished),
		RebuildsFinished:        copyCounts(m.rebuildsFinished),
		PagesPublished:          copyCounts(m.pagesPublished),
		DeploymentsFinished:     copyCounts(m.deploymentsFinished),
		EventsPublished:         copyCounts(m.eventsPublished),
		EventsConsumed:          copyCounts(m.eventsConsumed),
		EventLogLag:             atomic.LoadInt64(&m.eventLogLag),
		PublishDurationCount:    atomic.LoadUint64(&m.publishDurationCount),
		PublishDurationTotalNs:  atomic.LoadInt64(&m.publishDurationTotalNs),
		DeploymentQueueDepth:    atomic.LoadInt64(&m.deploymentQueueDepth),
		AnalysisDurationCount:   atomic.LoadUint64(&m.analysisDurationCount),
		GenerationDurationCount: atomic.LoadUint64(&m.generationDurationCount),
	}
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, label string) {
	m.mu.Lock()
	counts[label]++
	m.mu.Unlock()
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IncPageClassified counts a classification by page type.
func (m *InMemoryRecorder) IncPageClassified(pageType string) {
	m.inc(m.pagesClassified, pageType)
}

// IncClassificationCacheHit increments the cache hit counter.
func (m *InMemoryRecorder) IncClassificationCacheHit() {
	atomic.AddUint64(&m.classificationCacheHits, 1)
}

// IncClassificationCacheMiss increments the cache miss counter.
func (m *InMemoryRecorder) IncClassificationCacheMiss() {
	atomic.AddUint64(&m.classificationCacheMiss, 1)
}

// IncAnalysisFinished counts a finished analysis by status.
func (m *InMemoryRecorder) IncAnalysisFinished(status string) {
	m.inc(m.analysesFinished, status)
}

// ObserveAnalysisDuration records an analysis duration.
func (m *InMemoryRecorder) ObserveAnalysisDuration(duration time.Duration) {
	atomic.AddUint64(&m.analysisDurationCount, 1)
}

// IncRebuildFinished counts a finished rebuild by status.
func (m *InMemoryRecorder) IncRebuildFinished(status string) {
	m.inc(m.rebuildsFinished, status)
}

// ObserveGenerationDuration records a generation duration.
func (m *InMemoryRecorder) ObserveGenerationDuration(duration time.Duration) {
	atomic.AddUint64(&m.generationDurationCount, 1)
}

// IncPagePublished counts a page publish attempt by status.
func (m *InMemoryRecorder) IncPagePublished(status string) {
	m.inc(m.pagesPublished, status)
}

// IncDeploymentFinished counts a finished deployment by outcome.
func (m *InMemoryRecorder) IncDeploymentFinished(outcome string) {
	m.inc(m.deploymentsFinished, outcome)
}

// ObservePublishDuration records a page publish duration.
func (m *InMemoryRecorder) ObservePublishDuration(duration time.Duration) {
	atomic.AddUint64(&m.publishDurationCount, 1)
	atomic.AddInt64(&m.publishDurationTotalNs, duration.Nanoseconds())
}

// SetDeploymentQueueDepth records the number of queued jobs.
func (m *InMemoryRecorder) SetDeploymentQueueDepth(depth int64) {
	atomic.StoreInt64(&m.deploymentQueueDepth, depth)
}

// IncEventPublished counts a domain event handed to a sink.
func (m *InMemoryRecorder) IncEventPublished(status string) {
	m.inc(m.eventsPublished, status)
}

// IncEventConsumed increments the consumed-event counter.
func (m *InMemoryRecorder) IncEventConsumed(status string) {
	m.inc(m.eventsConsumed, status)
}

// SetEventLogLag sets the event log consumer lag.
func (m *InMemoryRecorder) SetEventLogLag(lag int64) {
	atomic.StoreInt64(&m.eventLogLag, lag)
}
