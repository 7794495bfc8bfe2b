package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rebrick"

// PrometheusRecorder exports Recorder events on its own registry.
type PrometheusRecorder struct {
	pagesClassified     *prometheus.CounterVec
	classificationCache *prometheus.CounterVec
	analysesFinished    *prometheus.CounterVec
	analysisDuration    prometheus.Histogram
	rebuildsFinished    *prometheus.CounterVec
	generationDuration  prometheus.Histogram
	pagesPublished      *prometheus.CounterVec
	deploymentsFinished *prometheus.CounterVec
	publishDuration     prometheus.Histogram
	deploymentQueue     prometheus.Gauge
	eventsPublished     *prometheus.CounterVec
	eventsConsumed      *prometheus.CounterVec
	eventLogLag         prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheus creates and registers all collectors.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()

	p := &PrometheusRecorder{
		pagesClassified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_classified_total",
				Help:      "Scraped pages classified, by page type.",
			},
			[]string{"page_type"},
		),
		classificationCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classification_cache_total",
				Help:      "Classification cache lookups, by result.",
			},
			[]string{"result"},
		),
		analysesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_finished_total",
				Help:      "Site analyses that reached a terminal status.",
			},
			[]string{"status"},
		),
		analysisDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "Time from analysis start to terminal status.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		rebuildsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebuilds_finished_total",
				Help:      "Site rebuilds that finished generation, by status.",
			},
			[]string{"status"},
		),
		generationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Time spent generating element trees for one rebuild.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		pagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_published_total",
				Help:      "Page publish attempts, by status.",
			},
			[]string{"status"},
		),
		deploymentsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_finished_total",
				Help:      "Deployment jobs that finished, by outcome.",
			},
			[]string{"outcome"},
		),
		publishDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Time to publish one page to the CMS.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		deploymentQueue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deployment_queue_depth",
				Help:      "Deployment jobs waiting in the queued status.",
			},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "domain_events_published_total",
				Help:      "Domain events handed to the event sink, by status.",
			},
			[]string{"status"},
		),
		eventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "domain_events_consumed_total",
				Help:      "Domain events read by the event log consumer, by status.",
			},
			[]string{"status"},
		),
		eventLogLag: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_log_lag",
				Help:      "Stream entries pending or not yet delivered to the event log consumer group.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		p.pagesClassified,
		p.classificationCache,
		p.analysesFinished,
		p.analysisDuration,
		p.rebuildsFinished,
		p.generationDuration,
		p.pagesPublished,
		p.deploymentsFinished,
		p.publishDuration,
		p.deploymentQueue,
		p.eventsPublished,
		p.eventsConsumed,
		p.eventLogLag,
	)

	return p
}

// Handler returns an http.Handler for the /metrics endpoint.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) IncPageClassified(pageType string) {
	p.pagesClassified.WithLabelValues(pageType).Inc()
}

func (p *PrometheusRecorder) IncClassificationCacheHit() {
	p.classificationCache.WithLabelValues("hit").Inc()
}

func (p *PrometheusRecorder) IncClassificationCacheMiss() {
	p.classificationCache.WithLabelValues("miss").Inc()
}

func (p *PrometheusRecorder) IncAnalysisFinished(status string) {
	p.analysesFinished.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveAnalysisDuration(duration time.Duration) {
	p.analysisDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncRebuildFinished(status string) {
	p.rebuildsFinished.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveGenerationDuration(duration time.Duration) {
	p.generationDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncPagePublished(status string) {
	p.pagesPublished.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncDeploymentFinished(outcome string) {
	p.deploymentsFinished.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObservePublishDuration(duration time.Duration) {
	p.publishDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetDeploymentQueueDepth(depth int64) {
	p.deploymentQueue.Set(float64(depth))
}

func (p *PrometheusRecorder) IncEventPublished(status string) {
	p.eventsPublished.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncEventConsumed(status string) {
	p.eventsConsumed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) SetEventLogLag(lag int64) {
	p.eventLogLag.Set(float64(lag))
}
