package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var (
	_ Recorder    = (*NoopRecorder)(nil)
	_ Recorder    = (*InMemoryRecorder)(nil)
	_ Recorder    = (*PrometheusRecorder)(nil)
	_ Snapshotter = (*InMemoryRecorder)(nil)
)

func TestInMemoryRecorder(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	m.IncPageClassified("menu")
	m.IncPageClassified("menu")
	m.IncPageClassified("about")
	m.IncClassificationCacheHit()
	m.IncClassificationCacheMiss()
	m.IncClassificationCacheMiss()
	m.IncPagePublished("success")
	m.IncPagePublished("failed")
	m.IncDeploymentFinished("partial")
	m.ObservePublishDuration(150 * time.Millisecond)
	m.SetDeploymentQueueDepth(4)
	m.SetDeploymentQueueDepth(2)

	snap := m.Snapshot()
	if snap.PagesClassified["menu"] != 2 || snap.PagesClassified["about"] != 1 {
		t.Errorf("PagesClassified = %v", snap.PagesClassified)
	}
	if snap.ClassificationCacheHits != 1 || snap.ClassificationCacheMiss != 2 {
		t.Errorf("cache = %d/%d, want 1/2", snap.ClassificationCacheHits, snap.ClassificationCacheMiss)
	}
	if snap.PagesPublished["success"] != 1 || snap.PagesPublished["failed"] != 1 {
		t.Errorf("PagesPublished = %v", snap.PagesPublished)
	}
	if snap.DeploymentsFinished["partial"] != 1 {
		t.Errorf("DeploymentsFinished = %v", snap.DeploymentsFinished)
	}
	if snap.PublishDurationCount != 1 || snap.PublishDurationTotalNs != int64(150*time.Millisecond) {
		t.Errorf("publish duration = %d/%d", snap.PublishDurationCount, snap.PublishDurationTotalNs)
	}
	if snap.DeploymentQueueDepth != 2 {
		t.Errorf("DeploymentQueueDepth = %d, want 2", snap.DeploymentQueueDepth)
	}

	snap.PagesClassified["menu"] = 99
	if m.Snapshot().PagesClassified["menu"] != 2 {
		t.Error("Snapshot should return copies")
	}
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	t.Parallel()

	p := NewPrometheus()
	p.IncPageClassified("gallery")
	p.IncDeploymentFinished("complete")
	p.ObservePublishDuration(time.Second)
	p.SetDeploymentQueueDepth(3)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`rebrick_pages_classified_total{page_type="gallery"} 1`,
		`rebrick_deployments_finished_total{outcome="complete"} 1`,
		`rebrick_publish_duration_seconds_count 1`,
		`rebrick_deployment_queue_depth 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
