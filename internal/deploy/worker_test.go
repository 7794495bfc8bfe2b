package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rebrick/rebrick/internal/cache"
	"github.com/rebrick/rebrick/internal/events"
	"github.com/rebrick/rebrick/internal/metrics"
	"github.com/rebrick/rebrick/internal/model"
)

const testSite = "https://wp.trattoria-roma.example"

type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]model.DeploymentJobSnapshot
}

func newMemJobStore(jobs ...*model.DeploymentJob) *memJobStore {
	s := &memJobStore{jobs: map[string]model.DeploymentJobSnapshot{}}
	for _, j := range jobs {
		s.jobs[j.ID()] = j.Snapshot()
	}
	return s
}

func (s *memJobStore) GetJob(_ context.Context, id string) (*model.DeploymentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return model.ReconstituteDeploymentJob(snap), nil
}

func (s *memJobStore) SaveJob(_ context.Context, job *model.DeploymentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID()] = job.Snapshot()
	return nil
}

func (s *memJobStore) ListQueuedJobIDs(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, snap := range s.jobs {
		if snap.Status == model.DeploymentQueued && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memJobStore) GetQueueDepth(ctx context.Context) (int64, error) {
	ids, err := s.ListQueuedJobIDs(ctx, 1<<30)
	return int64(len(ids)), err
}

type memRebuilds map[string]*model.SiteRebuild

func (m memRebuilds) GetSiteRebuild(_ context.Context, id string) (*model.SiteRebuild, error) {
	rb, ok := m[id]
	if !ok {
		return nil, model.NotFound(model.KindSiteRebuild, id)
	}
	return rb, nil
}

type permanentError struct{ msg string }

func (e *permanentError) Error() string   { return e.msg }
func (e *permanentError) Retryable() bool { return false }

// scriptedPublisher fails a page type with the queued errors before
// succeeding.
type scriptedPublisher struct {
	mu       sync.Mutex
	failures map[model.PageTypeName][]error
	calls    map[model.PageTypeName]int
	deleted  []int64
	nextID   int64
}

func newScriptedPublisher() *scriptedPublisher {
	return &scriptedPublisher{
		failures: map[model.PageTypeName][]error{},
		calls:    map[model.PageTypeName]int{},
		nextID:   100,
	}
}

func (p *scriptedPublisher) PublishPage(_ context.Context, siteID string, page *model.BricksPageStructure) (model.DeployedPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := page.PageType()
	p.calls[t]++
	if queue := p.failures[t]; len(queue) > 0 {
		err := queue[0]
		p.failures[t] = queue[1:]
		return model.DeployedPage{}, err
	}
	p.nextID++
	return model.DeployedPage{
		WordPressPageID: p.nextID,
		URL:             siteID + "/" + page.Slug(),
	}, nil
}

func (p *scriptedPublisher) DeletePage(_ context.Context, _ string, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, id)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.DomainEvent
}

func (s *recordingSink) Publish(_ context.Context, evts []model.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evts...)
	return nil
}

type workerEnv struct {
	worker    *Worker
	jobs      *memJobStore
	publisher *scriptedPublisher
	cache     *cache.Cache
	sink      *recordingSink
	metrics   *metrics.InMemoryRecorder
	job       *model.DeploymentJob
}

func newGeneratedRebuild(t *testing.T, types ...model.PageTypeName) *model.SiteRebuild {
	t.Helper()

	rb, err := model.NewSiteRebuild("analysis-1", "template-1")
	if err != nil {
		t.Fatalf("NewSiteRebuild() error = %v", err)
	}
	for _, pt := range types {
		page, err := model.NewBricksPageStructure(pt, strings.ToUpper(string(pt[:1]))+string(pt[1:]), "", []*model.BricksElement{
			model.Section(nil, model.Heading(string(pt), "h1")),
		})
		if err != nil {
			t.Fatalf("NewBricksPageStructure() error = %v", err)
		}
		if err := rb.AddPage(page); err != nil {
			t.Fatalf("AddPage() error = %v", err)
		}
	}
	if len(types) > 0 {
		if err := rb.CompleteGeneration(); err != nil {
			t.Fatalf("CompleteGeneration() error = %v", err)
		}
	}
	return rb
}

func newWorkerEnv(t *testing.T, rebuild *model.SiteRebuild) *workerEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewWithClient(client)

	job, err := model.NewDeploymentJob(rebuild.ID(), testSite)
	if err != nil {
		t.Fatalf("NewDeploymentJob() error = %v", err)
	}
	job.ClearDomainEvents()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := metrics.NewInMemory()
	sink := &recordingSink{}
	jobs := newMemJobStore(job)
	pub := newScriptedPublisher()

	w := NewWorker(Deps{
		Jobs:      jobs,
		Rebuilds:  memRebuilds{rebuild.ID(): rebuild},
		Publisher: pub,
		Locker:    c,
		Limiter:   c,
		Events:    events.NewDispatcher(sink, logger, rec),
	}, logger, rec)
	w.SetRetryPolicy(3, time.Millisecond)
	w.SetPublishRate(1000, 100)

	return &workerEnv{
		worker:    w,
		jobs:      jobs,
		publisher: pub,
		cache:     c,
		sink:      sink,
		metrics:   rec,
		job:       job,
	}
}

func (e *workerEnv) reload(t *testing.T) *model.DeploymentJob {
	t.Helper()
	job, err := e.jobs.GetJob(context.Background(), e.job.ID())
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	return job
}

func TestWorker_RunJob_AllPagesPublished(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t, model.PageHomepage, model.PageMenu, model.PageContact)
	env := newWorkerEnv(t, rb)

	if err := env.worker.RunJob(context.Background(), env.job.ID()); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	job := env.reload(t)
	if job.Status() != model.DeploymentCompleted {
		t.Fatalf("Status = %s, want completed", job.Status())
	}
	if job.Outcome() != model.OutcomeComplete {
		t.Errorf("Outcome = %s, want complete", job.Outcome())
	}
	if job.DeployedPageCount() != 3 {
		t.Errorf("DeployedPageCount = %d, want 3", job.DeployedPageCount())
	}
	page, ok := job.DeployedPage(model.PageMenu)
	if !ok || page.URL != testSite+"/menu" {
		t.Errorf("DeployedPage(menu) = %+v, %v", page, ok)
	}
	if job.StartedAt() == nil || job.CompletedAt() == nil {
		t.Error("started and completed times should be set")
	}

	// 3 PagePublished + 1 DeploymentCompleted
	if len(env.sink.events) != 4 {
		t.Fatalf("dispatched %d events, want 4", len(env.sink.events))
	}
	last := env.sink.events[3]
	if last.Type != model.EventDeploymentCompleted {
		t.Errorf("last event = %s, want %s", last.Type, model.EventDeploymentCompleted)
	}

	snap := env.metrics.Snapshot()
	if snap.PagesPublished["success"] != 3 {
		t.Errorf("PagesPublished[success] = %d, want 3", snap.PagesPublished["success"])
	}
	if snap.DeploymentsFinished["complete"] != 1 {
		t.Errorf("DeploymentsFinished[complete] = %d, want 1", snap.DeploymentsFinished["complete"])
	}
}

func TestWorker_RunJob_PartialFailure(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t, model.PageHomepage, model.PageMenu, model.PageAbout)
	env := newWorkerEnv(t, rb)
	env.publisher.failures[model.PageMenu] = []error{&permanentError{msg: "HTTP 400: invalid meta"}}

	if err := env.worker.RunJob(context.Background(), env.job.ID()); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	job := env.reload(t)
	if job.Status() != model.DeploymentCompleted {
		t.Fatalf("Status = %s, want completed", job.Status())
	}
	if job.Outcome() != model.OutcomePartial {
		t.Errorf("Outcome = %s, want partial", job.Outcome())
	}
	if job.DeployedPageCount() != 2 || job.ErrorCount() != 1 {
		t.Errorf("deployed = %d, errors = %d; want 2, 1", job.DeployedPageCount(), job.ErrorCount())
	}
	if msg := job.ErrorLog()[0].Message; !strings.Contains(msg, "menu") || !strings.Contains(msg, "HTTP 400") {
		t.Errorf("error message = %q", msg)
	}
	if env.publisher.calls[model.PageMenu] != 1 {
		t.Errorf("permanent failure retried: %d calls", env.publisher.calls[model.PageMenu])
	}
	if env.metrics.Snapshot().DeploymentsFinished["partial"] != 1 {
		t.Error("expected a partial deployment to be recorded")
	}
}

func TestWorker_RunJob_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t, model.PageGallery)
	env := newWorkerEnv(t, rb)
	env.publisher.failures[model.PageGallery] = []error{
		errors.New("connection reset"),
		errors.New("HTTP 503"),
	}

	if err := env.worker.RunJob(context.Background(), env.job.ID()); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	job := env.reload(t)
	if job.Outcome() != model.OutcomeComplete {
		t.Errorf("Outcome = %s, want complete", job.Outcome())
	}
	if env.publisher.calls[model.PageGallery] != 3 {
		t.Errorf("calls = %d, want 3", env.publisher.calls[model.PageGallery])
	}
	if got := env.metrics.Snapshot().PagesPublished["retried"]; got != 2 {
		t.Errorf("PagesPublished[retried] = %d, want 2", got)
	}
}

func TestWorker_RunJob_AllPagesFail(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t, model.PageHomepage, model.PageHours)
	env := newWorkerEnv(t, rb)
	for _, pt := range []model.PageTypeName{model.PageHomepage, model.PageHours} {
		env.publisher.failures[pt] = []error{
			errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
		}
	}

	if err := env.worker.RunJob(context.Background(), env.job.ID()); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	job := env.reload(t)
	if job.Status() != model.DeploymentFailed {
		t.Fatalf("Status = %s, want failed", job.Status())
	}
	if job.Outcome() != model.OutcomeFailed {
		t.Errorf("Outcome = %s, want failed", job.Outcome())
	}
	// two page errors plus the failure reason
	if job.ErrorCount() != 3 {
		t.Errorf("ErrorCount = %d, want 3", job.ErrorCount())
	}
	if env.publisher.calls[model.PageHomepage] != 3 {
		t.Errorf("attempts = %d, want 3", env.publisher.calls[model.PageHomepage])
	}
}

func TestWorker_RunJob_RebuildNotGenerated(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t)
	env := newWorkerEnv(t, rb)

	if err := env.worker.RunJob(context.Background(), env.job.ID()); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	job := env.reload(t)
	if job.Status() != model.DeploymentFailed {
		t.Fatalf("Status = %s, want failed", job.Status())
	}
	if msg := job.ErrorLog()[0].Message; !strings.Contains(msg, "pending") {
		t.Errorf("error message = %q", msg)
	}
}

func TestWorker_RunJob_SkipsLockedJob(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t, model.PageHomepage)
	env := newWorkerEnv(t, rb)
	ctx := context.Background()

	lock, err := env.cache.AcquireLock(ctx, model.KindDeploymentJob, env.job.ID(), time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer lock.Release(ctx)

	if err := env.worker.RunJob(ctx, env.job.ID()); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if job := env.reload(t); job.Status() != model.DeploymentQueued {
		t.Errorf("Status = %s, want queued", job.Status())
	}
	if len(env.publisher.calls) != 0 {
		t.Error("locked job must not publish")
	}
}

func TestWorker_RunJob_SkipsFinishedJob(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t, model.PageHomepage)
	env := newWorkerEnv(t, rb)
	ctx := context.Background()

	if err := env.worker.RunJob(ctx, env.job.ID()); err != nil {
		t.Fatalf("first RunJob() error = %v", err)
	}
	if err := env.worker.RunJob(ctx, env.job.ID()); err != nil {
		t.Fatalf("second RunJob() error = %v", err)
	}
	if env.publisher.calls[model.PageHomepage] != 1 {
		t.Errorf("finished job was published again: %d calls", env.publisher.calls[model.PageHomepage])
	}
}

func TestWorker_RunJob_UnknownJob(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, newGeneratedRebuild(t, model.PageHomepage))

	err := env.worker.RunJob(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunJob() error = %v, want ErrJobNotFound", err)
	}
}

func TestWorker_RunJob_Cancelled(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t, model.PageHomepage, model.PageMenu)
	env := newWorkerEnv(t, rb)

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel while the homepage is retrying.
	env.publisher.failures[model.PageHomepage] = []error{errors.New("slow")}
	env.worker.SetRetryPolicy(3, time.Hour)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := env.worker.RunJob(ctx, env.job.ID()); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	job := env.reload(t)
	if job.Status() != model.DeploymentFailed {
		t.Fatalf("Status = %s, want failed", job.Status())
	}
	found := false
	for _, e := range job.ErrorLog() {
		if strings.Contains(e.Message, "interrupted") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an interruption entry in %+v", job.ErrorLog())
	}
}

func TestWorker_ProcessOnce(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t, model.PageHomepage)
	env := newWorkerEnv(t, rb)

	second, err := model.NewDeploymentJob(rb.ID(), testSite)
	if err != nil {
		t.Fatalf("NewDeploymentJob() error = %v", err)
	}
	if err := env.jobs.SaveJob(context.Background(), second); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}

	if err := env.worker.processOnce(context.Background()); err != nil {
		t.Fatalf("processOnce() error = %v", err)
	}

	for _, id := range []string{env.job.ID(), second.ID()} {
		job, _ := env.jobs.GetJob(context.Background(), id)
		if job.Status() != model.DeploymentCompleted {
			t.Errorf("job %s status = %s, want completed", id, job.Status())
		}
	}
	if depth := env.metrics.Snapshot().DeploymentQueueDepth; depth != 2 {
		t.Errorf("DeploymentQueueDepth = %d, want 2 (measured before the batch)", depth)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, newGeneratedRebuild(t, model.PageHomepage))
	env.worker.SetPollInterval(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := env.worker.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want deadline exceeded", err)
	}
	if job := env.reload(t); job.Status() != model.DeploymentCompleted {
		t.Errorf("Status = %s, want completed", job.Status())
	}
	if err := env.worker.Run(context.Background()); !errors.Is(err, ErrWorkerStarted) {
		t.Errorf("second Run() error = %v, want ErrWorkerStarted", err)
	}
}

func TestWorker_ConcurrentRunStartsOnce(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, newGeneratedRebuild(t, model.PageHomepage))
	env.worker.SetPollInterval(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { errs <- env.worker.Run(ctx) }()
	}

	var rejected int
	for i := 0; i < callers; i++ {
		if errors.Is(<-errs, ErrWorkerStarted) {
			rejected++
		}
	}
	if rejected != callers-1 {
		t.Errorf("rejected runs = %d, want %d", rejected, callers-1)
	}
}

func TestWorker_WakeSkipsPollInterval(t *testing.T) {
	t.Parallel()

	env := newWorkerEnv(t, newGeneratedRebuild(t, model.PageHomepage))
	env.worker.SetPollInterval(time.Hour)

	// Extra wakes before Run collapse into one.
	env.worker.Wake()
	env.worker.Wake()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.worker.Run(ctx) }()

	for env.reload(t).Status() != model.DeploymentCompleted {
		if ctx.Err() != nil {
			t.Fatal("job was not run after Wake")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestWorker_RateLimitWaits(t *testing.T) {
	t.Parallel()

	rb := newGeneratedRebuild(t, model.PageHomepage, model.PageMenu)
	env := newWorkerEnv(t, rb)
	// One token, refilled every two seconds: the second page has to wait.
	env.worker.SetPublishRate(0.5, 1)

	start := time.Now()
	if err := env.worker.RunJob(context.Background(), env.job.ID()); err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if job := env.reload(t); job.DeployedPageCount() != 2 {
		t.Errorf("DeployedPageCount = %d, want 2", job.DeployedPageCount())
	}
	if elapsed := time.Since(start); elapsed < minRateLimitWait {
		t.Errorf("elapsed = %v, expected the limiter to wait", elapsed)
	}
}

func ExampleNextRetryDelay() {
	d := NextRetryDelay(time.Second, 1)
	fmt.Println(d >= 800*time.Millisecond && d <= 1200*time.Millisecond)
	// Output: true
}
