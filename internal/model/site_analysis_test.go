package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func newTestPage(t *testing.T, raw string, pt PageTypeName, confidence float64) *ScrapedPage {
	t.Helper()

	p, err := NewScrapedPage(MustURL(raw), "Title", "body")
	if err != nil {
		t.Fatalf("NewScrapedPage: %v", err)
	}
	if err := p.Classify(MustPageType(pt, confidence)); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	return p
}

func TestSiteAnalysis_Lifecycle(t *testing.T) {
	t.Parallel()

	a, err := NewSiteAnalysis(MustURL("https://bistro.example.com"))
	if err != nil {
		t.Fatalf("NewSiteAnalysis: %v", err)
	}
	if a.Status() != AnalysisPending {
		t.Fatalf("Status = %s, want pending", a.Status())
	}

	if err := a.StartAnalysis(); err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if err := a.StartAnalysis(); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("second StartAnalysis error = %v, want ErrInvalidOperation", err)
	}

	home := newTestPage(t, "https://bistro.example.com/", PageHomepage, 0.95)
	block, _ := NewContentBlock(BlockHero, map[string]any{"title": "Welcome"}, 0)
	home.AddBlock(block)
	asset, _ := NewExtractedAsset("https://bistro.example.com/hero.jpg", AssetImage)
	home.AddAsset(asset)

	if err := a.AddScrapedPages([]*ScrapedPage{home, newTestPage(t, "https://bistro.example.com/menu", PageMenu, 0.9)}); err != nil {
		t.Fatalf("AddScrapedPages: %v", err)
	}
	if err := a.AddScrapedPage(newTestPage(t, "https://bistro.example.com/about", PageAbout, 0.85)); err != nil {
		t.Fatalf("AddScrapedPage: %v", err)
	}

	if a.PageCount() != 3 || a.TotalBlocks() != 1 || a.TotalAssets() != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/1/1", a.PageCount(), a.TotalBlocks(), a.TotalAssets())
	}
	if got := len(a.PagesOfType(PageMenu)); got != 1 {
		t.Errorf("PagesOfType(menu) = %d, want 1", got)
	}

	if err := a.CompleteAnalysis(); err != nil {
		t.Fatalf("CompleteAnalysis: %v", err)
	}
	if a.Status() != AnalysisCompleted || a.CompletedAt() == nil {
		t.Errorf("Status = %s CompletedAt = %v", a.Status(), a.CompletedAt())
	}
	if a.Version() != 1 {
		t.Errorf("Version = %d, want 1", a.Version())
	}
	if err := a.CompleteAnalysis(); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("second CompleteAnalysis error = %v, want ErrInvalidOperation", err)
	}
	if err := a.FailAnalysis("late"); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("FailAnalysis after complete error = %v, want ErrInvalidOperation", err)
	}

	events := a.DomainEvents()
	var types []EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	want := []EventType{EventSiteScraped, EventSiteScraped, EventAnalysisCompleted}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
	if p, ok := events[1].Payload.(SiteScrapedPayload); !ok || p.PageCount != 3 {
		t.Errorf("second SiteScraped payload = %+v, want running count 3", events[1].Payload)
	}
	done, ok := events[2].Payload.(AnalysisCompletedPayload)
	if !ok || !done.Success || done.TotalPages != 3 || done.TotalBlocks != 1 {
		t.Errorf("AnalysisCompleted payload = %+v", events[2].Payload)
	}

	a.ClearDomainEvents()
	if len(a.DomainEvents()) != 0 {
		t.Error("ClearDomainEvents left events behind")
	}
}

func TestSiteAnalysis_AddBeforeStart(t *testing.T) {
	t.Parallel()

	a, _ := NewSiteAnalysis(MustURL("https://bistro.example.com"))
	err := a.AddScrapedPage(newTestPage(t, "https://bistro.example.com/", PageHomepage, 0.95))
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("error = %v, want ErrInvalidOperation", err)
	}
	if a.PageCount() != 0 {
		t.Errorf("PageCount = %d, want 0", a.PageCount())
	}
}

func TestSiteAnalysis_CompleteWithoutPages(t *testing.T) {
	t.Parallel()

	a, _ := NewSiteAnalysis(MustURL("https://bistro.example.com"))
	_ = a.StartAnalysis()

	err := a.CompleteAnalysis()
	if !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
	if !errors.Is(err, ErrBusinessRule) {
		t.Errorf("error = %v, want ErrBusinessRule", err)
	}
	if a.Status() != AnalysisInProgress {
		t.Errorf("Status = %s, want in_progress", a.Status())
	}
}

func TestSiteAnalysis_Fail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		start bool
	}{
		{name: "from pending", start: false},
		{name: "from in_progress", start: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, _ := NewSiteAnalysis(MustURL("https://bistro.example.com"))
			if tt.start {
				_ = a.StartAnalysis()
			}
			if err := a.FailAnalysis("scraper timed out"); err != nil {
				t.Fatalf("FailAnalysis: %v", err)
			}
			if a.Status() != AnalysisFailed || a.ErrorMessage() != "scraper timed out" {
				t.Errorf("Status = %s ErrorMessage = %q", a.Status(), a.ErrorMessage())
			}
			events := a.DomainEvents()
			last, ok := events[len(events)-1].Payload.(AnalysisCompletedPayload)
			if !ok || last.Success || last.Error != "scraper timed out" {
				t.Errorf("last payload = %+v", events[len(events)-1].Payload)
			}
		})
	}
}

func TestScrapedPage_ClassifyOnce(t *testing.T) {
	t.Parallel()

	p := newTestPage(t, "https://bistro.example.com/menu", PageMenu, 0.9)
	if err := p.Classify(MustPageType(PageAbout, 0.85)); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("error = %v, want ErrInvalidOperation", err)
	}
	if p.PageTypeName() != PageMenu {
		t.Errorf("PageTypeName = %s, want menu", p.PageTypeName())
	}
}

func TestSiteAnalysis_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	a, _ := NewSiteAnalysis(MustURL("https://bistro.example.com"))
	_ = a.StartAnalysis()
	page := newTestPage(t, "https://bistro.example.com/contact", PageContact, 0.85)
	block, _ := NewContentBlock(BlockContactInfo, map[string]any{"phone": "(555) 123-4567"}, 0)
	page.AddBlock(block)
	_ = a.AddScrapedPage(page)
	a.UpdateMetadata(map[string]any{"source": "crawler"})
	_ = a.CompleteAnalysis()

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var snap SiteAnalysisSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	back, err := ReconstituteSiteAnalysis(snap)
	if err != nil {
		t.Fatalf("ReconstituteSiteAnalysis: %v", err)
	}

	if back.ID() != a.ID() || back.Version() != a.Version() || back.Status() != a.Status() {
		t.Errorf("identity mismatch: %s/%d/%s vs %s/%d/%s", back.ID(), back.Version(), back.Status(), a.ID(), a.Version(), a.Status())
	}
	if back.PageCount() != 1 || back.TotalBlocks() != 1 {
		t.Errorf("PageCount = %d TotalBlocks = %d", back.PageCount(), back.TotalBlocks())
	}
	if back.Pages()[0].PageTypeName() != PageContact {
		t.Errorf("page type = %s, want contact", back.Pages()[0].PageTypeName())
	}
	if back.Metadata()["source"] != "crawler" {
		t.Errorf("metadata = %v", back.Metadata())
	}
	if len(back.DomainEvents()) != 0 {
		t.Error("reconstitution must not emit events")
	}
}
