// Package classifier maps scraped restaurant pages to page types and
// extracts typed content blocks from them. Everything here is a pure
// function of its input and safe for concurrent use.
package classifier

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/rebrick/rebrick/internal/model"
)

const (
	homepageConfidence = 0.95
	menuConfidence     = 0.90
	aboutConfidence    = 0.85
	contactConfidence  = 0.85
	galleryConfidence  = 0.80
	hoursConfidence    = 0.80
	unknownConfidence  = 0.5

	// A page with more prices than this reads as a menu.
	menuPriceThreshold = 5
	// A page with more images than this reads as a gallery.
	galleryImageThreshold = 10
	// A page naming at least this many weekdays reads as an hours page.
	minWeekdaysForHours = 3
)

// Image is an <img> reference found by the scraper.
type Image struct {
	URL    string `json:"url"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Page is what the scraper hands over for one URL.
type Page struct {
	URL    string  `json:"url"`
	Title  string  `json:"title"`
	Text   string  `json:"text"`
	Images []Image `json:"images,omitempty"`
}

// Result is a classification plus the rule that produced it.
type Result struct {
	PageType model.PageType
	Rule     string
}

var (
	priceRe     = regexp.MustCompile(`\$\s?\d+(?:[.,]\d{1,2})?`)
	usPhoneRe   = regexp.MustCompile(`\(\d{3}\)\s?\d{3}-\d{4}`)
	emailRe     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	weekdayRe   = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	homepageSet = map[string]bool{"/": true, "/home": true, "/index.html": true}
)

var (
	menuTextWords    = []string{"menu", "food", "drink", "appetizer", "entree", "dessert"}
	aboutURLWords    = []string{"about", "story"}
	aboutTitleWords  = []string{"about", "story", "history", "our team", "mission"}
	contactURLWords  = []string{"contact", "location"}
	contactTitleWord = []string{"contact", "location", "address", "phone", "email"}
	galleryURLWords  = []string{"gallery", "photos"}
	galleryTitleWord = []string{"gallery", "photos", "images", "pictures"}
	hoursTitleWords  = []string{"hours", "schedule", "open", "closed"}
)

// signals is the lowercased view of a page that rules test against.
// URL rules match anywhere in the full URL, host included.
type signals struct {
	path       string
	rawURL     string
	title      string
	text       string
	imageCount int
}

func newSignals(p Page) signals {
	s := signals{
		rawURL:     strings.ToLower(strings.TrimSpace(p.URL)),
		title:      strings.ToLower(p.Title),
		text:       strings.ToLower(p.Text),
		imageCount: len(p.Images),
	}
	if u, err := url.Parse(strings.TrimSpace(p.URL)); err == nil {
		path := strings.ToLower(strings.TrimRight(u.Path, "/"))
		if path == "" {
			path = "/"
		}
		s.path = path
	}
	return s
}

type rule struct {
	name       string
	pageType   model.PageTypeName
	confidence float64
	match      func(s signals) bool
}

// rules are tried in order and the first match wins.
var rules = []rule{
	{
		name:       "homepage_path",
		pageType:   model.PageHomepage,
		confidence: homepageConfidence,
		match:      func(s signals) bool { return homepageSet[s.path] },
	},
	{
		name:       "menu",
		pageType:   model.PageMenu,
		confidence: menuConfidence,
		match: func(s signals) bool {
			if strings.Contains(s.rawURL, "menu") {
				return true
			}
			if strings.Contains(s.title, "menu") && containsAny(s.text, menuTextWords) {
				return true
			}
			return len(priceRe.FindAllStringIndex(s.text, menuPriceThreshold+1)) > menuPriceThreshold
		},
	},
	{
		name:       "about",
		pageType:   model.PageAbout,
		confidence: aboutConfidence,
		match: func(s signals) bool {
			return containsAny(s.rawURL, aboutURLWords) || containsAny(s.title, aboutTitleWords)
		},
	},
	{
		name:       "contact",
		pageType:   model.PageContact,
		confidence: contactConfidence,
		match: func(s signals) bool {
			if containsAny(s.rawURL, contactURLWords) || containsAny(s.title, contactTitleWord) {
				return true
			}
			return usPhoneRe.MatchString(s.text) && emailRe.MatchString(s.text)
		},
	},
	{
		name:       "gallery",
		pageType:   model.PageGallery,
		confidence: galleryConfidence,
		match: func(s signals) bool {
			if containsAny(s.rawURL, galleryURLWords) || containsAny(s.title, galleryTitleWord) {
				return true
			}
			return s.imageCount > galleryImageThreshold
		},
	},
	{
		name:       "hours",
		pageType:   model.PageHours,
		confidence: hoursConfidence,
		match: func(s signals) bool {
			if strings.Contains(s.rawURL, "hours") || containsAny(s.title, hoursTitleWords) {
				return true
			}
			return distinctWeekdays(s.text) >= minWeekdaysForHours
		},
	},
}

// Classify returns the page type of p.
func Classify(p Page) model.PageType {
	return Match(p).PageType
}

// Match runs the rule cascade and reports which rule fired. Rule is
// "default" when nothing matched.
func Match(p Page) Result {
	s := newSignals(p)
	for _, r := range rules {
		if r.match(s) {
			return Result{PageType: model.MustPageType(r.pageType, r.confidence), Rule: r.name}
		}
	}
	return Result{PageType: model.MustPageType(model.PageUnknown, unknownConfidence), Rule: "default"}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func distinctWeekdays(text string) int {
	seen := make(map[string]struct{}, 7)
	for _, m := range weekdayRe.FindAllString(text, -1) {
		seen[strings.ToLower(m)] = struct{}{}
	}
	return len(seen)
}
