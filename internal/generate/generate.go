// Package generate turns analysed page content into Bricks element trees.
package generate

import (
	"context"
	"strings"

	"github.com/rebrick/rebrick/internal/model"
)

// PageInput is the content of one analysed page.
type PageInput struct {
	Type   model.PageTypeName
	Title  string
	Blocks []model.ContentBlock
	Assets []model.ExtractedAsset
}

// Input is everything a generator needs for one rebuild.
type Input struct {
	SiteName string
	Template *model.PageTemplate
	Pages    []PageInput
}

// Generator produces one page structure per input page.
type Generator interface {
	Generate(ctx context.Context, in Input) ([]*model.BricksPageStructure, error)
}

var pageTitles = map[model.PageTypeName]string{
	model.PageHomepage: "Home",
	model.PageMenu:     "Menu",
	model.PageAbout:    "About Us",
	model.PageContact:  "Contact",
	model.PageGallery:  "Gallery",
	model.PageHours:    "Opening Hours",
}

var pageSlugs = map[model.PageTypeName]string{
	model.PageHomepage: "home",
	model.PageMenu:     "menu",
	model.PageAbout:    "about",
	model.PageContact:  "contact",
	model.PageGallery:  "gallery",
	model.PageHours:    "hours",
}

// PageTitle is the published title for a page of type t. Unknown pages
// keep their scraped title.
func PageTitle(t model.PageTypeName, scraped string) string {
	if title, ok := pageTitles[t]; ok {
		return title
	}
	if s := strings.TrimSpace(scraped); s != "" {
		return s
	}
	return "Page"
}

// PageSlug is the published slug for a page of type t. An empty result
// lets the page derive a slug from its title.
func PageSlug(t model.PageTypeName) string {
	return pageSlugs[t]
}
