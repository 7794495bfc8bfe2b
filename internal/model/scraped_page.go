package model

import "time"

// ScrapedPage is one fetched URL with its classification, content blocks
// and assets. It is owned by a SiteAnalysis.
type ScrapedPage struct {
	id             string
	url            URL
	title          string
	rawContent     string
	classification *PageType
	blocks         []ContentBlock
	assets         []ExtractedAsset
	scrapedAt      time.Time
}

// NewScrapedPage creates an unclassified page.
func NewScrapedPage(pageURL URL, title, rawContent string) (*ScrapedPage, error) {
	if pageURL.IsZero() {
		return nil, validationError("scraped_page", "url is required")
	}
	return &ScrapedPage{
		id:         NewID(),
		url:        pageURL,
		title:      title,
		rawContent: rawContent,
		scrapedAt:  now(),
	}, nil
}

func (p *ScrapedPage) ID() string                { return p.id }
func (p *ScrapedPage) URL() URL                  { return p.url }
func (p *ScrapedPage) Title() string             { return p.title }
func (p *ScrapedPage) RawContent() string        { return p.rawContent }
func (p *ScrapedPage) ScrapedAt() time.Time      { return p.scrapedAt }
func (p *ScrapedPage) Classification() *PageType { return p.classification }

// IsClassified reports whether Classify has been called.
func (p *ScrapedPage) IsClassified() bool { return p.classification != nil }

// PageTypeName returns the classified type, or unknown.
func (p *ScrapedPage) PageTypeName() PageTypeName {
	if p.classification == nil {
		return PageUnknown
	}
	return p.classification.Type
}

// Classify sets the classification. A page is classified at most once.
func (p *ScrapedPage) Classify(pt PageType) error {
	if p.classification != nil {
		return invalidOperation("scraped_page.classify", "page %s already classified as %s", p.id, p.classification.Type)
	}
	if _, err := NewPageType(pt.Type, pt.Confidence); err != nil {
		return err
	}
	c := pt
	p.classification = &c
	return nil
}

// AddBlock appends a content block.
func (p *ScrapedPage) AddBlock(block ContentBlock) {
	p.blocks = append(p.blocks, block)
}

// AddAsset appends an asset.
func (p *ScrapedPage) AddAsset(asset ExtractedAsset) {
	p.assets = append(p.assets, asset)
}

// Blocks returns a copy of the content blocks.
func (p *ScrapedPage) Blocks() []ContentBlock {
	out := make([]ContentBlock, len(p.blocks))
	copy(out, p.blocks)
	return out
}

// Assets returns a copy of the assets.
func (p *ScrapedPage) Assets() []ExtractedAsset {
	out := make([]ExtractedAsset, len(p.assets))
	copy(out, p.assets)
	return out
}

func (p *ScrapedPage) BlockCount() int { return len(p.blocks) }
func (p *ScrapedPage) AssetCount() int { return len(p.assets) }

// ScrapedPageSnapshot is the persisted form of a ScrapedPage.
type ScrapedPageSnapshot struct {
	ID             string           `json:"id"`
	URL            string           `json:"url"`
	Title          string           `json:"title"`
	RawContent     string           `json:"raw_content,omitempty"`
	Classification *PageType        `json:"classification,omitempty"`
	Blocks         []ContentBlock   `json:"blocks"`
	Assets         []ExtractedAsset `json:"assets"`
	ScrapedAt      time.Time        `json:"scraped_at"`
}

// Snapshot captures the page for persistence.
func (p *ScrapedPage) Snapshot() ScrapedPageSnapshot {
	var c *PageType
	if p.classification != nil {
		cp := *p.classification
		c = &cp
	}
	return ScrapedPageSnapshot{
		ID:             p.id,
		URL:            p.url.String(),
		Title:          p.title,
		RawContent:     p.rawContent,
		Classification: c,
		Blocks:         p.Blocks(),
		Assets:         p.Assets(),
		ScrapedAt:      p.scrapedAt,
	}
}

// ReconstituteScrapedPage restores a page from its snapshot.
func ReconstituteScrapedPage(s ScrapedPageSnapshot) (*ScrapedPage, error) {
	u, err := NewURL(s.URL)
	if err != nil {
		return nil, err
	}
	p := &ScrapedPage{
		id:         s.ID,
		url:        u,
		title:      s.Title,
		rawContent: s.RawContent,
		blocks:     append([]ContentBlock(nil), s.Blocks...),
		assets:     append([]ExtractedAsset(nil), s.Assets...),
		scrapedAt:  s.ScrapedAt,
	}
	if s.Classification != nil {
		pt, err := NewPageType(s.Classification.Type, s.Classification.Confidence)
		if err != nil {
			return nil, err
		}
		p.classification = &pt
	}
	return p, nil
}
