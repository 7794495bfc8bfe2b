package model

import (
	"encoding/json"
	"regexp"
	"strings"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins alphanumeric runs with hyphens.
func Slugify(s string) string {
	return strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// BricksPageStructure is one generated page: a titled, slugged list of
// root elements.
type BricksPageStructure struct {
	pageType PageTypeName
	title    string
	slug     string
	elements []*BricksElement
}

// NewBricksPageStructure validates the page type and title. An empty slug
// is derived from the title. Roots must not share nodes.
func NewBricksPageStructure(pageType PageTypeName, title, slug string, elements []*BricksElement) (*BricksPageStructure, error) {
	if !pageType.IsValid() {
		return nil, validationError("bricks_page", "unknown page type %q", pageType)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("bricks_page", "title cannot be empty")
	}
	if slug == "" {
		slug = Slugify(title)
	}
	roots := make([]*BricksElement, 0, len(elements))
	for _, el := range elements {
		if el == nil {
			return nil, validationError("bricks_page", "root element cannot be nil")
		}
		roots = append(roots, el)
	}
	if err := checkExclusive("bricks_page", roots); err != nil {
		return nil, err
	}
	return &BricksPageStructure{
		pageType: pageType,
		title:    title,
		slug:     slug,
		elements: roots,
	}, nil
}

func (p *BricksPageStructure) PageType() PageTypeName { return p.pageType }
func (p *BricksPageStructure) Title() string          { return p.title }
func (p *BricksPageStructure) Slug() string           { return p.slug }

// Elements returns the root elements in order.
func (p *BricksPageStructure) Elements() []*BricksElement {
	out := make([]*BricksElement, len(p.elements))
	copy(out, p.elements)
	return out
}

// ElementCount counts root elements and all their descendants.
func (p *BricksPageStructure) ElementCount() int {
	total := len(p.elements)
	for _, el := range p.elements {
		total += el.ChildCount()
	}
	return total
}

// FlatElement is the flattened storage form Bricks keeps in post meta:
// every node lists its parent id and child ids.
type FlatElement struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Parent   any            `json:"parent"`
	Children []string       `json:"children"`
	Settings map[string]any `json:"settings"`
}

// Flatten emits the tree in depth-first order. Root elements have parent 0.
func (p *BricksPageStructure) Flatten() []FlatElement {
	out := make([]FlatElement, 0, p.ElementCount())
	for _, root := range p.elements {
		root.Walk(func(el, parent *BricksElement) {
			var parentID any = 0
			if parent != nil {
				parentID = parent.ID()
			}
			children := make([]string, 0, len(el.children))
			for _, c := range el.children {
				children = append(children, c.ID())
			}
			out = append(out, FlatElement{
				ID:       el.ID(),
				Name:     el.Name(),
				Parent:   parentID,
				Children: children,
				Settings: el.Settings(),
			})
		})
	}
	return out
}

// BricksPageSnapshot is the persisted form of a page.
type BricksPageSnapshot struct {
	PageType PageTypeName     `json:"page_type"`
	Title    string           `json:"title"`
	Slug     string           `json:"slug"`
	Elements []*BricksElement `json:"elements"`
}

// Snapshot captures the page for persistence.
func (p *BricksPageStructure) Snapshot() BricksPageSnapshot {
	return BricksPageSnapshot{
		PageType: p.pageType,
		Title:    p.title,
		Slug:     p.slug,
		Elements: p.Elements(),
	}
}

// MarshalJSON encodes the snapshot.
func (p *BricksPageStructure) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Snapshot())
}

// ReconstituteBricksPage restores a page from its snapshot.
func ReconstituteBricksPage(s BricksPageSnapshot) (*BricksPageStructure, error) {
	return NewBricksPageStructure(s.PageType, s.Title, s.Slug, s.Elements)
}
