package model

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Element names understood by the Bricks builder.
const (
	ElementSection   = "section"
	ElementContainer = "container"
	ElementBlock     = "block"
	ElementDiv       = "div"
	ElementHeading   = "heading"
	ElementText      = "text-basic"
	ElementRichText  = "text"
	ElementImage     = "image"
	ElementButton    = "button"
	ElementIcon      = "icon"
	ElementList      = "list"
	ElementMap       = "map"
)

// BricksElement is one immutable node of a page's element tree. Equality is
// structural: the generated id is ignored.
type BricksElement struct {
	id       string
	name     string
	settings map[string]any
	children []*BricksElement
}

// NewBricksElement builds a node. Settings and children are copied so the
// caller cannot mutate the tree afterwards. A tree owns its nodes: a child
// subtree that is already attached elsewhere in children is rejected.
func NewBricksElement(name string, settings map[string]any, children ...*BricksElement) (*BricksElement, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("bricks_element", "element name cannot be empty")
	}
	kids := make([]*BricksElement, 0, len(children))
	for _, c := range children {
		if c == nil {
			return nil, validationError("bricks_element", "child of %q cannot be nil", name)
		}
		kids = append(kids, c)
	}
	if err := checkExclusive("bricks_element", kids); err != nil {
		return nil, err
	}
	return &BricksElement{
		id:       newElementID(),
		name:     name,
		settings: copySettings(settings),
		children: kids,
	}, nil
}

func mustElement(name string, settings map[string]any, children ...*BricksElement) *BricksElement {
	el, err := NewBricksElement(name, settings, children...)
	if err != nil {
		panic(err)
	}
	return el
}

// Section wraps children in a full-width section.
func Section(settings map[string]any, children ...*BricksElement) *BricksElement {
	return mustElement(ElementSection, settings, children...)
}

// Container wraps children in a width-constrained container.
func Container(settings map[string]any, children ...*BricksElement) *BricksElement {
	return mustElement(ElementContainer, settings, children...)
}

// Heading builds a heading with the given tag (h1..h6). Invalid tags fall
// back to h2.
func Heading(text, tag string) *BricksElement {
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
	default:
		tag = "h2"
	}
	return mustElement(ElementHeading, map[string]any{"text": text, "tag": tag})
}

// Text builds a basic text element.
func Text(text string) *BricksElement {
	return mustElement(ElementText, map[string]any{"text": text})
}

// Image builds an image element pointing at an external url.
func Image(url, alt string) *BricksElement {
	return mustElement(ElementImage, map[string]any{
		"image":   map[string]any{"url": url, "external": true},
		"altText": alt,
	})
}

// Button builds a link button.
func Button(text, link string) *BricksElement {
	return mustElement(ElementButton, map[string]any{
		"text": text,
		"link": map[string]any{"type": "external", "url": link},
	})
}

func (e *BricksElement) ID() string   { return e.id }
func (e *BricksElement) Name() string { return e.name }

// Settings returns a copy of the settings map.
func (e *BricksElement) Settings() map[string]any {
	return copySettings(e.settings)
}

// Setting returns a single setting value.
func (e *BricksElement) Setting(key string) (any, bool) {
	v, ok := e.settings[key]
	return v, ok
}

// Children returns the immediate children.
func (e *BricksElement) Children() []*BricksElement {
	out := make([]*BricksElement, len(e.children))
	copy(out, e.children)
	return out
}

// ChildCount counts all descendants.
func (e *BricksElement) ChildCount() int {
	total := len(e.children)
	for _, c := range e.children {
		total += c.ChildCount()
	}
	return total
}

// WithSettings returns a new element with settings merged over the
// current ones. The receiver is unchanged.
func (e *BricksElement) WithSettings(settings map[string]any) *BricksElement {
	merged := copySettings(e.settings)
	for k, v := range settings {
		merged[k] = v
	}
	return &BricksElement{
		id:       newElementID(),
		name:     e.name,
		settings: merged,
		children: e.children,
	}
}

// Equal compares name, settings and children deeply.
func (e *BricksElement) Equal(other *BricksElement) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.name != other.name || len(e.children) != len(other.children) {
		return false
	}
	if !reflect.DeepEqual(normalizeSettings(e.settings), normalizeSettings(other.settings)) {
		return false
	}
	for i := range e.children {
		if !e.children[i].Equal(other.children[i]) {
			return false
		}
	}
	return true
}

// checkExclusive fails when a node id occurs twice under roots. That is
// the case when one subtree is attached in two places, directly or through
// WithSettings, and Bricks cannot load a page with repeated ids.
func checkExclusive(op string, roots []*BricksElement) error {
	seen := make(map[string]struct{})
	var dup string
	for _, root := range roots {
		root.Walk(func(el, _ *BricksElement) {
			if dup != "" {
				return
			}
			if _, ok := seen[el.id]; ok {
				dup = el.id
				return
			}
			seen[el.id] = struct{}{}
		})
	}
	if dup != "" {
		return validationError(op, "element %s appears more than once in the tree", dup)
	}
	return nil
}

// Walk visits e and its descendants depth first. parent is nil for e.
func (e *BricksElement) Walk(fn func(el, parent *BricksElement)) {
	e.walk(nil, fn)
}

func (e *BricksElement) walk(parent *BricksElement, fn func(el, parent *BricksElement)) {
	fn(e, parent)
	for _, c := range e.children {
		c.walk(e, fn)
	}
}

type bricksElementJSON struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Settings map[string]any   `json:"settings"`
	Children []*BricksElement `json:"children"`
}

// MarshalJSON encodes the nested tree.
func (e *BricksElement) MarshalJSON() ([]byte, error) {
	children := e.children
	if children == nil {
		children = []*BricksElement{}
	}
	return json.Marshal(bricksElementJSON{
		ID:       e.id,
		Name:     e.name,
		Settings: e.settings,
		Children: children,
	})
}

// UnmarshalJSON decodes a nested tree, keeping stored ids.
func (e *BricksElement) UnmarshalJSON(data []byte) error {
	var raw bricksElementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	el, err := NewBricksElement(raw.Name, raw.Settings, raw.Children...)
	if err != nil {
		return err
	}
	if raw.ID != "" {
		el.id = raw.ID
	}
	*e = *el
	return nil
}

func copySettings(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copySettings(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	default:
		return v
	}
}

// normalizeSettings round-trips settings through JSON so that values built
// in code (int, []string) compare equal to values decoded from storage
// (float64, []any).
func normalizeSettings(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	data, err := json.Marshal(in)
	if err != nil {
		return in
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return in
	}
	return out
}
