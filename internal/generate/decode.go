package generate

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rebrick/rebrick/internal/model"
)

// ErrInvalidElements is returned when engine output cannot become a tree.
var ErrInvalidElements = errors.New("invalid generated elements")

// maxElementDepth bounds nesting in engine output.
const maxElementDepth = 16

var knownElements = map[string]bool{
	model.ElementSection:   true,
	model.ElementContainer: true,
	model.ElementBlock:     true,
	model.ElementDiv:       true,
	model.ElementHeading:   true,
	model.ElementText:      true,
	model.ElementRichText:  true,
	model.ElementImage:     true,
	model.ElementButton:    true,
	model.ElementIcon:      true,
	model.ElementList:      true,
	model.ElementMap:       true,
}

// textPolicy is safe for concurrent use once built.
var textPolicy = bluemonday.UGCPolicy()

type rawElement struct {
	Name     string         `json:"name"`
	Settings map[string]any `json:"settings"`
	Children []rawElement   `json:"children"`
}

// DecodeElements parses a generation engine's JSON array of
// {name, settings, children} objects. Element names must be known and
// "text" settings are stripped of unsafe markup.
func DecodeElements(data []byte) ([]*model.BricksElement, error) {
	var raw []rawElement
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidElements, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no elements", ErrInvalidElements)
	}
	out := make([]*model.BricksElement, 0, len(raw))
	for i, r := range raw {
		el, err := buildElement(r, fmt.Sprintf("[%d]", i), 1)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

func buildElement(r rawElement, path string, depth int) (*model.BricksElement, error) {
	if depth > maxElementDepth {
		return nil, fmt.Errorf("%w: %s nested deeper than %d", ErrInvalidElements, path, maxElementDepth)
	}
	if !knownElements[r.Name] {
		return nil, fmt.Errorf("%w: %s unknown element %q", ErrInvalidElements, path, r.Name)
	}
	children := make([]*model.BricksElement, 0, len(r.Children))
	for i, c := range r.Children {
		child, err := buildElement(c, fmt.Sprintf("%s.children[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	settings := r.Settings
	if text, ok := settings["text"].(string); ok {
		settings["text"] = textPolicy.Sanitize(text)
	}
	el, err := model.NewBricksElement(r.Name, settings, children...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidElements, path, err)
	}
	return el, nil
}
