package model

import (
	"regexp"
	"strings"
	"time"
)

// TemplateType groups templates by visual style.
type TemplateType string

const (
	TemplateModern  TemplateType = "modern"
	TemplateClassic TemplateType = "classic"
	TemplateMinimal TemplateType = "minimal"
	TemplateElegant TemplateType = "elegant"
)

// IsValid reports whether t is a known template type.
func (t TemplateType) IsValid() bool {
	switch t {
	case TemplateModern, TemplateClassic, TemplateMinimal, TemplateElegant:
		return true
	}
	return false
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ColorScheme is the palette applied to generated elements.
type ColorScheme struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
	Text       string `json:"text"`
}

// Validate checks every color is a hex value.
func (c ColorScheme) Validate() error {
	colors := []struct{ name, value string }{
		{"primary", c.Primary},
		{"secondary", c.Secondary},
		{"accent", c.Accent},
		{"background", c.Background},
		{"text", c.Text},
	}
	for _, col := range colors {
		if !hexColor.MatchString(col.value) {
			return validationError("color_scheme", "%s color %q is not a hex value", col.name, col.value)
		}
	}
	return nil
}

// Typography is the font configuration applied to generated elements.
type Typography struct {
	HeadingFont  string `json:"heading_font"`
	BodyFont     string `json:"body_font"`
	BaseFontSize int    `json:"base_font_size"`
	LineHeight   string `json:"line_height,omitempty"`
}

// Layout holds structural template options.
type Layout struct {
	HeaderStyle    string `json:"header_style"`
	FooterStyle    string `json:"footer_style"`
	MaxWidth       int    `json:"max_width"`
	SectionSpacing int    `json:"section_spacing"`
	HeroStyle      string `json:"hero_style"`
}

// PageTemplate is a reusable generation configuration.
type PageTemplate struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        TemplateType `json:"type"`
	Description string       `json:"description,omitempty"`
	Layout      Layout       `json:"layout"`
	ColorScheme ColorScheme  `json:"color_scheme"`
	Typography  Typography   `json:"typography"`
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewPageTemplate builds an active template after validating its
// configuration.
func NewPageTemplate(name string, templateType TemplateType, layout Layout, colors ColorScheme, typography Typography) (*PageTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("page_template", "name cannot be empty")
	}
	if !templateType.IsValid() {
		return nil, validationError("page_template", "unknown template type %q", templateType)
	}
	if err := colors.Validate(); err != nil {
		return nil, err
	}
	if typography.HeadingFont == "" || typography.BodyFont == "" {
		return nil, validationError("page_template", "heading and body fonts are required")
	}
	if typography.BaseFontSize <= 0 {
		typography.BaseFontSize = 16
	}
	if layout.MaxWidth <= 0 {
		layout.MaxWidth = 1200
	}
	t := now()
	return &PageTemplate{
		ID:          NewID(),
		Name:        name,
		Type:        templateType,
		Layout:      layout,
		ColorScheme: colors,
		Typography:  typography,
		IsActive:    true,
		CreatedAt:   t,
		UpdatedAt:   t,
	}, nil
}

// Deactivate hides the template from selection.
func (t *PageTemplate) Deactivate() {
	t.IsActive = false
	t.UpdatedAt = now()
}

// Activate makes the template selectable.
func (t *PageTemplate) Activate() {
	t.IsActive = true
	t.UpdatedAt = now()
}
