package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rebrick/rebrick/internal/model"
)

// TemplateGenerator maps content blocks to elements deterministically and
// styles them from the template.
type TemplateGenerator struct {
	logger *slog.Logger
}

// NewTemplateGenerator creates a generator.
func NewTemplateGenerator(logger *slog.Logger) *TemplateGenerator {
	return &TemplateGenerator{logger: logger.With("component", "generate.template")}
}

// Generate implements Generator.
func (g *TemplateGenerator) Generate(ctx context.Context, in Input) ([]*model.BricksPageStructure, error) {
	if in.Template == nil {
		return nil, fmt.Errorf("generate: template is required")
	}
	st := newStyle(in.Template)
	pages := make([]*model.BricksPageStructure, 0, len(in.Pages))
	for _, p := range in.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := model.NewBricksPageStructure(p.Type, PageTitle(p.Type, p.Title), PageSlug(p.Type), g.pageElements(st, in.SiteName, p))
		if err != nil {
			return nil, fmt.Errorf("generate %s page: %w", p.Type, err)
		}
		g.logger.Debug("page generated",
			"page_type", p.Type,
			"blocks", len(p.Blocks),
			"elements", page.ElementCount(),
		)
		pages = append(pages, page)
	}
	return pages, nil
}

func (g *TemplateGenerator) pageElements(st style, siteName string, p PageInput) []*model.BricksElement {
	var (
		roots []*model.BricksElement
		hours []model.ContentBlock
	)
	flushHours := func() {
		if len(hours) > 0 {
			roots = append(roots, st.hoursSection(hours))
			hours = nil
		}
	}

	for _, b := range p.Blocks {
		if b.Type == model.BlockHours {
			hours = append(hours, b)
			continue
		}
		flushHours()
		if el := st.blockSection(siteName, p.Type, b); el != nil {
			roots = append(roots, el)
		}
	}
	flushHours()

	if len(roots) == 0 {
		roots = append(roots, st.section(st.heading(PageTitle(p.Type, p.Title), "h1")))
	}
	return roots
}

// style carries the template values applied to every element.
type style struct {
	tpl *model.PageTemplate
}

// plainPolicy strips every tag from scraped text. Bricks renders text and
// heading settings as HTML.
var plainPolicy = bluemonday.StrictPolicy()

func plain(s string) string {
	return strings.TrimSpace(plainPolicy.Sanitize(s))
}

func newStyle(tpl *model.PageTemplate) style {
	return style{tpl: tpl}
}

func (s style) section(children ...*model.BricksElement) *model.BricksElement {
	spacing := s.tpl.Layout.SectionSpacing
	settings := map[string]any{
		"_background": map[string]any{"color": map[string]any{"hex": s.tpl.ColorScheme.Background}},
	}
	if spacing > 0 {
		settings["_padding"] = map[string]any{"top": px(spacing), "bottom": px(spacing)}
	}
	return model.Section(settings, model.Container(map[string]any{"_width": px(s.tpl.Layout.MaxWidth)}, children...))
}

func (s style) heading(text, tag string) *model.BricksElement {
	return model.Heading(plain(text), tag).WithSettings(map[string]any{
		"_typography": map[string]any{
			"font-family": s.tpl.Typography.HeadingFont,
			"color":       map[string]any{"hex": s.tpl.ColorScheme.Primary},
		},
	})
}

func (s style) text(text string) *model.BricksElement {
	typo := map[string]any{
		"font-family": s.tpl.Typography.BodyFont,
		"font-size":   px(s.tpl.Typography.BaseFontSize),
		"color":       map[string]any{"hex": s.tpl.ColorScheme.Text},
	}
	if s.tpl.Typography.LineHeight != "" {
		typo["line-height"] = s.tpl.Typography.LineHeight
	}
	return model.Text(plain(text)).WithSettings(map[string]any{"_typography": typo})
}

func (s style) image(url, alt string) *model.BricksElement {
	return model.Image(url, plain(alt))
}

func (s style) button(text, link string) *model.BricksElement {
	return model.Button(plain(text), link).WithSettings(map[string]any{
		"_background": map[string]any{"color": map[string]any{"hex": s.tpl.ColorScheme.Accent}},
	})
}

func (s style) blockSection(siteName string, pageType model.PageTypeName, b model.ContentBlock) *model.BricksElement {
	switch b.Type {
	case model.BlockHero:
		return s.heroSection(siteName, pageType, b)
	case model.BlockText, model.BlockTestimonial:
		if t := b.Text(); t != "" {
			return s.section(s.text(t))
		}
	case model.BlockMenuSection:
		return s.menuSection(b)
	case model.BlockContactInfo:
		return s.contactSection(b)
	case model.BlockGallery:
		return s.gallerySection(b)
	case model.BlockImage:
		if u := stringValue(b.Content, "url"); u != "" {
			return s.section(s.image(u, stringValue(b.Content, "alt")))
		}
	case model.BlockCTA:
		if t := stringValue(b.Content, "text"); t != "" {
			return s.section(s.button(t, stringValue(b.Content, "link")))
		}
	}
	return nil
}

func (s style) heroSection(siteName string, pageType model.PageTypeName, b model.ContentBlock) *model.BricksElement {
	title := stringValue(b.Content, "title")
	if title == "" {
		title = siteName
	}
	var children []*model.BricksElement
	if title != "" {
		children = append(children, s.heading(title, "h1"))
	}
	if img := stringValue(b.Content, "image"); img != "" {
		children = append(children, s.image(img, stringValue(b.Content, "alt")))
	}
	if pageType == model.PageHomepage {
		children = append(children, s.button("View Menu", "/"+pageSlugs[model.PageMenu]))
	}
	if len(children) == 0 {
		return nil
	}
	return s.section(children...)
}

func (s style) menuSection(b model.ContentBlock) *model.BricksElement {
	title := stringValue(b.Content, "title")
	if title == "" {
		title = "Menu"
	}
	children := []*model.BricksElement{s.heading(title, "h2")}
	items, _ := b.Content["items"].([]any)
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := stringValue(item, "name")
		if name == "" {
			continue
		}
		line := name
		if price := stringValue(item, "price"); price != "" {
			line = fmt.Sprintf("%s · $%s", name, price)
		}
		children = append(children, s.text(line))
	}
	return s.section(children...)
}

func (s style) contactSection(b model.ContentBlock) *model.BricksElement {
	children := []*model.BricksElement{s.heading("Contact Us", "h2")}
	address := stringValue(b.Content, "address")
	if address != "" {
		children = append(children, s.text(address))
	}
	if email := stringValue(b.Content, "email"); email != "" {
		children = append(children, s.text(email))
	}
	if phone := stringValue(b.Content, "phone"); phone != "" {
		children = append(children, s.button("Call "+phone, "tel:"+digitsOnly(phone)))
	}
	if address != "" {
		el, err := model.NewBricksElement(model.ElementMap, map[string]any{"address": plain(address), "zoom": 15})
		if err == nil {
			children = append(children, el)
		}
	}
	return s.section(children...)
}

func (s style) gallerySection(b model.ContentBlock) *model.BricksElement {
	children := []*model.BricksElement{s.heading("Gallery", "h2")}
	images, _ := b.Content["images"].([]any)
	for _, raw := range images {
		img, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if u := stringValue(img, "url"); u != "" {
			children = append(children, s.image(u, stringValue(img, "alt")))
		}
	}
	return s.section(children...)
}

func (s style) hoursSection(blocks []model.ContentBlock) *model.BricksElement {
	children := []*model.BricksElement{s.heading("Opening Hours", "h2")}
	for _, b := range blocks {
		day := stringValue(b.Content, "day")
		if day == "" {
			continue
		}
		children = append(children, s.text(strings.TrimSpace(day+": "+stringValue(b.Content, "hours"))))
	}
	return s.section(children...)
}

func stringValue(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

func px(n int) string {
	return fmt.Sprintf("%dpx", n)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
