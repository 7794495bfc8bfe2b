package classifier

import (
	"regexp"
	"strings"

	"github.com/rebrick/rebrick/internal/model"
)

const (
	// Paragraphs shorter than this are navigation or captions, not copy.
	minParagraphLen = 50
	minMenuLineLen  = 10
	maxMenuLineLen  = 200
	maxGenericBlock = 5
)

var (
	paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)
	menuPriceRe      = regexp.MustCompile(`\$\s?(\d+(?:[.,]\d{1,2})?)`)
	anyPhoneRe       = regexp.MustCompile(`\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]\d{4}`)
	addressRe        = regexp.MustCompile(`(?i)\d+ +[A-Za-z0-9.' ]+?\b(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|way|place|pl|court|ct)\b\.?(?:,\s*[A-Za-z .]+)?(?:,\s*[A-Z]{2}\s+\d{5})?`)
	dayNameRe        = regexp.MustCompile(`(?i)\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

// hoursLeadRe eats the separators and extra day names of a range or list
// ("- Friday:", ", Tuesday and Friday") in front of the hours.
var hoursLeadRe = regexp.MustCompile(`(?i)^(?:[\s:,&/\-–—]+|(?:to|through|thru|and|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b)*`)

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// weekdayRes holds one pattern per entry of weekdays.
var weekdayRes = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(weekdays))
	for i, day := range weekdays {
		out[i] = regexp.MustCompile(`(?i)\b` + day + `\b`)
	}
	return out
}()

// ExtractBlocks pulls the content blocks that matter for a page of type t.
// Block positions start at zero and follow document order.
func ExtractBlocks(p Page, t model.PageTypeName) []model.ContentBlock {
	var b blockList
	switch t {
	case model.PageHomepage:
		homepageBlocks(&b, p)
	case model.PageMenu:
		b.add(model.BlockMenuSection, map[string]any{
			"title": "Menu",
			"items": menuItems(p.Text),
		})
	case model.PageAbout:
		for _, para := range paragraphs(p.Text) {
			b.add(model.BlockText, map[string]any{"text": para})
		}
	case model.PageContact:
		b.add(model.BlockContactInfo, contactInfo(p.Text))
	case model.PageGallery:
		b.add(model.BlockGallery, map[string]any{"images": imageList(p.Images)})
	case model.PageHours:
		for _, h := range dayHours(p.Text) {
			b.add(model.BlockHours, h)
		}
	default:
		paras := paragraphs(p.Text)
		if len(paras) > maxGenericBlock {
			paras = paras[:maxGenericBlock]
		}
		for _, para := range paras {
			b.add(model.BlockText, map[string]any{"text": para})
		}
	}
	return b.blocks
}

type blockList struct {
	blocks []model.ContentBlock
}

func (l *blockList) add(t model.BlockType, content map[string]any) {
	block, err := model.NewContentBlock(t, content, len(l.blocks))
	if err != nil {
		// Block types above are constants and positions never go negative.
		panic(err)
	}
	l.blocks = append(l.blocks, block)
}

func homepageBlocks(b *blockList, p Page) {
	if len(p.Images) > 0 || strings.TrimSpace(p.Title) != "" {
		hero := map[string]any{"title": strings.TrimSpace(p.Title)}
		if len(p.Images) > 0 {
			hero["image"] = p.Images[0].URL
			hero["alt"] = p.Images[0].Alt
		}
		b.add(model.BlockHero, hero)
	}
	if paras := paragraphs(p.Text); len(paras) > 0 {
		b.add(model.BlockText, map[string]any{"text": paras[0]})
	}
}

// paragraphs splits text on blank lines and keeps the long ones.
func paragraphs(text string) []string {
	var out []string
	for _, chunk := range paragraphSplitRe.Split(text, -1) {
		chunk = strings.Join(strings.Fields(chunk), " ")
		if len(chunk) > minParagraphLen {
			out = append(out, chunk)
		}
	}
	return out
}

// menuItems treats every line carrying a price as one dish.
func menuItems(text string) []any {
	items := []any{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < minMenuLineLen || len(line) > maxMenuLineLen {
			continue
		}
		loc := menuPriceRe.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		name := strings.TrimSpace(line[:loc[0]] + " " + line[loc[1]:])
		name = strings.Trim(name, " .-–—:|·")
		name = strings.Join(strings.Fields(name), " ")
		if name == "" {
			continue
		}
		items = append(items, map[string]any{
			"name":  name,
			"price": line[loc[2]:loc[3]],
		})
	}
	return items
}

func contactInfo(text string) map[string]any {
	info := map[string]any{}
	if m := anyPhoneRe.FindString(text); m != "" {
		info["phone"] = m
	}
	if m := emailRe.FindString(text); m != "" {
		info["email"] = m
	}
	if m := addressRe.FindString(text); m != "" {
		info["address"] = strings.Join(strings.Fields(m), " ")
	}
	return info
}

func imageList(images []Image) []any {
	out := make([]any, 0, len(images))
	for _, img := range images {
		if strings.TrimSpace(img.URL) == "" {
			continue
		}
		out = append(out, map[string]any{"url": img.URL, "alt": img.Alt})
	}
	return out
}

// dayHours returns one entry per weekday mentioned, Monday first. Each
// day is looked up on its own, so days inside a range such as
// "Monday - Friday: 11am - 10pm" get the range's hours. Only the first
// mention of a day counts.
func dayHours(text string) []map[string]any {
	var out []map[string]any
	for i, day := range weekdays {
		loc := weekdayRes[i].FindStringIndex(text)
		if loc == nil {
			continue
		}
		out = append(out, map[string]any{
			"day":   strings.ToUpper(day[:1]) + day[1:],
			"hours": hoursAfter(text[loc[1]:]),
		})
	}
	return out
}

// hoursAfter returns the hours that follow a day name on the same line,
// stopping before the next day name.
func hoursAfter(rest string) string {
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	rest = rest[len(hoursLeadRe.FindString(rest)):]
	if loc := dayNameRe.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]]
	}
	return strings.Trim(rest, " \t,;|")
}

// ExtractAssets turns the page's images into assets, dropping repeats of
// the same URL.
func ExtractAssets(p Page) []model.ExtractedAsset {
	seen := make(map[string]struct{}, len(p.Images))
	var out []model.ExtractedAsset
	for _, img := range p.Images {
		asset, err := model.NewExtractedAsset(img.URL, model.AssetImage)
		if err != nil {
			continue
		}
		if _, dup := seen[asset.URL]; dup {
			continue
		}
		seen[asset.URL] = struct{}{}
		asset.Alt = img.Alt
		asset.Width = img.Width
		asset.Height = img.Height
		out = append(out, asset)
	}
	return out
}
