// Package extract turns fetched HTML into the page shape the classifier
// consumes.
package extract

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/crypto/blake2b"

	"github.com/rebrick/rebrick/internal/classifier"
)

// nonContentSelectors lists elements stripped before reading text.
// Footers go too: a footer address on every page would make every page
// look like a contact page.
const nonContentSelectors = "script, style, noscript, template, nav, footer, form"

// blockSelectors are the elements whose text becomes paragraphs or lines.
const blockSelectors = "h1, h2, h3, h4, h5, h6, p, li, dt, dd, tr, blockquote, address, figcaption"

var lineElements = map[string]bool{"li": true, "dt": true, "dd": true, "tr": true}

// FromHTML parses body fetched from pageURL. Relative image sources are
// resolved against pageURL.
func FromHTML(pageURL string, body []byte) (classifier.Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return classifier.Page{}, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return classifier.Page{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(nonContentSelectors).Remove()

	return classifier.Page{
		URL:    pageURL,
		Title:  extractTitle(doc),
		Text:   extractText(doc),
		Images: extractImages(doc, base),
	}, nil
}

// extractTitle prefers <title>, then og:title, then the first <h1>.
func extractTitle(doc *goquery.Document) string {
	if title := collapse(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return collapse(og)
	}
	return collapse(doc.Find("h1").First().Text())
}

// extractText joins block elements with blank lines. Consecutive list
// items and table rows under one parent are joined with single newlines
// so a price list reads as one paragraph of lines.
func extractText(doc *goquery.Document) string {
	var (
		b          strings.Builder
		prevParent *goquery.Selection
		prevLine   bool
	)
	doc.Find("body").Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		// Leaf blocks only, so nested markup is not read twice.
		if s.Find(blockSelectors).Length() > 0 {
			return
		}
		text := rowText(s)
		if text == "" {
			return
		}
		parent := s.Parent()
		isLine := lineElements[goquery.NodeName(s)]
		if b.Len() > 0 {
			if isLine && prevLine && parent.IsSelection(prevParent) {
				b.WriteString("\n")
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(text)
		prevParent = parent
		prevLine = isLine
	})
	return b.String()
}

// rowText collapses whitespace. Table cells are separated by a space so
// "Pasta" and "$12" in adjacent cells stay apart.
func rowText(s *goquery.Selection) string {
	if goquery.NodeName(s) != "tr" {
		return collapse(s.Text())
	}
	var cells []string
	s.Find("td, th").Each(func(_ int, c *goquery.Selection) {
		if t := collapse(c.Text()); t != "" {
			cells = append(cells, t)
		}
	})
	return strings.Join(cells, " ")
}

func extractImages(doc *goquery.Document, base *url.URL) []classifier.Image {
	var images []classifier.Image
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := firstAttr(s, "src", "data-src", "data-lazy-src")
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		ref, err := url.Parse(src)
		if err != nil {
			return
		}
		alt, _ := s.Attr("alt")
		images = append(images, classifier.Image{
			URL:    base.ResolveReference(ref).String(),
			Alt:    strings.TrimSpace(alt),
			Width:  intAttr(s, "width"),
			Height: intAttr(s, "height"),
		})
	})
	return images
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func intAttr(s *goquery.Selection, name string) int {
	v, ok := s.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint is a stable digest of the inputs that drive classification.
// Identical pages share a fingerprint, so it keys the classification cache.
func Fingerprint(p classifier.Page) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{p.URL, p.Title, p.Text, strconv.Itoa(len(p.Images))} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
