// Package htmlmeta reads page metadata (OpenGraph, itemprop, iframes and
// inline scripts) from fetched HTML.
package htmlmeta

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is a parsed HTML document.
type Page struct {
	doc *goquery.Document
}

// Parse parses html into a Page.
func Parse(html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return &Page{doc: doc}, nil
}

// MustParse parses html and returns an empty Page on failure. The HTML
// tokenizer only fails on reader errors, which a strings.Reader never has.
func MustParse(html string) *Page {
	p, err := Parse(html)
	if err != nil {
		p, _ = Parse("")
	}
	return p
}

// Meta returns the content of the first <meta> whose property or name equals key.
func (p *Page) Meta(key string) string {
	var content string
	p.doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		prop, _ := s.Attr("property")
		name, _ := s.Attr("name")
		if !strings.EqualFold(prop, key) && !strings.EqualFold(name, key) {
			return true
		}
		if c, ok := s.Attr("content"); ok && strings.TrimSpace(c) != "" {
			content = strings.TrimSpace(c)
			return false
		}
		return true
	})
	return content
}

// OGTitle returns og:title (falling back to twitter:title), or def.
func (p *Page) OGTitle(def string) string {
	return firstNonEmpty(def, p.Meta("og:title"), p.Meta("twitter:title"))
}

// OGDescription returns og:description (falling back to description), or def.
func (p *Page) OGDescription(def string) string {
	return firstNonEmpty(def, p.Meta("og:description"), p.Meta("description"))
}

// OGImage returns og:image (falling back to twitter:image), or def.
func (p *Page) OGImage(def string) string {
	return firstNonEmpty(def, p.Meta("og:image"), p.Meta("twitter:image"))
}

// ItemProp returns the content of the first element with itemprop=name.
func (p *Page) ItemProp(name string) string {
	sel := p.doc.Find(fmt.Sprintf(`[itemprop=%q]`, name)).First()
	if c, ok := sel.Attr("content"); ok {
		return strings.TrimSpace(c)
	}
	return ""
}

// IframeSrc returns the src of the first iframe whose src contains substr.
func (p *Page) IframeSrc(substr string) string {
	var src string
	p.doc.Find("iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("src")
		if strings.Contains(v, substr) {
			src = v
			return false
		}
		return true
	})
	return src
}

// ScriptByID returns the raw text of <script id=id>.
func (p *Page) ScriptByID(id string) (string, bool) {
	sel := p.doc.Find(fmt.Sprintf(`script[id=%q]`, id)).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}

func firstNonEmpty(def string, values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return def
}
