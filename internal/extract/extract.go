// Package extract parses crawled HTML into the metadata that drives
// categorization, relevance scoring and change tracking.
package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxHeadings       = 20
	maxDescriptionLen = 240
)

// Metadata is the distilled view of one page.
type Metadata struct {
	Title         string
	Description   string
	Headings      []string
	OGTitle       string
	OGDescription string
	Canonical     string
	Links         []string
}

// Parse extracts metadata and in-page hrefs from an HTML document.
func Parse(doc *goquery.Document) Metadata {
	var m Metadata

	m.OGTitle = metaContent(doc, `meta[property="og:title"]`)
	m.OGDescription = metaContent(doc, `meta[property="og:description"]`)
	m.Canonical, _ = doc.Find(`link[rel="canonical"]`).First().Attr("href")

	// Title precedence: og:title, then <title>, then the first h1.
	m.Title = firstNonEmpty(
		m.OGTitle,
		strings.TrimSpace(doc.Find("title").First().Text()),
		strings.TrimSpace(doc.Find("h1").First().Text()),
	)

	// Description precedence: meta description, og:description, then
	// the first paragraph clipped to a sane length.
	m.Description = firstNonEmpty(
		metaContent(doc, `meta[name="description"]`),
		m.OGDescription,
		firstParagraph(doc),
	)

	m.Headings = collectHeadings(doc)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			href = strings.TrimSpace(href)
			if href != "" {
				m.Links = append(m.Links, href)
			}
		}
	})

	return m
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func firstParagraph(doc *goquery.Document) string {
	var text string
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text = strings.Join(strings.Fields(s.Text()), " ")
		return text == ""
	})
	if len(text) > maxDescriptionLen {
		cut := maxDescriptionLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = strings.TrimSpace(text[:cut])
	}
	return text
}

// collectHeadings gathers h1..h3 in document order, trimmed and
// deduplicated, capped at maxHeadings.
func collectHeadings(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var headings []string
	doc.Find("h1, h2, h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		h := strings.Join(strings.Fields(s.Text()), " ")
		if h == "" || seen[h] {
			return true
		}
		seen[h] = true
		headings = append(headings, h)
		return len(headings) < maxHeadings
	})
	return headings
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
