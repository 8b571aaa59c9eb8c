// Package assemble turns categorized pages into the final llms.txt
// Markdown document.
package assemble

import (
	"context"
	"sort"
	"strings"

	"llmstxt/internal/model"
)

// Assembler produces the llms.txt document for a site.
type Assembler interface {
	Assemble(ctx context.Context, site model.Site, pages []model.Page) (string, error)
}

// sectionOrder fixes the emission order of category sections.
var sectionOrder = []string{
	"Getting Started",
	"Documentation",
	"API Reference",
	"Guides",
	"Examples",
	"Core Pages",
	"FAQ",
	"Changelog",
	"About",
	"Blog",
	"Other",
}

// optionalThreshold sends low-relevance pages to a trailing Optional
// section regardless of category.
const optionalThreshold = 0.3

// TemplateAssembler builds the document deterministically from
// categories and relevance alone.
type TemplateAssembler struct{}

func (TemplateAssembler) Assemble(_ context.Context, site model.Site, pages []model.Page) (string, error) {
	var lines []string

	title := site.Domain
	if site.Title != nil && *site.Title != "" {
		title = *site.Title
	}
	lines = append(lines, "# "+title)
	if site.Description != nil && *site.Description != "" {
		lines = append(lines, "\n> "+*site.Description)
	}
	lines = append(lines, "")

	sorted := make([]model.Page, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RelevanceScore > sorted[j].RelevanceScore
	})

	seen := make(map[string]bool)
	categorized := make(map[string][]model.Page)
	var optional []model.Page
	for _, p := range sorted {
		if p.Status == model.PageRemoved || seen[p.URL] {
			continue
		}
		seen[p.URL] = true
		if p.RelevanceScore < optionalThreshold {
			optional = append(optional, p)
		} else {
			categorized[p.Category] = append(categorized[p.Category], p)
		}
	}

	for _, section := range sectionOrder {
		sectionPages := categorized[section]
		if len(sectionPages) == 0 {
			continue
		}
		lines = append(lines, "## "+section, "")
		for _, p := range sectionPages {
			lines = append(lines, formatLink(pageTitle(p), p.URL, p.Description))
		}
		lines = append(lines, "")
	}

	if len(optional) > 0 {
		lines = append(lines, "## Optional", "")
		for _, p := range optional {
			lines = append(lines, formatLink(pageTitle(p), p.URL, p.Description))
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n"), nil
}

func pageTitle(p model.Page) string {
	if p.Title != nil && *p.Title != "" {
		return *p.Title
	}
	return p.URL
}

// formatLink emits one Markdown list entry. Parentheses in the URL are
// percent-escaped; they would otherwise terminate the link.
func formatLink(title, url string, description *string) string {
	safeURL := strings.NewReplacer("(", "%28", ")", "%29").Replace(url)
	line := "- [" + title + "](" + safeURL + ")"
	if description != nil && *description != "" {
		line += ": " + *description
	}
	return line
}
