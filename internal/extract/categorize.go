package extract

import (
	"strings"

	"llmstxt/internal/urlutil"
)

// Page categories. The order of categoryRules is the match priority;
// the first rule whose fragment appears in the URL path wins.
const (
	CategoryGettingStarted = "Getting Started"
	CategoryDocumentation  = "Documentation"
	CategoryAPIReference   = "API Reference"
	CategoryGuides         = "Guides"
	CategoryExamples       = "Examples"
	CategoryFAQ            = "FAQ"
	CategoryBlog           = "Blog"
	CategoryChangelog      = "Changelog"
	CategoryAbout          = "About"
	CategoryCorePages      = "Core Pages"
	CategoryOther          = "Other"
)

var categoryRules = []struct {
	category  string
	fragments []string
}{
	{CategoryAPIReference, []string{"/api", "/reference", "/rest", "/graphql", "/openapi", "/swagger"}},
	{CategoryDocumentation, []string{"/docs", "/documentation", "/manual", "/handbook"}},
	{CategoryGuides, []string{"/guide", "/guides", "/tutorial", "/tutorials", "/how-to", "/howto", "/learn"}},
	{CategoryExamples, []string{"/example", "/examples", "/demo", "/demos", "/sample", "/samples", "/showcase"}},
	{CategoryFAQ, []string{"/faq", "/faqs", "/help", "/support", "/troubleshoot"}},
	{CategoryBlog, []string{"/blog", "/news", "/article", "/articles", "/post", "/posts"}},
	{CategoryChangelog, []string{"/changelog", "/release", "/releases", "/whats-new", "/updates"}},
	{CategoryGettingStarted, []string{"/getting-started", "/get-started", "/quickstart", "/quick-start", "/start", "/intro", "/introduction", "/setup", "/install", "/installation"}},
	{CategoryAbout, []string{"/about", "/team", "/company", "/contact", "/careers", "/mission"}},
}

// categoryWeights feed the relevance score. Reference material ranks
// highest, marketing pages lowest.
var categoryWeights = map[string]float64{
	CategoryAPIReference:   1.0,
	CategoryDocumentation:  0.9,
	CategoryGuides:         0.85,
	CategoryGettingStarted: 0.85,
	CategoryExamples:       0.75,
	CategoryFAQ:            0.7,
	CategoryCorePages:      0.7,
	CategoryChangelog:      0.5,
	CategoryAbout:          0.4,
	CategoryBlog:           0.4,
	CategoryOther:          0.2,
}

// Categorize assigns one of the fixed categories to a URL. The seed
// page and any path of at most one segment fall back to Core Pages when
// no path fragment matches.
func Categorize(rawURL string, isSeed bool) string {
	path := strings.ToLower(urlPath(rawURL))
	for _, r := range categoryRules {
		for _, frag := range r.fragments {
			if containsSegment(path, frag) {
				return r.category
			}
		}
	}
	if isSeed || urlutil.PathSegments(rawURL) <= 1 {
		return CategoryCorePages
	}
	return CategoryOther
}

// containsSegment matches frag as a whole path segment, so "/api"
// matches "/api/v2" and "/v1/api" but not "/rapid".
func containsSegment(path, frag string) bool {
	seg := strings.TrimPrefix(frag, "/")
	for _, part := range strings.Split(path, "/") {
		if part == seg {
			return true
		}
	}
	return false
}

func urlPath(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		rawURL = rawURL[i+3:]
	}
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	if i := strings.Index(rawURL, "/"); i >= 0 {
		return rawURL[i:]
	}
	return "/"
}

// Relevance combines category weight, crawl depth, path depth and
// sitemap presence into a deterministic score in [0, 1].
func Relevance(category string, depth, pathSegments int, inSitemap bool) float64 {
	weight, ok := categoryWeights[category]
	if !ok {
		weight = categoryWeights[CategoryOther]
	}
	sitemap := 0.0
	if inSitemap {
		sitemap = 1.0
	}
	return 0.40*weight +
		0.20*(1-float64(min(depth, 5))/5) +
		0.20*(1-float64(min(pathSegments, 6))/6) +
		0.20*sitemap
}

// CategoryWeight exposes the weight table for the assembler's section
// ordering.
func CategoryWeight(category string) float64 {
	if w, ok := categoryWeights[category]; ok {
		return w
	}
	return categoryWeights[CategoryOther]
}
