package extract

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

func parseHTML(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func TestParsePrecedence(t *testing.T) {
	doc := parseHTML(t, `<html><head>
		<title>Tab Title</title>
		<meta property="og:title" content="OG Title">
		<meta name="description" content="Meta description.">
		<meta property="og:description" content="OG description.">
		<link rel="canonical" href="https://example.com/canon">
	</head><body><h1>Heading Title</h1><p>First paragraph.</p></body></html>`)

	m := Parse(doc)
	if m.Title != "OG Title" {
		t.Fatalf("title = %q, want og:title", m.Title)
	}
	if m.Description != "Meta description." {
		t.Fatalf("description = %q, want meta description", m.Description)
	}
	if m.Canonical != "https://example.com/canon" {
		t.Fatalf("canonical = %q", m.Canonical)
	}
}

func TestParseFallbacks(t *testing.T) {
	doc := parseHTML(t, `<html><body>
		<h1>  Only Heading  </h1>
		<p></p>
		<p>   The   first   real   paragraph.   </p>
	</body></html>`)

	m := Parse(doc)
	if m.Title != "Only Heading" {
		t.Fatalf("title = %q, want h1 fallback", m.Title)
	}
	if m.Description != "The first real paragraph." {
		t.Fatalf("description = %q, want first paragraph", m.Description)
	}
}

func TestParseDescriptionClipped(t *testing.T) {
	long := strings.Repeat("word ", 100)
	doc := parseHTML(t, "<html><body><p>"+long+"</p></body></html>")
	m := Parse(doc)
	if len(m.Description) > 240 {
		t.Fatalf("description length = %d, want <= 240", len(m.Description))
	}
}

func TestParseDescriptionClipsOnRuneBoundary(t *testing.T) {
	// A two-byte rune straddling the byte limit must not be split.
	long := strings.Repeat("a", 239) + strings.Repeat("é", 10)
	doc := parseHTML(t, "<html><body><p>"+long+"</p></body></html>")
	m := Parse(doc)
	if len(m.Description) > 240 {
		t.Fatalf("description length = %d, want <= 240", len(m.Description))
	}
	if !utf8.ValidString(m.Description) {
		t.Fatalf("description is not valid UTF-8: %q", m.Description)
	}
}

func TestParseHeadings(t *testing.T) {
	doc := parseHTML(t, `<html><body>
		<h1>Intro</h1>
		<h2> Setup </h2>
		<h2>Setup</h2>
		<h3>Advanced</h3>
		<h4>Ignored</h4>
	</body></html>`)

	m := Parse(doc)
	want := []string{"Intro", "Setup", "Advanced"}
	if len(m.Headings) != len(want) {
		t.Fatalf("headings = %v, want %v", m.Headings, want)
	}
	for i := range want {
		if m.Headings[i] != want[i] {
			t.Fatalf("headings[%d] = %q, want %q", i, m.Headings[i], want[i])
		}
	}
}

func TestParseHeadingsCapped(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 30; i++ {
		b.WriteString("<h2>Heading ")
		b.WriteByte(byte('A' + i))
		b.WriteString("</h2>")
	}
	b.WriteString("</body></html>")

	m := Parse(parseHTML(t, b.String()))
	if len(m.Headings) != maxHeadings {
		t.Fatalf("headings = %d, want cap %d", len(m.Headings), maxHeadings)
	}
}

func TestParseLinks(t *testing.T) {
	doc := parseHTML(t, `<html><body>
		<a href="/docs">Docs</a>
		<a href="  ">blank</a>
		<a>no href</a>
		<a href="https://example.com/api">API</a>
	</body></html>`)

	m := Parse(doc)
	if len(m.Links) != 2 {
		t.Fatalf("links = %v, want 2 entries", m.Links)
	}
}

func TestCategorizePriority(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/docs/api/v2", CategoryAPIReference},
		{"https://example.com/docs/intro", CategoryDocumentation},
		{"https://example.com/guides/deploy", CategoryGuides},
		{"https://example.com/examples/chat", CategoryExamples},
		{"https://example.com/faq", CategoryFAQ},
		{"https://example.com/blog/2026/launch", CategoryBlog},
		{"https://example.com/changelog", CategoryChangelog},
		{"https://example.com/products/quickstart", CategoryGettingStarted},
		{"https://example.com/company/about", CategoryAbout},
		{"https://example.com/pricing", CategoryCorePages},
		{"https://example.com/x/y/z", CategoryOther},
	}
	for _, tc := range cases {
		if got := Categorize(tc.url, false); got != tc.want {
			t.Fatalf("Categorize(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestCategorizeSeed(t *testing.T) {
	if got := Categorize("https://example.com/some/deep/landing", true); got != CategoryCorePages {
		t.Fatalf("seed = %q, want Core Pages", got)
	}
	// A strong signal still beats the seed rule.
	if got := Categorize("https://example.com/docs", true); got != CategoryDocumentation {
		t.Fatalf("seed with /docs = %q, want Documentation", got)
	}
}

func TestCategorizeSegmentBoundary(t *testing.T) {
	if got := Categorize("https://example.com/rapid/tools", false); got == CategoryAPIReference {
		t.Fatal("/rapid must not match /api")
	}
}

func TestRelevance(t *testing.T) {
	got := Relevance(CategoryAPIReference, 0, 0, true)
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("best case relevance = %v, want 1.0", got)
	}

	got = Relevance(CategoryOther, 5, 6, false)
	if math.Abs(got-0.08) > 1e-9 {
		t.Fatalf("worst case relevance = %v, want 0.08", got)
	}

	// Depth and path inputs clamp at 5 and 6.
	if Relevance(CategoryDocumentation, 9, 9, false) != Relevance(CategoryDocumentation, 5, 6, false) {
		t.Fatal("depth and segments should clamp")
	}
}
