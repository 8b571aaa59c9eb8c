package crawler

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/url"

	robotstxt "github.com/temoto/robotstxt"

	"llmstxt/internal/urlutil"
)

// Politeness holds the per-run robots.txt verdicts and the sitemap URL
// set for one host. Both are fetched once at crawl start.
type Politeness struct {
	robots    *robotstxt.RobotsData
	userAgent string
	sitemap   map[string]bool
}

// newPoliteness fetches robots.txt and /sitemap.xml for the seed host.
// Both fetches are best-effort; a missing or broken file just means no
// restrictions and no sitemap boost.
func newPoliteness(ctx context.Context, client *http.Client, base *url.URL, userAgent string, respectRobots bool) *Politeness {
	p := &Politeness{userAgent: userAgent, sitemap: make(map[string]bool)}
	if respectRobots {
		p.robots, _ = fetchRobots(ctx, client, base, userAgent)
	}
	for _, loc := range fetchSitemap(ctx, client, base) {
		if norm, err := urlutil.Normalize(loc); err == nil {
			p.sitemap[norm] = true
		}
	}
	return p
}

// Allowed reports whether robots.txt permits fetching u.
func (p *Politeness) Allowed(u string) bool {
	if p.robots == nil {
		return true
	}
	return p.robots.FindGroup(p.userAgent).Test(u)
}

// InSitemap reports whether a normalized URL was listed in the sitemap.
func (p *Politeness) InSitemap(u string) bool {
	return p.sitemap[u]
}

// SitemapURLs returns the sitemap entries for frontier seeding.
func (p *Politeness) SitemapURLs() []string {
	urls := make([]string, 0, len(p.sitemap))
	for u := range p.sitemap {
		urls = append(urls, u)
	}
	return urls
}

func fetchRobots(ctx context.Context, client *http.Client, base *url.URL, userAgent string) (*robotstxt.RobotsData, error) {
	robotsURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("non-200 robots.txt")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return robotstxt.FromStatusAndBytes(resp.StatusCode, body)
}

// fetchSitemap reads the conventional /sitemap.xml location. Only a
// plain urlset is parsed; sitemap indexes are out of scope.
func fetchSitemap(ctx context.Context, client *http.Client, base *url.URL) []string {
	sitemapURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/sitemap.xml"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL.String(), nil)
	if err != nil {
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	type urlEntry struct {
		Loc string `xml:"loc"`
	}
	type urlSet struct {
		URLs []urlEntry `xml:"url"`
	}
	var us urlSet
	if err := xml.Unmarshal(body, &us); err != nil {
		return nil
	}

	locs := make([]string, 0, len(us.URLs))
	for _, ue := range us.URLs {
		if ue.Loc != "" {
			locs = append(locs, ue.Loc)
		}
	}
	return locs
}
