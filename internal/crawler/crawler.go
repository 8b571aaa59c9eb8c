// Package crawler implements the polite breadth-first site crawler.
// It fetches level by level under a concurrency bound, honors
// robots.txt and per-host rate limits, and streams per-page events to
// its consumer as pages complete.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"llmstxt/internal/extract"
	"llmstxt/internal/urlutil"
)

// Options controls one crawl run.
type Options struct {
	SeedURL       string
	MaxDepth      int
	MaxPages      int
	Concurrency   int
	UserAgent     string
	FetchTimeout  time.Duration
	HostRate      float64
	HostBurst     int
	RespectRobots bool
	RenderEnabled bool
	BrowserURL    string
	Logger        *slog.Logger
}

// EventKind discriminates crawl events.
type EventKind int

const (
	EventPage EventKind = iota
	EventProgress
	EventCompleted
	EventFailed
)

// PageCrawled is emitted once per successfully parsed page.
type PageCrawled struct {
	URL         string
	Depth       int
	Title       string
	Description string
	Headings    []string
	Category    string
	Relevance   float64
	InSitemap   bool
	IsSeed      bool
	Rendered    bool
}

// Progress carries the run counters known to the crawler.
type Progress struct {
	Found    int
	Crawled  int
	Skipped  int
	MaxPages int
}

// Event is one item on the crawl event stream.
type Event struct {
	Kind     EventKind
	Page     PageCrawled
	Progress Progress
	Err      error
}

// skippedExtensions prefilters URLs that cannot be HTML before any
// request is made.
var skippedExtensions = map[string]bool{
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".dmg": true, ".exe": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".webp": true,
	".ico": true, ".css": true, ".js": true, ".mjs": true, ".json": true, ".xml": true,
	".mp3": true, ".mp4": true, ".webm": true, ".avi": true, ".mov": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".wasm": true,
}

// authPathSegments are skipped outright; crawling behind them is never
// useful and often harmful. Sections like /admin are left to robots.txt
// so their exclusion is visible in the skip counters.
var authPathSegments = map[string]bool{
	"login": true, "signin": true, "signup": true, "register": true,
	"logout": true, "signout": true,
}

const (
	fetchRetries  = 3
	maxRedirects  = 5
	progressEvery = time.Second
)

// Crawler runs one bounded BFS over a single site.
type Crawler struct {
	opts     Options
	client   *http.Client
	rootHost string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	visited  map[string]bool
	found    int
	crawled  int
	skipped  int
}

// New validates options and prepares a crawler for the seed URL.
func New(opts Options) (*Crawler, error) {
	seed, err := urlutil.Normalize(opts.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("seed url: %w", err)
	}
	opts.SeedURL = seed

	if opts.MaxDepth < 1 {
		opts.MaxDepth = 3
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 200
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 20
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	if opts.HostRate <= 0 {
		opts.HostRate = 2
	}
	if opts.HostBurst < 1 {
		opts.HostBurst = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	host, err := urlutil.Host(seed)
	if err != nil {
		return nil, err
	}

	c := &Crawler{
		opts:     opts,
		rootHost: host,
		limiters: make(map[string]*rate.Limiter),
		visited:  make(map[string]bool),
	}
	c.client = &http.Client{
		Timeout: opts.FetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if !urlutil.SameHost(host, strings.ToLower(req.URL.Hostname())) {
				return errors.New("redirect leaves crawl domain")
			}
			return nil
		},
	}
	return c, nil
}

type frontierItem struct {
	url   string
	depth int
}

// Run executes the crawl and returns its event stream. The channel is
// closed after a terminal Completed or Failed event. Cancelling ctx
// stops the crawl; the run still terminates with Completed over the
// pages gathered so far unless nothing was crawled.
func (c *Crawler) Run(ctx context.Context) <-chan Event {
	events := make(chan Event, 64)
	go func() {
		defer close(events)
		c.run(ctx, events)
	}()
	return events
}

func (c *Crawler) run(ctx context.Context, events chan<- Event) {
	base, err := url.Parse(c.opts.SeedURL)
	if err != nil {
		events <- Event{Kind: EventFailed, Err: err}
		return
	}

	polite := newPoliteness(ctx, c.client, base, c.opts.UserAgent, c.opts.RespectRobots)

	frontier := []frontierItem{{url: c.opts.SeedURL, depth: 0}}
	c.visited[c.opts.SeedURL] = true
	c.found = 1

	// Sitemap entries seed the second level so they respect the same
	// depth and page budgets as organic discovery.
	for _, su := range polite.SitemapURLs() {
		if h, err := urlutil.Host(su); err != nil || !urlutil.SameHost(c.rootHost, h) {
			continue
		}
		if c.shouldSkipPath(su) || c.visited[su] {
			continue
		}
		c.visited[su] = true
		c.found++
		frontier = append(frontier, frontierItem{url: su, depth: 1})
	}

	done := make(chan struct{})
	var tickWG sync.WaitGroup
	tickWG.Add(1)
	go func() {
		defer tickWG.Done()
		c.progressTicker(done, events)
	}()
	// The ticker must be fully stopped before the channel can close.
	stopTicker := func() {
		close(done)
		tickWG.Wait()
	}

	for depth := 0; len(frontier) > 0 && depth <= c.opts.MaxDepth; depth++ {
		var level []frontierItem
		for _, it := range frontier {
			if it.depth == depth {
				level = append(level, it)
			}
		}
		if len(level) == 0 {
			continue
		}

		next := c.crawlLevel(ctx, level, polite, events)
		if ctx.Err() != nil {
			break
		}

		var rest []frontierItem
		for _, it := range frontier {
			if it.depth > depth {
				rest = append(rest, it)
			}
		}
		frontier = append(rest, next...)

		if c.pageBudgetSpent() {
			break
		}
	}

	stopTicker()

	if c.crawledCount() == 0 && ctx.Err() != nil {
		events <- Event{Kind: EventFailed, Err: ctx.Err()}
		return
	}
	events <- Event{Kind: EventProgress, Progress: c.progress()}
	events <- Event{Kind: EventCompleted}
}

// crawlLevel fetches one BFS level under the concurrency bound and
// returns the deduplicated frontier for the next level.
func (c *Crawler) crawlLevel(ctx context.Context, level []frontierItem, polite *Politeness, events chan<- Event) []frontierItem {
	work := make(chan frontierItem)
	results := make(chan []frontierItem, len(level))

	workers := c.opts.Concurrency
	if workers > len(level) {
		workers = len(level)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range work {
				results <- c.crawlOne(ctx, it, polite, events)
			}
		}()
	}

feed:
	for _, it := range level {
		if c.pageBudgetSpent() || ctx.Err() != nil {
			break feed
		}
		select {
		case work <- it:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()
	close(results)

	var next []frontierItem
	for batch := range results {
		next = append(next, batch...)
	}
	return next
}

// crawlOne fetches and parses a single page, emits its event, and
// returns newly discovered frontier items.
func (c *Crawler) crawlOne(ctx context.Context, it frontierItem, polite *Politeness, events chan<- Event) []frontierItem {
	log := c.opts.Logger

	if !polite.Allowed(it.url) {
		log.Debug("robots disallow", "url", it.url)
		c.markSkipped(events)
		return nil
	}
	if err := c.waitHost(ctx, it.url); err != nil {
		return nil
	}

	body, err := c.fetch(ctx, it.url)
	if err != nil {
		log.Debug("fetch failed", "url", it.url, "error", err)
		c.markSkipped(events)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		c.markSkipped(events)
		return nil
	}
	meta := extract.Parse(doc)
	rendered := false

	// JS-heavy sites often serve a shell page with next to no links.
	// For shallow pages, retry through a real browser and keep the
	// rendered version if it reveals meaningfully more of the site.
	if c.opts.RenderEnabled && it.depth <= 1 {
		if staticLinks := c.inScopeLinkCount(it.url, meta.Links); staticLinks < 2 {
			if rmeta, ok := c.renderProbe(ctx, it.url, staticLinks); ok {
				meta = rmeta
				rendered = true
			}
		}
	}

	isSeed := it.url == c.opts.SeedURL
	category := extract.Categorize(it.url, isSeed)
	relevance := extract.Relevance(category, it.depth, urlutil.PathSegments(it.url), polite.InSitemap(it.url))

	// With several fetchers in flight the budget can fill while this
	// page was downloading. The slot claim decides atomically whether
	// the page still counts; late finishers are dropped.
	crawledNow, ok := c.claimPage(events)
	if !ok {
		return nil
	}
	next := c.discover(it, meta.Links)

	events <- Event{Kind: EventPage, Page: PageCrawled{
		URL:         it.url,
		Depth:       it.depth,
		Title:       meta.Title,
		Description: meta.Description,
		Headings:    meta.Headings,
		Category:    category,
		Relevance:   relevance,
		InSitemap:   polite.InSitemap(it.url),
		IsSeed:      isSeed,
		Rendered:    rendered,
	}}

	if crawledNow >= c.opts.MaxPages {
		return nil
	}
	return next
}

// discover resolves, filters and dedupes in-page links into frontier
// items one level deeper.
func (c *Crawler) discover(parent frontierItem, links []string) []frontierItem {
	if parent.depth+1 > c.opts.MaxDepth {
		return nil
	}
	base, err := url.Parse(parent.url)
	if err != nil {
		return nil
	}

	var next []frontierItem
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, href := range links {
		norm, err := urlutil.Resolve(base, href)
		if err != nil {
			continue
		}
		host, err := urlutil.Host(norm)
		if err != nil || !urlutil.SameHost(c.rootHost, host) {
			continue
		}
		if c.shouldSkipPath(norm) || c.visited[norm] {
			continue
		}
		c.visited[norm] = true
		c.found++
		next = append(next, frontierItem{url: norm, depth: parent.depth + 1})
	}
	return next
}

// fetch retrieves a URL with retries on server and network errors.
// Only HTML responses are returned.
func (c *Crawler) fetch(ctx context.Context, rawURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < fetchRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 300:
			resp.Body.Close()
			return "", fmt.Errorf("status %d", resp.StatusCode)
		}

		ct := resp.Header.Get("Content-Type")
		if ct != "" && !strings.Contains(ct, "text/html") && !strings.Contains(ct, "application/xhtml") {
			resp.Body.Close()
			return "", fmt.Errorf("non-html content type %q", ct)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return string(body), nil
	}
	return "", lastErr
}

// waitHost blocks on the per-host token bucket.
func (c *Crawler) waitHost(ctx context.Context, rawURL string) error {
	host, err := urlutil.Host(rawURL)
	if err != nil {
		return err
	}
	c.mu.Lock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.opts.HostRate), c.opts.HostBurst)
		c.limiters[host] = lim
	}
	c.mu.Unlock()
	return lim.Wait(ctx)
}

func (c *Crawler) shouldSkipPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	path := strings.ToLower(u.Path)
	for _, seg := range strings.Split(path, "/") {
		if authPathSegments[seg] {
			return true
		}
	}
	if i := strings.LastIndex(path, "."); i >= 0 {
		if skippedExtensions[path[i:]] {
			return true
		}
	}
	return false
}

// inScopeLinkCount counts links that resolve to the crawl domain.
func (c *Crawler) inScopeLinkCount(pageURL string, links []string) int {
	base, err := url.Parse(pageURL)
	if err != nil {
		return 0
	}
	n := 0
	for _, href := range links {
		norm, err := urlutil.Resolve(base, href)
		if err != nil {
			continue
		}
		if host, err := urlutil.Host(norm); err == nil && urlutil.SameHost(c.rootHost, host) {
			n++
		}
	}
	return n
}

// claimPage takes one slot of the page budget, or reports that the
// budget is already spent.
func (c *Crawler) claimPage(events chan<- Event) (int, bool) {
	c.mu.Lock()
	if c.crawled >= c.opts.MaxPages {
		c.mu.Unlock()
		return 0, false
	}
	c.crawled++
	n := c.crawled
	p := c.progressLocked()
	c.mu.Unlock()
	c.emitProgress(events, p)
	return n, true
}

func (c *Crawler) markSkipped(events chan<- Event) {
	c.mu.Lock()
	c.skipped++
	p := c.progressLocked()
	c.mu.Unlock()
	c.emitProgress(events, p)
}

func (c *Crawler) emitProgress(events chan<- Event, p Progress) {
	select {
	case events <- Event{Kind: EventProgress, Progress: p}:
	default:
		// Progress is advisory; never block page delivery on it.
	}
}

func (c *Crawler) progressTicker(done <-chan struct{}, events chan<- Event) {
	t := time.NewTicker(progressEvery)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.emitProgress(events, c.progress())
		}
	}
}

func (c *Crawler) progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

func (c *Crawler) progressLocked() Progress {
	return Progress{Found: c.found, Crawled: c.crawled, Skipped: c.skipped, MaxPages: c.opts.MaxPages}
}

func (c *Crawler) pageBudgetSpent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crawled >= c.opts.MaxPages
}

func (c *Crawler) crawledCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crawled
}
