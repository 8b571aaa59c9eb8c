package crawler

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"llmstxt/internal/extract"
)

// renderAdoptMargin is how many extra in-scope links the rendered page
// must reveal before the browser result replaces the static one.
const renderAdoptMargin = 3

// renderProbe re-fetches a page through a headless browser and returns
// its metadata if rendering exposed meaningfully more of the site than
// the static fetch did. Any browser failure just keeps the static
// result.
func (c *Crawler) renderProbe(ctx context.Context, pageURL string, staticLinks int) (extract.Metadata, bool) {
	log := c.opts.Logger

	html, err := c.renderHTML(ctx, pageURL)
	if err != nil {
		log.Debug("render probe failed", "url", pageURL, "error", err)
		return extract.Metadata{}, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return extract.Metadata{}, false
	}
	meta := extract.Parse(doc)

	rendered := c.inScopeLinkCount(pageURL, meta.Links)
	if rendered < staticLinks+renderAdoptMargin {
		return extract.Metadata{}, false
	}
	log.Debug("adopted rendered page", "url", pageURL, "static_links", staticLinks, "rendered_links", rendered)
	return meta, true
}

func (c *Crawler) renderHTML(ctx context.Context, pageURL string) (string, error) {
	browser := rod.New().Context(ctx).Timeout(c.opts.FetchTimeout)
	if c.opts.BrowserURL != "" {
		browser = browser.ControlURL(c.opts.BrowserURL)
	}
	if err := browser.Connect(); err != nil {
		return "", err
	}
	defer browser.MustClose()

	page, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return "", err
	}
	defer page.MustClose()

	if err := page.WaitLoad(); err != nil {
		return "", err
	}
	return page.HTML()
}
