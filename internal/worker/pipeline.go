package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"llmstxt/internal/crawler"
	"llmstxt/internal/extract"
	"llmstxt/internal/metrics"
	"llmstxt/internal/model"
	"llmstxt/internal/store"
	"llmstxt/internal/tracker"
)

// execute runs the crawl pipeline for one task: crawl, persist pages,
// diff against the prior run, and regenerate the document when the
// site changed.
func (w *Worker) execute(ctx context.Context, task model.CrawlTask, log *slog.Logger) error {
	st := w.Store

	exists, err := st.SiteExists(ctx, task.SiteID)
	if err != nil {
		return err
	}
	if !exists {
		return permanentf("site %d deleted", task.SiteID)
	}
	site, err := st.GetSite(ctx, task.SiteID)
	if err != nil {
		return err
	}

	job, err := st.GetCrawlJob(ctx, task.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return permanentf("crawl job %d deleted", task.JobID)
	}
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		log.Info("job already terminal, nothing to do", "status", job.Status)
		return nil
	}

	if err := st.MarkJobRunning(ctx, job.ID); err != nil {
		return err
	}

	prior, err := w.priorState(ctx, site.ID)
	if err != nil {
		return err
	}
	priorHashes := make(map[string]string, len(prior))
	for url, ps := range prior {
		priorHashes[url] = ps.ContentHash
	}

	c, err := crawler.New(w.crawlOptions(site, job, task))
	if err != nil {
		msg := err.Error()
		if ferr := st.MarkJobFinished(ctx, job.ID, model.JobFailed, &msg); ferr != nil {
			return ferr
		}
		return permanentf("crawler setup: %v", err)
	}

	statuses := make(map[model.PageStatus]int)
	current := make(map[string]bool)
	var progress crawler.Progress
	var crawlErr error

	for ev := range c.Run(ctx) {
		switch ev.Kind {
		case crawler.EventPage:
			w.persistPage(ctx, site, job, ev.Page, prior, priorHashes, statuses, current, log)
		case crawler.EventProgress:
			progress = ev.Progress
			w.updateCounters(ctx, job.ID, progress, tracker.Changed(statuses), log)
		case crawler.EventFailed:
			crawlErr = ev.Err
		}
	}

	if crawlErr != nil {
		msg := truncate(crawlErr.Error(), 1024)
		if ferr := st.MarkJobFinished(ctx, job.ID, model.JobFailed, &msg); ferr != nil {
			return ferr
		}
		metrics.RecordCrawl(string(model.JobFailed), progress.Crawled, progress.Skipped)
		return fmt.Errorf("crawl failed: %w", crawlErr)
	}

	w.recordRemoved(ctx, site, job, priorHashes, prior, current, statuses, log)
	changed := tracker.Changed(statuses)
	w.updateCounters(ctx, job.ID, progress, changed, log)

	if err := w.regenerate(ctx, site, job, changed, log); err != nil {
		msg := truncate(err.Error(), 1024)
		if ferr := st.MarkJobFinished(ctx, job.ID, model.JobFailed, &msg); ferr != nil {
			return ferr
		}
		return err
	}

	if err := st.MarkJobFinished(ctx, job.ID, model.JobCompleted, nil); err != nil {
		return err
	}
	metrics.RecordCrawl(string(model.JobCompleted), progress.Crawled, progress.Skipped)
	log.Info("crawl completed",
		"pages_crawled", progress.Crawled,
		"pages_changed", changed,
		"pages_skipped", progress.Skipped)
	return nil
}

// priorState loads the page states of the most recent completed job,
// keyed by URL. A site with no history yields an empty map.
func (w *Worker) priorState(ctx context.Context, siteID int64) (map[string]store.PriorPageState, error) {
	latest, err := w.Store.LatestCompletedJob(ctx, siteID)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]store.PriorPageState{}, nil
	}
	if err != nil {
		return nil, err
	}
	return w.Store.PriorPageStates(ctx, latest.ID)
}

// crawlOptions layers the config defaults, the job row, and the task
// payload overrides.
func (w *Worker) crawlOptions(site model.Site, job model.CrawlJob, task model.CrawlTask) crawler.Options {
	cc := w.Cfg.Crawler

	maxPages := cc.MaxPagesDefault
	if job.MaxPages > 0 {
		maxPages = job.MaxPages
	}
	maxDepth := cc.MaxDepthDefault
	if job.MaxDepth > 0 {
		maxDepth = job.MaxDepth
	}
	if task.Payload != nil {
		if task.Payload.MaxPages != nil {
			maxPages = *task.Payload.MaxPages
		}
		if task.Payload.MaxDepth != nil {
			maxDepth = *task.Payload.MaxDepth
		}
	}

	return crawler.Options{
		SeedURL:       site.URL,
		MaxDepth:      maxDepth,
		MaxPages:      maxPages,
		Concurrency:   cc.Concurrency,
		UserAgent:     cc.UserAgent,
		FetchTimeout:  time.Duration(cc.FetchTimeoutSec) * time.Second,
		HostRate:      cc.HostRatePerSec,
		HostBurst:     cc.HostBurst,
		RespectRobots: cc.RespectRobots,
		RenderEnabled: w.Cfg.Render.Enabled,
		BrowserURL:    w.Cfg.Render.BrowserURL,
		Logger:        w.logger(),
	}
}

// persistPage stores one crawled page and its change classification.
// Persistence errors are logged and skipped; one bad row must not sink
// the whole crawl.
func (w *Worker) persistPage(ctx context.Context, site model.Site, job model.CrawlJob, pc crawler.PageCrawled,
	prior map[string]store.PriorPageState, priorHashes map[string]string,
	statuses map[model.PageStatus]int, current map[string]bool, log *slog.Logger) {

	hash := tracker.ContentHash(pc.Title, pc.Description, pc.Headings)
	status := tracker.Classify(priorHashes, pc.URL, hash)
	statuses[status]++
	current[pc.URL] = true

	page := model.Page{
		SiteID:         site.ID,
		CrawlJobID:     job.ID,
		URL:            pc.URL,
		Headings:       pc.Headings,
		Category:       pc.Category,
		RelevanceScore: pc.Relevance,
		Depth:          pc.Depth,
		ContentHash:    hash,
		Status:         status,
	}
	if pc.Title != "" {
		page.Title = &pc.Title
	}
	if pc.Description != "" {
		page.Description = &pc.Description
	}
	if ps, ok := prior[pc.URL]; ok {
		page.FirstSeenAt = ps.FirstSeenAt
	}

	if _, err := w.Store.InsertPage(ctx, page); err != nil {
		log.Error("persist page", "url", pc.URL, "error", err)
		return
	}

	if pc.IsSeed {
		var title, desc *string
		if pc.Title != "" {
			title = &pc.Title
		}
		if pc.Description != "" {
			desc = &pc.Description
		}
		if title != nil || desc != nil {
			if err := w.Store.UpdateSiteMetadata(ctx, site.ID, title, desc); err != nil {
				log.Error("update site metadata", "error", err)
			}
		}
	}
}

// recordRemoved writes tombstone rows for pages the prior run had but
// this one did not reach.
func (w *Worker) recordRemoved(ctx context.Context, site model.Site, job model.CrawlJob,
	priorHashes map[string]string, prior map[string]store.PriorPageState,
	current map[string]bool, statuses map[model.PageStatus]int, log *slog.Logger) {

	for _, url := range tracker.Removed(priorHashes, current) {
		statuses[model.PageRemoved]++
		page := model.Page{
			SiteID:      site.ID,
			CrawlJobID:  job.ID,
			URL:         url,
			Category:    extract.Categorize(url, false),
			ContentHash: priorHashes[url],
			Status:      model.PageRemoved,
		}
		if ps, ok := prior[url]; ok {
			page.FirstSeenAt = ps.FirstSeenAt
		}
		if _, err := w.Store.InsertPage(ctx, page); err != nil {
			log.Error("persist removed page", "url", url, "error", err)
		}
	}
}

func (w *Worker) updateCounters(ctx context.Context, jobID int64, p crawler.Progress, changed int, log *slog.Logger) {
	if err := w.Store.UpdateJobCounters(ctx, jobID, p.Found, p.Crawled, changed, p.Skipped); err != nil && ctx.Err() == nil {
		log.Error("update job counters", "error", err)
	}
}

// regenerate rebuilds the llms.txt document when the crawl changed the
// site, or when no document exists yet.
func (w *Worker) regenerate(ctx context.Context, site model.Site, job model.CrawlJob, changed int, log *slog.Logger) error {
	if changed == 0 {
		if _, err := w.Store.CurrentGeneratedFile(ctx, site.ID); err == nil {
			log.Info("no changes, keeping current document")
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	// Re-read the site to pick up metadata written during the crawl.
	fresh, err := w.Store.GetSite(ctx, site.ID)
	if err != nil {
		return err
	}
	pages, err := w.Store.ListPages(ctx, job.ID)
	if err != nil {
		return err
	}

	content, err := w.Assembler.Assemble(ctx, fresh, pages)
	if err != nil {
		return fmt.Errorf("assemble document: %w", err)
	}
	if _, err := w.Store.InsertGeneratedFile(ctx, fresh.ID, &job.ID, content); err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	log.Info("document regenerated", "pages", len(pages), "bytes", len(content))
	return nil
}

// truncate clips s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
