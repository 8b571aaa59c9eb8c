package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"llmstxt/internal/store"
	"llmstxt/internal/urlutil"
)

func createSiteHandler(c *fiber.Ctx) error {
	var req SiteRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
	}
	if req.URL == "" {
		return badRequest(c, "BAD_REQUEST", "Missing required field 'url'")
	}

	normalized, err := urlutil.Normalize(req.URL)
	if err != nil {
		return badRequest(c, "INVALID_URL", err.Error())
	}
	domain, err := urlutil.Host(normalized)
	if err != nil {
		return badRequest(c, "INVALID_URL", err.Error())
	}

	st := getStore(c)

	// Re-registering an existing URL enqueues a fresh crawl instead of
	// erroring; the frontend treats POST /sites as "crawl this".
	site, err := st.GetSiteByURL(c.Context(), normalized)
	created := false
	if errors.Is(err, store.ErrNotFound) {
		site, err = st.CreateSite(c.Context(), normalized, domain)
		created = true
	}
	if err != nil {
		return internalError(c, err)
	}

	job, err := enqueueCrawl(c, site, CrawlRequest{})
	if err != nil {
		return internalError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"site": site,
		"job":  job,
	})
}

func listSitesHandler(c *fiber.Ctx) error {
	sites, err := getStore(c).ListSites(c.Context())
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(sites)
}

func getSiteHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	return c.JSON(site)
}

func deleteSiteHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	// Cascade removes jobs, tasks, pages, documents and the schedule.
	// A worker mid-crawl notices the missing site and dead-letters the
	// task.
	if err := getStore(c).DeleteSite(c.Context(), site.ID); err != nil {
		return internalError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func listPagesHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	st := getStore(c)

	job, err := st.LatestCompletedJob(c.Context(), site.ID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON([]any{})
	}
	if err != nil {
		return internalError(c, err)
	}

	pages, err := st.ListPages(c.Context(), job.ID)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(pages)
}
