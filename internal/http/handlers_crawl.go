package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"llmstxt/internal/store"
)

func startCrawlHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}

	var req CrawlRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
		}
	}
	if err := validateCrawlRequest(req); err != nil {
		return badRequest(c, "BAD_REQUEST", err.Error())
	}

	job, err := enqueueCrawl(c, site, req)
	if err != nil {
		return internalError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(job)
}

func listCrawlJobsHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	jobs, err := getStore(c).ListCrawlJobs(c.Context(), site.ID, 20)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(jobs)
}

func crawlStatusHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	jobID, err := paramID(c, "job_id")
	if err != nil {
		return badRequest(c, "BAD_REQUEST", "Invalid job id")
	}

	job, err := getStore(c).GetCrawlJob(c.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.SiteID != site.ID) {
		return notFound(c, "Crawl job not found")
	}
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(job)
}
