package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"llmstxt/internal/config"
	"llmstxt/internal/model"
	"llmstxt/internal/queue"
	"llmstxt/internal/store"
)

func getConfig(c *fiber.Ctx) *config.Config { return c.Locals("config").(*config.Config) }
func getStore(c *fiber.Ctx) *store.Store    { return c.Locals("store").(*store.Store) }
func getQueue(c *fiber.Ctx) *queue.Queue    { return c.Locals("queue").(*queue.Queue) }

func badRequest(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Success: false, Code: code, Error: msg})
}

func notFound(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Success: false, Code: "NOT_FOUND", Error: msg})
}

func internalError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Success: false,
		Code:    "INTERNAL_ERROR",
		Error:   err.Error(),
	})
}

// paramID parses a positive int64 route parameter.
func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

// siteFromParams resolves the :id route parameter to a site, writing
// the error response itself when it cannot.
func siteFromParams(c *fiber.Ctx) (model.Site, bool, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return model.Site{}, false, badRequest(c, "BAD_REQUEST", "Invalid site id")
	}
	site, err := getStore(c).GetSite(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Site{}, false, notFound(c, "Site not found")
	}
	if err != nil {
		return model.Site{}, false, internalError(c, err)
	}
	return site, true, nil
}

// enqueueCrawl provisions a job row and its queue task for a site.
func enqueueCrawl(c *fiber.Ctx, site model.Site, req CrawlRequest) (model.CrawlJob, error) {
	cfg := getConfig(c)

	maxPages := cfg.Crawler.MaxPagesDefault
	if req.MaxPages != nil {
		maxPages = *req.MaxPages
	}
	maxDepth := cfg.Crawler.MaxDepthDefault
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}

	job, err := getStore(c).CreateCrawlJob(c.Context(), site.ID, maxPages, maxDepth)
	if err != nil {
		return model.CrawlJob{}, err
	}

	var payload *model.TaskPayload
	if req.MaxDepth != nil || req.MaxPages != nil {
		payload = &model.TaskPayload{MaxDepth: req.MaxDepth, MaxPages: req.MaxPages}
	}
	if _, _, err := getQueue(c).Enqueue(c.Context(), site.ID, job.ID, 100, nil, payload); err != nil {
		return model.CrawlJob{}, err
	}
	return job, nil
}

// validateCrawlRequest bounds the per-run overrides.
func validateCrawlRequest(req CrawlRequest) error {
	if req.MaxDepth != nil && (*req.MaxDepth < 1 || *req.MaxDepth > 5) {
		return errors.New("max_depth must be between 1 and 5")
	}
	if req.MaxPages != nil && (*req.MaxPages < 1 || *req.MaxPages > 500) {
		return errors.New("max_pages must be between 1 and 500")
	}
	return nil
}
