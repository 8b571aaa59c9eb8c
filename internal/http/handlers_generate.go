package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"llmstxt/internal/store"
)

func getLlmsTxtHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	file, err := getStore(c).CurrentGeneratedFile(c.Context(), site.ID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "No generated document yet")
	}
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(file)
}

// updateLlmsTxtHandler saves a manual edit as a new version on top of
// the current document.
func updateLlmsTxtHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}

	var req LlmsTxtUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
	}
	if req.Content == "" {
		return badRequest(c, "BAD_REQUEST", "Missing required field 'content'")
	}

	st := getStore(c)
	current, err := st.CurrentGeneratedFile(c.Context(), site.ID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "No generated document to edit")
	}
	if err != nil {
		return internalError(c, err)
	}

	updated, err := st.UpdateGeneratedFile(c.Context(), current.ID, req.Content)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(updated)
}

func downloadLlmsTxtHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	file, err := getStore(c).CurrentGeneratedFile(c.Context(), site.ID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "No generated document yet")
	}
	if err != nil {
		return internalError(c, err)
	}

	c.Set("Content-Type", "text/plain; charset=utf-8")
	c.Set("Content-Disposition", `attachment; filename="llms.txt"`)
	return c.SendString(file.Content)
}

func llmsTxtHistoryHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return badRequest(c, "BAD_REQUEST", "limit must be between 1 and 100")
		}
		limit = n
	}

	history, err := getStore(c).GeneratedFileHistory(c.Context(), site.ID, limit)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(history)
}
