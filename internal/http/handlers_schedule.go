package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"llmstxt/internal/scheduler"
	"llmstxt/internal/store"
)

func getScheduleHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	sched, err := getStore(c).GetSchedule(c.Context(), site.ID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "No schedule for this site")
	}
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(sched)
}

func upsertScheduleHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}

	var req ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
	}
	if req.CronExpression == "" {
		return badRequest(c, "BAD_REQUEST", "Missing required field 'cron_expression'")
	}
	if err := scheduler.ValidateExpression(req.CronExpression); err != nil {
		return badRequest(c, "INVALID_CRON", err.Error())
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	// The first firing is computed here so the worker-side loop only
	// ever reads next_run_at.
	var nextPtr *time.Time
	if active {
		next, err := scheduler.NextRun(req.CronExpression, timezone, time.Now().UTC())
		if err != nil {
			return badRequest(c, "INVALID_CRON", err.Error())
		}
		nextPtr = &next
	}

	sched, err := getStore(c).UpsertSchedule(c.Context(), site.ID, req.CronExpression, timezone, active, nextPtr)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(sched)
}

func deleteScheduleHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	err = getStore(c).DeleteSchedule(c.Context(), site.ID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(c, "No schedule for this site")
	}
	if err != nil {
		return internalError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
