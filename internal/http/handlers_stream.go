package http

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"llmstxt/internal/store"
	"llmstxt/internal/stream"
)

// streamHandler serves the SSE progress feed of one crawl job. Events
// are replayed from persisted rows, so reconnecting clients simply get
// the full history again before live updates resume.
func streamHandler(c *fiber.Ctx) error {
	site, ok, err := siteFromParams(c)
	if !ok {
		return err
	}
	jobID, err := paramID(c, "job_id")
	if err != nil {
		return badRequest(c, "BAD_REQUEST", "Invalid job id")
	}

	cfg := getConfig(c)
	st := getStore(c)

	job, err := st.GetCrawlJob(c.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.SiteID != site.ID) {
		return notFound(c, "Crawl job not found")
	}
	if err != nil {
		return internalError(c, err)
	}

	var logger *slog.Logger
	if v := c.Locals("logger"); v != nil {
		logger = v.(*slog.Logger)
	}

	streamer := &stream.Streamer{
		Source:    st,
		Logger:    logger,
		Poll:      time.Duration(cfg.Stream.PollIntervalMs) * time.Millisecond,
		Keepalive: time.Duration(cfg.Stream.KeepaliveSeconds) * time.Second,
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	// The fiber context dies when this handler returns; the stream
	// writer runs on after it, ending on job completion or when the
	// client disconnect surfaces as a write error.
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		_ = streamer.Stream(context.Background(), jobID, w)
	}))
	return nil
}
