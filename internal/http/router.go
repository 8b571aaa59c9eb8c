// Package http exposes the REST and SSE surface over the store and
// task queue.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"llmstxt/internal/config"
	"llmstxt/internal/metrics"
	"llmstxt/internal/queue"
	"llmstxt/internal/store"
)

type Server struct {
	app    *fiber.App
	config *config.Config
	store  *store.Store
	logger *slog.Logger
}

func NewServer(cfg *config.Config, st *store.Store, q *queue.Queue, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout: 30 * time.Second,
	})

	// Inject shared dependencies into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("store", st)
		c.Locals("queue", q)
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		if logger != nil {
			c.Locals("logger", logger)
		}

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Route().Path

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
		return err
	})

	// Redis client for rate limiting and health checks
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rdb = redis.NewClient(opt)
		}
	}

	// Health endpoints
	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := st.DB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		status := "ok"
		if dbStatus != "ok" || redisStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
		})
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	var rateMw fiber.Handler
	if rdb != nil && cfg.RateLimit.PerMinute > 0 {
		rateMw = rateLimitMiddleware(cfg, rdb)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/api", rateMw)
	registerRoutes(api)

	return &Server{
		app:    app,
		config: cfg,
		store:  st,
		logger: logger,
	}
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func registerRoutes(api fiber.Router) {
	api.Post("/sites", createSiteHandler)
	api.Get("/sites", listSitesHandler)
	api.Get("/sites/:id", getSiteHandler)
	api.Delete("/sites/:id", deleteSiteHandler)
	api.Get("/sites/:id/pages", listPagesHandler)

	api.Post("/sites/:id/crawl", startCrawlHandler)
	api.Get("/sites/:id/crawl", listCrawlJobsHandler)
	api.Get("/sites/:id/crawl/:job_id", crawlStatusHandler)
	api.Get("/sites/:id/crawl/:job_id/stream", streamHandler)

	api.Get("/sites/:id/llms-txt", getLlmsTxtHandler)
	api.Put("/sites/:id/llms-txt", updateLlmsTxtHandler)
	api.Get("/sites/:id/llms-txt/download", downloadLlmsTxtHandler)
	api.Get("/sites/:id/llms-txt/history", llmsTxtHistoryHandler)

	api.Get("/sites/:id/schedule", getScheduleHandler)
	api.Put("/sites/:id/schedule", upsertScheduleHandler)
	api.Delete("/sites/:id/schedule", deleteScheduleHandler)
}
