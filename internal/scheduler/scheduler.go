// Package scheduler fires recurring crawls from persisted cron
// schedules. It runs inside worker processes only; the firing window
// is stored in the database so replicas and restarts cannot shift or
// duplicate runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"llmstxt/internal/model"
	"llmstxt/internal/queue"
	"llmstxt/internal/store"
)

// Scheduler polls for due schedules and enqueues idempotent crawl
// tasks.
type Scheduler struct {
	Store  *store.Store
	Queue  *queue.Queue
	Logger *slog.Logger
	Tick   time.Duration

	// Crawl limits stamped onto jobs this scheduler creates.
	MaxPages int
	MaxDepth int
}

// NextRun evaluates a standard 5-field cron expression in the given
// time zone and returns the first firing strictly after now.
func NextRun(expr, timezone string, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched.Next(now.In(loc)), nil
}

// ValidateExpression rejects malformed cron expressions before they are
// persisted.
func ValidateExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// IdempotencyKey identifies one scheduled firing. Two scheduler
// replicas evaluating the same schedule derive the same key, so the
// queue's uniqueness constraint collapses them into one task.
func IdempotencyKey(siteID int64, firing time.Time) string {
	return fmt.Sprintf("cron-%d-%s", siteID, firing.UTC().Format(time.RFC3339))
}

// Run ticks until ctx is cancelled. The first pass happens immediately
// so due schedules do not wait a full tick after startup.
func (s *Scheduler) Run(ctx context.Context) {
	tick := s.Tick
	if tick <= 0 {
		tick = 30 * time.Second
	}
	log := s.logger()
	log.Info("scheduler started", "tick", tick)

	s.pass(ctx)
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-t.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	log := s.logger()
	now := time.Now().UTC()

	due, err := s.Store.DueSchedules(ctx, now)
	if err != nil {
		log.Error("load due schedules", "error", err)
		return
	}
	for _, sc := range due {
		if err := s.fire(ctx, sc, now); err != nil {
			log.Error("fire schedule", "site_id", sc.SiteID, "error", err)
		}
	}
}

// fire enqueues one crawl for a due schedule and advances its window.
func (s *Scheduler) fire(ctx context.Context, sc model.Schedule, now time.Time) error {
	log := s.logger()

	firing := now
	if sc.NextRunAt != nil {
		firing = *sc.NextRunAt
	}
	key := IdempotencyKey(sc.SiteID, firing)

	next, err := NextRun(sc.CronExpression, sc.Timezone, now)
	if err != nil {
		return err
	}

	// The site may have been deleted since the schedule row cascades
	// asynchronously from our point of view.
	ok, err := s.Store.SiteExists(ctx, sc.SiteID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("schedule for missing site", "site_id", sc.SiteID)
		return s.Store.DeleteSchedule(ctx, sc.SiteID)
	}

	job, err := s.Store.CreateCrawlJob(ctx, sc.SiteID, s.MaxPages, s.MaxDepth)
	if err != nil {
		return err
	}
	task, created, err := s.Queue.Enqueue(ctx, sc.SiteID, job.ID, 100, &key, nil)
	if err != nil {
		return err
	}
	if !created {
		// Another replica already enqueued this firing; retire the
		// job we provisioned for it.
		msg := "deduplicated scheduled run"
		if err := s.Store.MarkJobFinished(ctx, job.ID, model.JobFailed, &msg); err != nil {
			return err
		}
		log.Info("scheduled crawl deduped", "site_id", sc.SiteID, "key", key, "task_id", task.ID)
	} else {
		log.Info("scheduled crawl enqueued", "site_id", sc.SiteID, "job_id", job.ID, "task_id", task.ID, "key", key)
	}

	return s.Store.AdvanceSchedule(ctx, sc.ID, firing, next)
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
