// Package worker runs the claim loop that turns queued crawl tasks
// into finished crawl jobs. Each worker process recovers expired
// leases, claims ready tasks under a concurrency bound, heartbeats
// while a crawl runs, and records the terminal transition.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"llmstxt/internal/assemble"
	"llmstxt/internal/config"
	"llmstxt/internal/metrics"
	"llmstxt/internal/model"
	"llmstxt/internal/queue"
	"llmstxt/internal/store"
)

// ErrPermanent marks task failures that retrying cannot fix, such as a
// crawl whose site was deleted. Wrapping an error with it sends the
// task straight to the dead letter state.
var ErrPermanent = errors.New("permanent failure")

// Worker claims and executes crawl tasks.
type Worker struct {
	Store     *store.Store
	Queue     *queue.Queue
	Cfg       *config.Config
	Assembler assemble.Assembler
	Logger    *slog.Logger
}

// Run polls the queue until ctx is cancelled, then waits for in-flight
// tasks to settle.
func (w *Worker) Run(ctx context.Context) {
	log := w.logger()
	cfg := w.Cfg.Worker

	poll := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if poll <= 0 {
		poll = 2 * time.Second
	}
	slots := cfg.MaxConcurrentTasks
	if slots < 1 {
		slots = 1
	}

	log.Info("worker started", "worker_id", cfg.ID, "poll", poll, "slots", slots)

	sem := make(chan struct{}, slots)
	var wg sync.WaitGroup

	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("worker draining", "worker_id", cfg.ID)
			wg.Wait()
			log.Info("worker stopped", "worker_id", cfg.ID)
			return
		case <-t.C:
			w.recover(ctx)
			w.claimLoop(ctx, sem, &wg)
		}
	}
}

func (w *Worker) recover(ctx context.Context) {
	n, err := w.Queue.Recover(ctx)
	if err != nil {
		w.logger().Error("lease recovery failed", "error", err)
		return
	}
	if n > 0 {
		w.logger().Warn("recovered expired leases", "count", n)
		metrics.RecordRecovered(n)
	}
}

// claimLoop claims tasks while free slots remain.
func (w *Worker) claimLoop(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	lease := time.Duration(w.Cfg.Worker.LeaseSeconds) * time.Second
	for {
		select {
		case sem <- struct{}{}:
		default:
			return
		}

		task, err := w.Queue.Claim(ctx, w.Cfg.Worker.ID, lease)
		if err != nil || task == nil {
			if err != nil && ctx.Err() == nil {
				w.logger().Error("claim failed", "error", err)
			}
			<-sem
			return
		}

		wg.Add(1)
		go func(task model.CrawlTask) {
			defer wg.Done()
			defer func() { <-sem }()
			w.runTask(ctx, task)
		}(*task)
	}
}

// runTask executes one claimed task end to end, including heartbeats
// and the terminal queue transition.
func (w *Worker) runTask(ctx context.Context, task model.CrawlTask) {
	log := w.logger().With("task_id", task.ID, "job_id", task.JobID, "site_id", task.SiteID, "attempt", task.Attempts)
	log.Info("task claimed")

	timeout := time.Duration(w.Cfg.Worker.CrawlTimeoutMin) * time.Minute
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hbStop := make(chan struct{})
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		w.heartbeat(taskCtx, task, cancel, hbStop)
	}()

	err := w.execute(taskCtx, task, log)

	close(hbStop)
	hbWG.Wait()

	// Terminal transitions use a fresh context so a timed-out crawl
	// can still be recorded.
	finCtx, finCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finCancel()

	owner := w.Cfg.Worker.ID
	switch {
	case err == nil:
		if terr := w.Queue.Complete(finCtx, task.ID, owner); terr != nil {
			log.Error("complete transition failed", "error", terr)
			return
		}
		metrics.RecordTask("succeeded")
		log.Info("task succeeded")
	case errors.Is(err, ErrPermanent):
		if terr := w.Queue.FailPermanent(finCtx, task.ID, owner, err.Error()); terr != nil {
			log.Error("dead-letter transition failed", "error", terr)
			return
		}
		metrics.RecordTask("dead_letter")
		log.Warn("task dead-lettered", "error", err)
	default:
		if terr := w.Queue.Fail(finCtx, task.ID, owner, err.Error()); terr != nil {
			log.Error("fail transition failed", "error", terr)
			return
		}
		metrics.RecordTask("failed")
		log.Warn("task failed, queued for retry", "error", err)
	}
}

// heartbeat extends the lease until the task settles. Losing the lease
// cancels the crawl so two workers never run the same job.
func (w *Worker) heartbeat(ctx context.Context, task model.CrawlTask, cancel context.CancelFunc, stop <-chan struct{}) {
	interval := time.Duration(w.Cfg.Worker.HeartbeatSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	lease := time.Duration(w.Cfg.Worker.LeaseSeconds) * time.Second

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			err := w.Queue.Heartbeat(ctx, task.ID, w.Cfg.Worker.ID, lease)
			if errors.Is(err, queue.ErrNotOwner) || errors.Is(err, queue.ErrNotFound) {
				w.logger().Warn("lease lost, cancelling crawl", "task_id", task.ID)
				cancel()
				return
			}
			if err != nil && ctx.Err() == nil {
				w.logger().Error("heartbeat failed", "task_id", task.ID, "error", err)
			}
		}
	}
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func permanentf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrPermanent)...)
}
