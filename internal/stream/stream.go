// Package stream serves crawl progress as server-sent events. The
// worker and API run in separate processes, so events are derived by
// polling persisted rows instead of an in-memory bus; the monotonic
// page id doubles as the replay cursor, which makes reconnects free.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"llmstxt/internal/model"
	"llmstxt/internal/store"
)

// Source is the slice of the store the streamer reads from.
type Source interface {
	GetCrawlJob(ctx context.Context, id int64) (model.CrawlJob, error)
	ListPagesAfter(ctx context.Context, jobID, cursor int64) ([]model.Page, error)
}

// FlushWriter is a writer whose output can be pushed to the client
// mid-stream. *bufio.Writer satisfies it.
type FlushWriter interface {
	io.Writer
	Flush() error
}

// Streamer replays and follows one crawl job's events.
type Streamer struct {
	Source    Source
	Logger    *slog.Logger
	Poll      time.Duration
	Keepalive time.Duration
}

type pageEvent struct {
	Type        string  `json:"type"`
	URL         string  `json:"url"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    string  `json:"category"`
	Relevance   float64 `json:"relevance"`
	Depth       int     `json:"depth"`
	Status      string  `json:"status"`
}

type progressEvent struct {
	Type         string `json:"type"`
	PagesFound   int    `json:"pages_found"`
	PagesCrawled int    `json:"pages_crawled"`
	PagesChanged int    `json:"pages_changed"`
	PagesSkipped int    `json:"pages_skipped"`
	MaxPages     int    `json:"max_pages"`
}

type terminalEvent struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

type heartbeatEvent struct {
	Type string `json:"type"`
}

// Stream writes SSE frames for jobID until the job reaches a terminal
// state, the client goes away, or ctx is cancelled. It returns nil on
// a clean terminal close.
func (s *Streamer) Stream(ctx context.Context, jobID int64, w FlushWriter) error {
	poll := s.Poll
	if poll <= 0 {
		poll = time.Second
	}
	keepalive := s.Keepalive
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	var cursor int64
	var lastProgress progressEvent
	lastWrite := time.Now()

	emit := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
			return err
		}
		lastWrite = time.Now()
		return w.Flush()
	}

	// One pass replays new pages, then progress, then checks for a
	// terminal state. The first pass replays everything from row zero.
	pass := func() (bool, error) {
		pages, err := s.Source.ListPagesAfter(ctx, jobID, cursor)
		if err != nil {
			return false, err
		}
		for _, p := range pages {
			cursor = p.ID
			if err := emit(pageEvent{
				Type:        "page_crawled",
				URL:         p.URL,
				Title:       p.Title,
				Description: p.Description,
				Category:    p.Category,
				Relevance:   p.RelevanceScore,
				Depth:       p.Depth,
				Status:      string(p.Status),
			}); err != nil {
				return false, err
			}
		}

		job, err := s.Source.GetCrawlJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		progress := progressEvent{
			Type:         "progress",
			PagesFound:   job.PagesFound,
			PagesCrawled: job.PagesCrawled,
			PagesChanged: job.PagesChanged,
			PagesSkipped: job.PagesSkipped,
			MaxPages:     job.MaxPages,
		}
		if progress != lastProgress {
			lastProgress = progress
			if err := emit(progress); err != nil {
				return false, err
			}
		}

		if job.Status.Terminal() {
			term := terminalEvent{Type: "completed"}
			if job.Status == model.JobFailed {
				term.Type = "failed"
				if job.ErrorMessage != nil {
					term.Error = *job.ErrorMessage
				}
			}
			if err := emit(term); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	if done, err := pass(); done || err != nil {
		return s.finish(err, jobID, log)
	}

	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			done, err := pass()
			if done || err != nil {
				return s.finish(err, jobID, log)
			}
			if time.Since(lastWrite) >= keepalive {
				if err := emit(heartbeatEvent{Type: "heartbeat"}); err != nil {
					return s.finish(err, jobID, log)
				}
			}
		}
	}
}

func (s *Streamer) finish(err error, jobID int64, log *slog.Logger) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	log.Debug("stream closed", "job_id", jobID, "error", err)
	return err
}
