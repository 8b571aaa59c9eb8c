package store

import (
	"context"
	"database/sql"

	"llmstxt/internal/model"
)

const jobColumns = `id, site_id, status, pages_found, pages_crawled, pages_changed,
	pages_skipped, max_pages, max_depth, started_at, finished_at, error_message,
	created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (model.CrawlJob, error) {
	var j model.CrawlJob
	var started, finished sql.NullTime
	var errMsg sql.NullString
	err := row.Scan(&j.ID, &j.SiteID, &j.Status, &j.PagesFound, &j.PagesCrawled,
		&j.PagesChanged, &j.PagesSkipped, &j.MaxPages, &j.MaxDepth,
		&started, &finished, &errMsg, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return model.CrawlJob{}, err
	}
	j.StartedAt = timePtr(started)
	j.FinishedAt = timePtr(finished)
	j.ErrorMessage = stringPtr(errMsg)
	return j, nil
}

// CreateCrawlJob inserts a pending job with the effective crawl limits.
func (s *Store) CreateCrawlJob(ctx context.Context, siteID int64, maxPages, maxDepth int) (model.CrawlJob, error) {
	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO crawl_jobs (site_id, max_pages, max_depth)
		 VALUES ($1, $2, $3) RETURNING `+jobColumns,
		siteID, maxPages, maxDepth)
	return scanJob(row)
}

// GetCrawlJob fetches a job by id.
func (s *Store) GetCrawlJob(ctx context.Context, id int64) (model.CrawlJob, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	return job, mapNotFound(err)
}

// ListCrawlJobs returns the most recent jobs for a site.
func (s *Store) ListCrawlJobs(ctx context.Context, siteID int64, limit int) ([]model.CrawlJob, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM crawl_jobs
		 WHERE site_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// LatestCompletedJob returns the newest completed job for a site, used as
// the change-tracking baseline. ErrNotFound when the site has never
// completed a crawl.
func (s *Store) LatestCompletedJob(ctx context.Context, siteID int64) (model.CrawlJob, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM crawl_jobs
		 WHERE site_id = $1 AND status = 'completed'
		 ORDER BY finished_at DESC, id DESC LIMIT 1`, siteID)
	job, err := scanJob(row)
	return job, mapNotFound(err)
}

// MarkJobRunning transitions pending -> running and stamps started_at.
func (s *Store) MarkJobRunning(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE crawl_jobs SET status = 'running', started_at = now(), updated_at = now()
		 WHERE id = $1`, id)
	return err
}

// MarkJobFinished records a terminal status with an optional error message.
func (s *Store) MarkJobFinished(ctx context.Context, id int64, status model.JobStatus, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE crawl_jobs SET status = $2, error_message = $3, finished_at = now(), updated_at = now()
		 WHERE id = $1`, id, string(status), nullString(errMsg))
	return err
}

// UpdateJobCounters overwrites the progress counters. Counters are
// monotonic within a run; callers only ever pass equal-or-larger values.
func (s *Store) UpdateJobCounters(ctx context.Context, id int64, found, crawled, changed, skipped int) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE crawl_jobs SET
			pages_found = $2, pages_crawled = $3, pages_changed = $4, pages_skipped = $5,
			updated_at = now()
		 WHERE id = $1`, id, found, crawled, changed, skipped)
	return err
}
