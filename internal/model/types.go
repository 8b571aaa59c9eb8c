package model

import "time"

// JobStatus represents the lifecycle state of a crawl job. These values
// must match the text values stored in crawl_jobs.status.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether a job status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// TaskStatus represents the lifecycle state of a queue task
// (crawl_tasks.status).
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskLeased     TaskStatus = "leased"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
	TaskDeadLetter TaskStatus = "dead_letter"
)

// PageStatus classifies how a page changed relative to the prior
// successful crawl (pages.status).
type PageStatus string

const (
	PageAdded     PageStatus = "added"
	PageUpdated   PageStatus = "updated"
	PageUnchanged PageStatus = "unchanged"
	PageRemoved   PageStatus = "removed"
)

// Site is a registered website. url is normalized before insert; domain
// is the host used for crawl scoping.
type Site struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Domain      string    `json:"domain"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CrawlJob is one crawl run over a site. Counters only ever increase
// while the job is running.
type CrawlJob struct {
	ID           int64      `json:"id"`
	SiteID       int64      `json:"site_id"`
	Status       JobStatus  `json:"status"`
	PagesFound   int        `json:"pages_found"`
	PagesCrawled int        `json:"pages_crawled"`
	PagesChanged int        `json:"pages_changed"`
	PagesSkipped int        `json:"pages_skipped"`
	MaxPages     int        `json:"max_pages"`
	MaxDepth     int        `json:"max_depth"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CrawlTask is a durable queue row driving exactly one CrawlJob.
type CrawlTask struct {
	ID             int64        `json:"id"`
	SiteID         int64        `json:"site_id"`
	JobID          int64        `json:"job_id"`
	Status         TaskStatus   `json:"status"`
	Priority       int          `json:"priority"`
	Attempts       int          `json:"attempts"`
	MaxAttempts    int          `json:"max_attempts"`
	AvailableAt    time.Time    `json:"available_at"`
	LeasedUntil    *time.Time   `json:"leased_until,omitempty"`
	LeaseOwner     *string      `json:"lease_owner,omitempty"`
	IdempotencyKey *string      `json:"idempotency_key,omitempty"`
	Payload        *TaskPayload `json:"payload,omitempty"`
	LastError      *string      `json:"last_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// TaskPayload carries per-task crawl overrides, stored as JSONB.
type TaskPayload struct {
	MaxDepth *int `json:"max_depth,omitempty"`
	MaxPages *int `json:"max_pages,omitempty"`
}

// Page is a crawled page within one job. (site_id, url) identifies the
// logical page across runs; rows are partitioned per crawl_job_id and id
// is monotonic so it can serve as a replay cursor.
type Page struct {
	ID             int64      `json:"id"`
	SiteID         int64      `json:"site_id"`
	CrawlJobID     int64      `json:"crawl_job_id"`
	URL            string     `json:"url"`
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Headings       []string   `json:"headings"`
	Category       string     `json:"category"`
	RelevanceScore float64    `json:"relevance_score"`
	Depth          int        `json:"depth"`
	ContentHash    string     `json:"content_hash"`
	Status         PageStatus `json:"status"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
}

// GeneratedFile is one version of the assembled llms.txt document.
// Rows are append-only; the newest row per site is the current document.
type GeneratedFile struct {
	ID          int64     `json:"id"`
	SiteID      int64     `json:"site_id"`
	CrawlJobID  *int64    `json:"crawl_job_id,omitempty"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	IsEdited    bool      `json:"is_edited"`
	CreatedAt   time.Time `json:"created_at"`
}

// Schedule is the at-most-one recurring crawl definition per site.
// next_run_at is persisted so a restart does not shift the firing schedule.
type Schedule struct {
	ID             int64      `json:"id"`
	SiteID         int64      `json:"site_id"`
	CronExpression string     `json:"cron_expression"`
	IsActive       bool       `json:"is_active"`
	Timezone       string     `json:"timezone"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
}
