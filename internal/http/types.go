package http

// ErrorResponse is the error envelope returned by every failing
// endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// SiteRequest registers a site for crawling.
type SiteRequest struct {
	URL string `json:"url"`
}

// CrawlRequest optionally overrides the crawl limits for one run.
type CrawlRequest struct {
	MaxDepth *int `json:"max_depth,omitempty"`
	MaxPages *int `json:"max_pages,omitempty"`
}

// ScheduleRequest upserts the recurring crawl of a site.
type ScheduleRequest struct {
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone,omitempty"`
	IsActive       *bool  `json:"is_active,omitempty"`
}

// LlmsTxtUpdateRequest replaces the current document with an edited
// version.
type LlmsTxtUpdateRequest struct {
	Content string `json:"content"`
}
