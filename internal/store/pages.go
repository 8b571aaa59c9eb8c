package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlc-dev/pqtype"

	"llmstxt/internal/model"
)

const pageColumns = `id, site_id, crawl_job_id, url, title, description, headings,
	category, relevance_score, depth, content_hash, status, first_seen_at, last_seen_at`

func scanPage(row interface{ Scan(...any) error }) (model.Page, error) {
	var p model.Page
	var title, desc sql.NullString
	var headings pqtype.NullRawMessage
	err := row.Scan(&p.ID, &p.SiteID, &p.CrawlJobID, &p.URL, &title, &desc, &headings,
		&p.Category, &p.RelevanceScore, &p.Depth, &p.ContentHash, &p.Status,
		&p.FirstSeenAt, &p.LastSeenAt)
	if err != nil {
		return model.Page{}, err
	}
	p.Title = stringPtr(title)
	p.Description = stringPtr(desc)
	if headings.Valid {
		if err := json.Unmarshal(headings.RawMessage, &p.Headings); err != nil {
			return model.Page{}, err
		}
	}
	return p, nil
}

// InsertPage persists one crawled page. first_seen_at carries over from the
// prior run when the logical page was already known.
func (s *Store) InsertPage(ctx context.Context, p model.Page) (model.Page, error) {
	headings, err := jsonbValue(p.Headings)
	if err != nil {
		return model.Page{}, err
	}

	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO pages (site_id, crawl_job_id, url, title, description, headings,
			category, relevance_score, depth, content_hash, status, first_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			COALESCE($12, now()))
		 RETURNING `+pageColumns,
		p.SiteID, p.CrawlJobID, p.URL, nullString(p.Title), nullString(p.Description),
		headings, p.Category, p.RelevanceScore, p.Depth, p.ContentHash, string(p.Status),
		nullTime(firstSeen(p)))
	return scanPage(row)
}

func firstSeen(p model.Page) *time.Time {
	if p.FirstSeenAt.IsZero() {
		return nil
	}
	t := p.FirstSeenAt
	return &t
}

// ListPages returns all pages of a job, relevance first.
func (s *Store) ListPages(ctx context.Context, jobID int64) ([]model.Page, error) {
	return s.queryPages(ctx,
		`SELECT `+pageColumns+` FROM pages
		 WHERE crawl_job_id = $1 ORDER BY relevance_score DESC, id ASC`, jobID)
}

// ListPagesAfter returns pages of a job with id greater than cursor, in id
// order. This is the progress-stream replay query.
func (s *Store) ListPagesAfter(ctx context.Context, jobID, cursor int64) ([]model.Page, error) {
	return s.queryPages(ctx,
		`SELECT `+pageColumns+` FROM pages
		 WHERE crawl_job_id = $1 AND id > $2 ORDER BY id ASC`, jobID, cursor)
}

func (s *Store) queryPages(ctx context.Context, query string, args ...any) ([]model.Page, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// PriorPageState is the per-URL baseline loaded from the last successful
// crawl for change detection.
type PriorPageState struct {
	ContentHash string
	FirstSeenAt time.Time
}

// PriorPageStates maps url -> state for the given job.
func (s *Store) PriorPageStates(ctx context.Context, jobID int64) (map[string]PriorPageState, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT url, content_hash, first_seen_at FROM pages
		 WHERE crawl_job_id = $1 AND status <> 'removed'`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]PriorPageState)
	for rows.Next() {
		var url string
		var st PriorPageState
		if err := rows.Scan(&url, &st.ContentHash, &st.FirstSeenAt); err != nil {
			return nil, err
		}
		states[url] = st
	}
	return states, rows.Err()
}
