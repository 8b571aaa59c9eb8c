package store

import (
	"context"
	"database/sql"

	"llmstxt/internal/model"
)

const siteColumns = `id, url, domain, title, description, created_at, updated_at`

func scanSite(row interface{ Scan(...any) error }) (model.Site, error) {
	var s model.Site
	var title, desc sql.NullString
	err := row.Scan(&s.ID, &s.URL, &s.Domain, &title, &desc, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Site{}, err
	}
	s.Title = stringPtr(title)
	s.Description = stringPtr(desc)
	return s, nil
}

// CreateSite inserts a site row for a normalized URL.
func (s *Store) CreateSite(ctx context.Context, url, domain string) (model.Site, error) {
	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO sites (url, domain) VALUES ($1, $2) RETURNING `+siteColumns, url, domain)
	return scanSite(row)
}

// GetSite fetches a site by id.
func (s *Store) GetSite(ctx context.Context, id int64) (model.Site, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id)
	site, err := scanSite(row)
	return site, mapNotFound(err)
}

// GetSiteByURL fetches a site by its normalized URL.
func (s *Store) GetSiteByURL(ctx context.Context, url string) (model.Site, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE url = $1`, url)
	site, err := scanSite(row)
	return site, mapNotFound(err)
}

// ListSites returns all sites, newest first.
func (s *Store) ListSites(ctx context.Context) ([]model.Site, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// UpdateSiteMetadata sets title/description learned from the root page.
// Nil fields are left untouched.
func (s *Store) UpdateSiteMetadata(ctx context.Context, id int64, title, description *string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sites SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			updated_at = now()
		 WHERE id = $1`,
		id, nullString(title), nullString(description))
	return err
}

// DeleteSite removes a site; dependent jobs, tasks, pages, files and
// schedules go with it via ON DELETE CASCADE.
func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SiteExists reports whether the site row is still present. The worker
// uses this as its cancellation check between fetches.
func (s *Store) SiteExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sites WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}
