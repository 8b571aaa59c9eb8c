package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"

	"llmstxt/internal/model"
)

const fileColumns = `id, site_id, crawl_job_id, content, content_hash, is_edited, created_at`

// HashContent returns the hex SHA-256 of a document body.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func scanFile(row interface{ Scan(...any) error }) (model.GeneratedFile, error) {
	var f model.GeneratedFile
	var jobID sql.NullInt64
	err := row.Scan(&f.ID, &f.SiteID, &jobID, &f.Content, &f.ContentHash, &f.IsEdited, &f.CreatedAt)
	if err != nil {
		return model.GeneratedFile{}, err
	}
	f.CrawlJobID = int64Ptr(jobID)
	return f, nil
}

// InsertGeneratedFile appends a new document version for a site.
func (s *Store) InsertGeneratedFile(ctx context.Context, siteID int64, jobID *int64, content string) (model.GeneratedFile, error) {
	var job sql.NullInt64
	if jobID != nil {
		job = sql.NullInt64{Int64: *jobID, Valid: true}
	}
	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO generated_files (site_id, crawl_job_id, content, content_hash)
		 VALUES ($1, $2, $3, $4) RETURNING `+fileColumns,
		siteID, job, content, HashContent(content))
	return scanFile(row)
}

// CurrentGeneratedFile returns the newest document version for a site.
func (s *Store) CurrentGeneratedFile(ctx context.Context, siteID int64) (model.GeneratedFile, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM generated_files
		 WHERE site_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, siteID)
	f, err := scanFile(row)
	return f, mapNotFound(err)
}

// UpdateGeneratedFile replaces the content of the current version after a
// manual edit, marking it edited and rehashing.
func (s *Store) UpdateGeneratedFile(ctx context.Context, id int64, content string) (model.GeneratedFile, error) {
	row := s.DB.QueryRowContext(ctx,
		`UPDATE generated_files
		 SET content = $2, content_hash = $3, is_edited = TRUE
		 WHERE id = $1 RETURNING `+fileColumns,
		id, content, HashContent(content))
	f, err := scanFile(row)
	return f, mapNotFound(err)
}

// GeneratedFileHistory returns up to limit versions, newest first.
func (s *Store) GeneratedFileHistory(ctx context.Context, siteID int64, limit int) ([]model.GeneratedFile, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM generated_files
		 WHERE site_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []model.GeneratedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
