package store

import (
	"context"
	"database/sql"
	"time"

	"llmstxt/internal/model"
)

const scheduleColumns = `id, site_id, cron_expression, is_active, timezone, last_run_at, next_run_at`

func scanSchedule(row interface{ Scan(...any) error }) (model.Schedule, error) {
	var sc model.Schedule
	var last, next sql.NullTime
	err := row.Scan(&sc.ID, &sc.SiteID, &sc.CronExpression, &sc.IsActive, &sc.Timezone, &last, &next)
	if err != nil {
		return model.Schedule{}, err
	}
	sc.LastRunAt = timePtr(last)
	sc.NextRunAt = timePtr(next)
	return sc, nil
}

// UpsertSchedule creates or replaces the single schedule of a site.
func (s *Store) UpsertSchedule(ctx context.Context, siteID int64, cronExpr, timezone string, active bool, nextRunAt *time.Time) (model.Schedule, error) {
	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO schedules (site_id, cron_expression, timezone, is_active, next_run_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (site_id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			timezone = EXCLUDED.timezone,
			is_active = EXCLUDED.is_active,
			next_run_at = EXCLUDED.next_run_at
		 RETURNING `+scheduleColumns,
		siteID, cronExpr, timezone, active, nullTime(nextRunAt))
	return scanSchedule(row)
}

// GetSchedule fetches the schedule of a site.
func (s *Store) GetSchedule(ctx context.Context, siteID int64) (model.Schedule, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE site_id = $1`, siteID)
	sc, err := scanSchedule(row)
	return sc, mapNotFound(err)
}

// DeleteSchedule removes the schedule of a site.
func (s *Store) DeleteSchedule(ctx context.Context, siteID int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE site_id = $1`, siteID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DueSchedules returns active schedules whose next_run_at has passed.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE is_active AND next_run_at IS NOT NULL AND next_run_at <= $1
		 ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// AdvanceSchedule moves the firing window forward after an enqueue.
func (s *Store) AdvanceSchedule(ctx context.Context, id int64, lastRun, nextRun time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = $2, next_run_at = $3 WHERE id = $1`,
		id, lastRun, nextRun)
	return err
}
