package pgrunlog

import (
	"context"
	"time"

	"github.com/BearBump/TrackBridge/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) StartRun(ctx context.Context, run models.RunSummary) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO sync_runs (id, started_at)
VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING
`, run.ID, run.StartedAt.UTC())
	return errors.Wrap(err, "insert run")
}

func (s *Storage) FinishRun(ctx context.Context, run models.RunSummary) error {
	_, err := s.db.Exec(ctx, `
UPDATE sync_runs
SET
  finished_at = $2,
  devices = $3,
  devices_failed = $4,
  reports_new = $5,
  reports_stale = $6,
  reports_no_report = $7,
  pushed_ok = $8,
  pushed_rejected = $9,
  pushed_error = $10,
  error = $11
WHERE id = $1
`, run.ID, run.FinishedAt.UTC(), run.Devices, run.DevicesFailed,
		run.ReportsNew, run.ReportsStale, run.ReportsNoReport,
		run.PushedOK, run.PushedRejected, run.PushedError, run.Error)
	return errors.Wrap(err, "update run")
}

func (s *Storage) RecordPush(ctx context.Context, rec models.PushRecord) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO push_attempts (
  run_id, device_id, unique_id, fix_time, outcome, http_status, detail, attempted_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, rec.RunID, rec.DeviceID, rec.UniqueID, rec.FixTime.UTC(), rec.Outcome, rec.HTTPStatus, rec.Detail, rec.AttemptedAt.UTC())
	return errors.Wrap(err, "insert push attempt")
}

func (s *Storage) GetRun(ctx context.Context, id string) (*models.RunSummary, error) {
	var r models.RunSummary
	var finished *time.Time
	err := s.db.QueryRow(ctx, `
SELECT
  id, started_at, finished_at,
  devices, devices_failed,
  reports_new, reports_stale, reports_no_report,
  pushed_ok, pushed_rejected, pushed_error, error
FROM sync_runs
WHERE id = $1
`, id).Scan(
		&r.ID, &r.StartedAt, &finished,
		&r.Devices, &r.DevicesFailed,
		&r.ReportsNew, &r.ReportsStale, &r.ReportsNoReport,
		&r.PushedOK, &r.PushedRejected, &r.PushedError, &r.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select run")
	}
	if finished != nil {
		r.FinishedAt = *finished
	}
	return &r, nil
}

func (s *Storage) ListPushes(ctx context.Context, deviceID int64, limit int) ([]*models.PushRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT run_id, device_id, unique_id, fix_time, outcome, http_status, detail, attempted_at
FROM push_attempts
WHERE device_id = $1
ORDER BY fix_time DESC, id DESC
LIMIT $2
`, deviceID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select push attempts")
	}
	defer rows.Close()

	var out []*models.PushRecord
	for rows.Next() {
		var p models.PushRecord
		if err := rows.Scan(
			&p.RunID, &p.DeviceID, &p.UniqueID, &p.FixTime,
			&p.Outcome, &p.HTTPStatus, &p.Detail, &p.AttemptedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan push attempt")
		}
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
