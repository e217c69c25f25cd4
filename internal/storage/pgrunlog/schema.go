package pgrunlog

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS sync_runs (
  id TEXT PRIMARY KEY,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NULL,
  devices INT NOT NULL DEFAULT 0,
  devices_failed INT NOT NULL DEFAULT 0,
  reports_new INT NOT NULL DEFAULT 0,
  reports_stale INT NOT NULL DEFAULT 0,
  reports_no_report INT NOT NULL DEFAULT 0,
  pushed_ok INT NOT NULL DEFAULT 0,
  pushed_rejected INT NOT NULL DEFAULT 0,
  pushed_error INT NOT NULL DEFAULT 0,
  error TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS push_attempts (
  id BIGSERIAL PRIMARY KEY,
  run_id TEXT NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
  device_id BIGINT NOT NULL,
  unique_id TEXT NOT NULL,
  fix_time TIMESTAMPTZ NOT NULL,
  outcome TEXT NOT NULL,
  http_status INT NOT NULL DEFAULT 0,
  detail TEXT NOT NULL DEFAULT '',
  attempted_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_push_attempts_device_fix ON push_attempts(device_id, fix_time DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
