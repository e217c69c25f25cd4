// Package freshness decides whether a history report is newer than the
// tracker's last known fix.
package freshness

import (
	"time"

	"github.com/BearBump/TrackBridge/internal/models"
)

// Classify labels a report timestamp against the latest known fix.
// UNKNOWN is unreachable and only guards the decision table.
func Classify(report, known *time.Time) string {
	switch {
	case report == nil:
		return models.FreshnessNoReport
	case known == nil:
		return models.FreshnessNew
	case report.After(*known):
		return models.FreshnessNew
	case !report.After(*known):
		return models.FreshnessStale
	}
	return models.FreshnessUnknown
}
