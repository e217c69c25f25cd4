// Package reconciler decides, for one device, which history reports are
// pushed to the tracker.
package reconciler

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/BearBump/TrackBridge/internal/integrations/history"
	"github.com/BearBump/TrackBridge/internal/models"
	"github.com/BearBump/TrackBridge/internal/services/freshness"
	"github.com/pkg/errors"
)

type Forwarder interface {
	Push(ctx context.Context, deviceKey string, r models.LocationReport) models.PushResult
}

// PushObserver is told about every push attempt (metrics, audit).
type PushObserver func(ctx context.Context, dev models.Device, r models.LocationReport, res models.PushResult)

type Reconciler struct {
	fwd     Forwarder
	observe PushObserver
}

func New(fwd Forwarder) *Reconciler {
	return &Reconciler{fwd: fwd}
}

func (r *Reconciler) WithObserver(o PushObserver) *Reconciler {
	r.observe = o
	return r
}

type Result struct {
	Reports []models.ReportResult
	// Halted is set when a rejection stopped the remaining reports.
	Halted bool
}

// Reconcile fetches the device history, classifies every report against
// known and pushes NEW ones oldest first. A rejected push stops the device;
// a transport error only skips that report. The returned error is a fetch
// failure; push failures are reported in Result.
func (r *Reconciler) Reconcile(ctx context.Context, dev models.Device, key history.Key, known *time.Time, sess history.Session) (Result, error) {
	reports, err := sess.FetchLocationHistory(ctx, key)
	if err != nil {
		return Result{}, errors.Wrap(err, "fetch location history")
	}

	SortReports(reports)

	res := Result{Reports: make([]models.ReportResult, 0, len(reports))}
	for _, rep := range reports {
		status := freshness.Classify(rep.Timestamp, known)
		slog.Info("history report",
			"device", dev.ID, "unique_id", dev.UniqueID,
			"timestamp", formatTS(rep.Timestamp), "status", status)

		rr := models.ReportResult{Report: rep, Status: status}
		if status != models.FreshnessNew {
			res.Reports = append(res.Reports, rr)
			continue
		}

		pr := r.fwd.Push(ctx, dev.UniqueID, rep)
		rr.Push = &pr
		res.Reports = append(res.Reports, rr)
		logPush(dev, rep, pr)
		if r.observe != nil {
			r.observe(ctx, dev, rep, pr)
		}

		if pr.Outcome == models.PushRejected {
			res.Halted = true
			break
		}
	}
	return res, nil
}

// SortReports orders reports by timestamp ascending. Reports without a
// timestamp go first; the sort is stable.
func SortReports(reports []models.LocationReport) {
	slices.SortStableFunc(reports, func(a, b models.LocationReport) int {
		switch {
		case a.Timestamp == nil && b.Timestamp == nil:
			return 0
		case a.Timestamp == nil:
			return -1
		case b.Timestamp == nil:
			return 1
		}
		return a.Timestamp.Compare(*b.Timestamp)
	})
}

func logPush(dev models.Device, rep models.LocationReport, pr models.PushResult) {
	attrs := []any{
		"device", dev.ID, "unique_id", dev.UniqueID,
		"timestamp", formatTS(rep.Timestamp), "outcome", pr.Outcome,
	}
	switch pr.Outcome {
	case models.PushOK:
		slog.Info("push", append(attrs, "http_status", pr.HTTPStatus)...)
	case models.PushRejected:
		slog.Warn("push rejected", append(attrs, "http_status", pr.HTTPStatus, "body", pr.Body, "report", rep)...)
	default:
		errText := ""
		if pr.Err != nil {
			errText = pr.Err.Error()
		}
		slog.Error("push failed", append(attrs, "error", errText, "report", rep)...)
	}
}

func formatTS(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.UTC().Format(time.RFC3339)
}
