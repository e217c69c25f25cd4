package models

import (
	"log/slog"
	"time"
)

// Статусы свежести отчёта относительно последней позиции трекера.
const (
	FreshnessNew      = "NEW"
	FreshnessStale    = "STALE"
	FreshnessNoReport = "NO_REPORT"
	FreshnessUnknown  = "UNKNOWN"
)

// Исход отправки отчёта в sink.
const (
	PushOK       = "PUSHED_OK"
	PushRejected = "PUSHED_REJECTED"
	PushError    = "PUSHED_ERROR"
)

// LocationReport is one history report. A nil field means the provider did
// not supply that attribute.
type LocationReport struct {
	Timestamp          *time.Time `json:"timestamp,omitempty"`
	Latitude           *float64   `json:"latitude,omitempty"`
	Longitude          *float64   `json:"longitude,omitempty"`
	Accuracy           *float64   `json:"accuracy,omitempty"`
	Confidence         *int       `json:"confidence,omitempty"`
	HorizontalAccuracy *float64   `json:"horizontal_accuracy,omitempty"`
	Status             *int       `json:"status,omitempty"`
}

// LogValue renders only the attributes that are present.
func (r LocationReport) LogValue() slog.Value {
	var attrs []slog.Attr
	if r.Timestamp != nil {
		attrs = append(attrs, slog.Time("timestamp", *r.Timestamp))
	}
	if r.Latitude != nil {
		attrs = append(attrs, slog.Float64("lat", *r.Latitude))
	}
	if r.Longitude != nil {
		attrs = append(attrs, slog.Float64("lon", *r.Longitude))
	}
	if r.Accuracy != nil {
		attrs = append(attrs, slog.Float64("accuracy", *r.Accuracy))
	}
	if r.Confidence != nil {
		attrs = append(attrs, slog.Int("confidence", *r.Confidence))
	}
	if r.HorizontalAccuracy != nil {
		attrs = append(attrs, slog.Float64("horizontal_accuracy", *r.HorizontalAccuracy))
	}
	if r.Status != nil {
		attrs = append(attrs, slog.Int("status", *r.Status))
	}
	return slog.GroupValue(attrs...)
}

type PushResult struct {
	Outcome    string
	HTTPStatus int
	Body       string
	Err        error
}

// ReportResult is what the reconciler decided for one report.
type ReportResult struct {
	Report LocationReport
	Status string
	Push   *PushResult
}
