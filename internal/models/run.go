package models

import "time"

// RunSummary aggregates one reconciliation run.
type RunSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time

	Devices       int
	DevicesFailed int

	ReportsNew      int
	ReportsStale    int
	ReportsNoReport int

	PushedOK       int
	PushedRejected int
	PushedError    int

	Error *string
}

// PushRecord is one push attempt as kept in the journal.
type PushRecord struct {
	RunID       string
	DeviceID    int64
	UniqueID    string
	FixTime     time.Time
	Outcome     string
	HTTPStatus  int
	Detail      string
	AttemptedAt time.Time
}
