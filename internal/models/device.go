package models

import "time"

// Device is a tracker-side device. UniqueID doubles as the sink device key
// and as the input for the history lookup key.
type Device struct {
	ID       int64  `json:"id"`
	UniqueID string `json:"uniqueId"`
	Name     string `json:"name,omitempty"`
}

// Position is a single fix known to the tracker.
type Position struct {
	DeviceID int64
	FixTime  time.Time
}
