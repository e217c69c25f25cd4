package messages

import "time"

// FixForwarded is published once per push attempt.
type FixForwarded struct {
	RunID     string    `json:"run_id"`
	DeviceID  int64     `json:"device_id"`
	UniqueID  string    `json:"unique_id"`
	FixTime   time.Time `json:"fix_time"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`

	Outcome    string  `json:"outcome"`
	HTTPStatus int     `json:"http_status,omitempty"`
	Error      *string `json:"error,omitempty"`

	AttemptedAt time.Time `json:"attempted_at"`
}
