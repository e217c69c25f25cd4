// Package posindex builds the latest known fix per tracker device.
package posindex

import (
	"encoding/json"
	"time"

	"github.com/BearBump/TrackBridge/internal/models"
	"github.com/pkg/errors"
)

// RawPosition is a tracker position as returned by /api/positions.
type RawPosition struct {
	DeviceID int64   `json:"deviceId"`
	FixTime  FixTime `json:"fixTime"`
}

// Index maps a device id to the newest fix timestamp seen for it.
type Index map[int64]time.Time

// Build keeps the maximum fix time per device, whatever the input order.
func Build(positions []models.Position) Index {
	idx := make(Index, len(positions))
	for _, p := range positions {
		cur, ok := idx[p.DeviceID]
		if !ok || p.FixTime.After(cur) {
			idx[p.DeviceID] = p.FixTime
		}
	}
	return idx
}

// Latest returns the known fix for a device, nil when the tracker has none.
func (idx Index) Latest(deviceID int64) *time.Time {
	t, ok := idx[deviceID]
	if !ok {
		return nil
	}
	return &t
}

// DecodePositions decodes a raw /api/positions payload. A single malformed
// fixTime fails the whole payload.
func DecodePositions(data []byte) ([]models.Position, error) {
	var raw []RawPosition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode positions")
	}
	out := make([]models.Position, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.Position{DeviceID: r.DeviceID, FixTime: r.FixTime.Time})
	}
	return out, nil
}
