// Package history describes the independent location-history collaborator.
// Concrete providers live in subpackages.
package history

import (
	"context"

	"github.com/BearBump/TrackBridge/internal/models"
)

// Session is an authenticated history context. It may mutate itself during
// calls (token refresh); State captures whatever must be persisted.
type Session interface {
	AccountName() string
	FetchLocationHistory(ctx context.Context, key Key) ([]models.LocationReport, error)
	State() ([]byte, error)
}

// Provider restores a session from persisted state, or creates one when
// state is empty.
type Provider interface {
	Login(ctx context.Context, state []byte) (Session, error)
}
